package ipc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/evolab/evolab/internal/domain"
)

// StreamLogs handles GET /api/v1/runs/{runID}/logs/stream (SSE). Each event
// carries the entry's seq as its id, so a reconnecting client resumes via
// Last-Event-ID. The stream ends with an "end" event once the run is finished
// and its logs are drained.
func (h *Handler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}

	ctx := r.Context()
	if _, err := h.Query.Run(ctx, runID); err != nil {
		h.writeError(w, r, err)
		return
	}

	lastSeq, err := queryInt(r, "since_seq", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			lastSeq = n
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	interval := h.StreamInterval
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// Read the state before the logs so entries committed by the final
		// transition are never missed.
		run, err := h.Query.Run(ctx, runID)
		if err != nil {
			writeSSEError(w, flusher, err)
			return
		}
		logs, err := h.Query.RunLogs(ctx, runID, lastSeq)
		if err != nil {
			writeSSEError(w, flusher, err)
			return
		}
		for _, entry := range logs {
			writeSSEEvent(w, flusher, entry)
			lastSeq = entry.Seq
		}
		if run.Status.State.Terminal() {
			fmt.Fprintf(w, "event: end\ndata: {\"status\":%q}\n\n", run.Status.State)
			flusher.Flush()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, entry domain.LogEntry) {
	data, _ := json.Marshal(entry)
	fmt.Fprintf(w, "id: %d\ndata: %s\n\n", entry.Seq, data)
	f.Flush()
}

func writeSSEError(w http.ResponseWriter, f http.Flusher, err error) {
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
	f.Flush()
}
