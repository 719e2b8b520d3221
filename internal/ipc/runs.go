package ipc

import (
	"errors"
	"net/http"

	"github.com/evolab/evolab/internal/domain"
	"github.com/evolab/evolab/internal/store"
)

// StartRunRequest is the body for POST /api/v1/sessions/{sessionID}/run.
type StartRunRequest struct {
	ProblemID  string                      `json:"problemId"`
	Parameters *domain.EvolutionParameters `json:"parameters"`
}

// CurrentRunResponse reports a session's active run. Run is null when idle.
type CurrentRunResponse struct {
	SessionID string               `json:"sessionId"`
	State     domain.RunState      `json:"status"`
	Run       *domain.EvolutionRun `json:"run"`
}

// FailRunRequest is the body for POST /api/v1/runs/{runID}/fail.
type FailRunRequest struct {
	Message string `json:"message"`
}

// StartRun handles POST /api/v1/sessions/{sessionID}/run. Omitted parameters
// default to the dashboard's initial values.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProblemID == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: domain.ErrValidation.Code, Message: "problemId is required"})
		return
	}
	params := domain.DefaultParameters()
	if req.Parameters != nil {
		params = *req.Parameters
	}
	run, err := h.Controller.Start(r.Context(), r.PathValue("sessionID"), req.ProblemID, params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

// CurrentRun handles GET /api/v1/sessions/{sessionID}/run.
func (h *Handler) CurrentRun(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	run, err := h.Controller.Current(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := CurrentRunResponse{SessionID: sessionID, State: domain.StateIdle, Run: run}
	if run != nil {
		resp.State = run.Status.State
	}
	writeJSON(w, http.StatusOK, resp)
}

// PauseRun handles POST /api/v1/sessions/{sessionID}/run/pause.
func (h *Handler) PauseRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Controller.Pause(r.Context(), r.PathValue("sessionID"))
	h.writeRun(w, r, run, err)
}

// ResumeRun handles POST /api/v1/sessions/{sessionID}/run/resume.
func (h *Handler) ResumeRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Controller.Resume(r.Context(), r.PathValue("sessionID"))
	h.writeRun(w, r, run, err)
}

// StopRun handles POST /api/v1/sessions/{sessionID}/run/stop.
func (h *Handler) StopRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Controller.Stop(r.Context(), r.PathValue("sessionID"))
	h.writeRun(w, r, run, err)
}

// ListRuns handles GET /api/v1/runs?session=&problem=&status=&limit=.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	runs, err := h.Query.Runs(r.Context(), store.RunFilter{
		SessionID: q.Get("session"),
		ProblemID: q.Get("problem"),
		State:     domain.RunState(q.Get("status")),
		Limit:     int(limit),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /api/v1/runs/{runID}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Query.Run(r.Context(), r.PathValue("runID"))
	h.writeRun(w, r, run, err)
}

// ListIndividuals handles GET /api/v1/runs/{runID}/individuals?generation=N.
func (h *Handler) ListIndividuals(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("generation") == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: domain.ErrValidation.Code, Message: "generation is required"})
		return
	}
	generation, err := queryInt(r, "generation", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	individuals, err := h.Query.IndividualsByGeneration(r.Context(), r.PathValue("runID"), int(generation))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, individuals)
}

// BestIndividual handles GET /api/v1/runs/{runID}/best. The body is null
// when the run has no individuals yet.
func (h *Handler) BestIndividual(w http.ResponseWriter, r *http.Request) {
	best, err := h.Query.BestIndividual(r.Context(), r.PathValue("runID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, best)
}

// ListMetrics handles GET /api/v1/runs/{runID}/metrics.
func (h *Handler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.Query.RunMetrics(r.Context(), r.PathValue("runID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// ListLogs handles GET /api/v1/runs/{runID}/logs?since_seq=N.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	since, err := queryInt(r, "since_seq", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logs, err := h.Query.RunLogs(r.Context(), r.PathValue("runID"), since)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// ListSnapshots handles GET /api/v1/runs/{runID}/snapshots.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.Query.Snapshots(r.Context(), r.PathValue("runID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// RecordGeneration handles POST /api/v1/runs/{runID}/generations, the
// callback of an external engine.
func (h *Handler) RecordGeneration(w http.ResponseWriter, r *http.Request) {
	var report domain.GenerationReport
	if !decodeBody(w, r, &report) {
		return
	}
	run, err := h.Controller.RecordGeneration(r.Context(), r.PathValue("runID"), report)
	h.writeRun(w, r, run, err)
}

// FailRun handles POST /api/v1/runs/{runID}/fail.
func (h *Handler) FailRun(w http.ResponseWriter, r *http.Request) {
	var req FailRunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	run, err := h.Controller.Fail(r.Context(), r.PathValue("runID"), errors.New(req.Message))
	h.writeRun(w, r, run, err)
}

// GetIndividual handles GET /api/v1/individuals/{individualID}.
func (h *Handler) GetIndividual(w http.ResponseWriter, r *http.Request) {
	ind, err := h.Query.Individual(r.Context(), r.PathValue("individualID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ind)
}

// GetLineage handles GET /api/v1/individuals/{individualID}/lineage.
func (h *Handler) GetLineage(w http.ResponseWriter, r *http.Request) {
	chain, err := h.Query.Lineage(r.Context(), r.PathValue("individualID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (h *Handler) writeRun(w http.ResponseWriter, r *http.Request, run *domain.EvolutionRun, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
