package ipc

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Server wraps an HTTP server with evolab routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address. metrics may be
// nil, in which case /metrics is not served.
func NewServer(h *Handler, listenAddr string, metrics http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              listenAddr,
			Handler:           NewRouter(h, metrics),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// NewRouter registers every API route.
func NewRouter(h *Handler, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/dashboard", h.Dashboard)

	// Problem catalog.
	mux.HandleFunc("GET /api/v1/problems", h.ListProblems)
	mux.HandleFunc("POST /api/v1/problems", h.CreateProblem)
	mux.HandleFunc("GET /api/v1/problems/tags", h.ListTags)
	mux.HandleFunc("GET /api/v1/problems/{problemID}", h.GetProblem)
	mux.HandleFunc("PUT /api/v1/problems/{problemID}", h.UpdateProblem)
	mux.HandleFunc("DELETE /api/v1/problems/{problemID}", h.DeleteProblem)

	// Session run controls.
	mux.HandleFunc("POST /api/v1/sessions/{sessionID}/run", h.StartRun)
	mux.HandleFunc("GET /api/v1/sessions/{sessionID}/run", h.CurrentRun)
	mux.HandleFunc("POST /api/v1/sessions/{sessionID}/run/pause", h.PauseRun)
	mux.HandleFunc("POST /api/v1/sessions/{sessionID}/run/resume", h.ResumeRun)
	mux.HandleFunc("POST /api/v1/sessions/{sessionID}/run/stop", h.StopRun)

	// Run reads.
	mux.HandleFunc("GET /api/v1/runs", h.ListRuns)
	mux.HandleFunc("GET /api/v1/runs/{runID}", h.GetRun)
	mux.HandleFunc("GET /api/v1/runs/{runID}/individuals", h.ListIndividuals)
	mux.HandleFunc("GET /api/v1/runs/{runID}/best", h.BestIndividual)
	mux.HandleFunc("GET /api/v1/runs/{runID}/metrics", h.ListMetrics)
	mux.HandleFunc("GET /api/v1/runs/{runID}/logs", h.ListLogs)
	mux.HandleFunc("GET /api/v1/runs/{runID}/logs/stream", h.StreamLogs)
	mux.HandleFunc("GET /api/v1/runs/{runID}/snapshots", h.ListSnapshots)

	// Engine callbacks.
	mux.HandleFunc("POST /api/v1/runs/{runID}/generations", h.RecordGeneration)
	mux.HandleFunc("POST /api/v1/runs/{runID}/fail", h.FailRun)

	// Individuals.
	mux.HandleFunc("GET /api/v1/individuals/{individualID}", h.GetIndividual)
	mux.HandleFunc("GET /api/v1/individuals/{individualID}/lineage", h.GetLineage)

	mux.HandleFunc("POST /api/v1/import", h.Import)

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return corsMiddleware(logMiddleware(h.logger(), mux))
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for dashboard access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Last-Event-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration_ms", time.Since(start).Milliseconds())
	})
}
