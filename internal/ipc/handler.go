// Package ipc provides the evolab HTTP API.
package ipc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/evolab/evolab/internal/catalog"
	"github.com/evolab/evolab/internal/domain"
	"github.com/evolab/evolab/internal/importer"
	"github.com/evolab/evolab/internal/population"
	"github.com/evolab/evolab/internal/workflow"
)

const defaultStreamInterval = 2 * time.Second

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Controller *workflow.Controller
	Catalog    *catalog.Catalog
	Query      *population.Query
	Importer   *importer.Importer
	Logger     *slog.Logger
	// StreamInterval is the poll period of the log stream.
	StreamInterval time.Duration
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.DB.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Dashboard handles GET /api/v1/dashboard.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Query.Dashboard(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ImportRequest is the body for POST /api/v1/import.
type ImportRequest struct {
	URL string `json:"url"`
}

// ImportResponse carries the imported files and the rendered prompt.
type ImportResponse struct {
	Files  []importer.File `json:"files"`
	Prompt string          `json:"prompt"`
}

// Import handles POST /api/v1/import.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: domain.ErrValidation.Code, Message: "url is required"})
		return
	}
	files, err := h.Importer.FromGitHub(r.Context(), req.URL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{Files: files, Prompt: importer.ToPrompt(files)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: domain.ErrValidation.Code, Message: "invalid request body"})
		return false
	}
	return true
}

// statusFor maps an error code to an HTTP status.
func statusFor(code int) int {
	switch code {
	case domain.ErrValidation.Code, domain.ErrImportSource.Code:
		return http.StatusBadRequest
	case domain.ErrRunNotFound.Code, domain.ErrProblemNotFound.Code, domain.ErrIndividualNotFound.Code:
		return http.StatusNotFound
	case domain.ErrInvalidState.Code, domain.ErrOptimisticLock.Code,
		domain.ErrDuplicateProblem.Code, domain.ErrProblemInUse.Code:
		return http.StatusConflict
	case domain.ErrImportTooLarge.Code:
		return http.StatusRequestEntityTooLarge
	case domain.ErrImportFetch.Code:
		return http.StatusBadGateway
	case domain.ErrEngineUnavailable.Code:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var derr *domain.Error
	if errors.As(err, &derr) {
		status := statusFor(derr.Code)
		if status == http.StatusInternalServerError {
			h.logger().Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		}
		writeJSON(w, status, APIError{Code: derr.Code, Message: derr.Message})
		return
	}
	h.logger().Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func queryInt(r *http.Request, key string, def int64) (int64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, domain.Validationf("%s must be an integer, got %q", key, s)
	}
	return n, nil
}
