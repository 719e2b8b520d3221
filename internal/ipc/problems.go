package ipc

import (
	"net/http"
	"strings"

	"github.com/evolab/evolab/internal/catalog"
	"github.com/evolab/evolab/internal/domain"
)

// ListProblems handles GET /api/v1/problems?search=&tags=a,b&difficulty=&sort=.
func (h *Handler) ListProblems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := catalog.Filter{
		Search:     q.Get("search"),
		Difficulty: domain.Difficulty(q.Get("difficulty")),
		Sort:       catalog.SortOrder(q.Get("sort")),
	}
	if tags := q.Get("tags"); tags != "" {
		f.Tags = strings.Split(tags, ",")
	}
	problems, err := h.Catalog.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, problems)
}

// ListTags handles GET /api/v1/problems/tags.
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.Catalog.Tags(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

// CreateProblem handles POST /api/v1/problems.
func (h *Handler) CreateProblem(w http.ResponseWriter, r *http.Request) {
	var p domain.Problem
	if !decodeBody(w, r, &p) {
		return
	}
	created, err := h.Catalog.Add(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetProblem handles GET /api/v1/problems/{problemID}.
func (h *Handler) GetProblem(w http.ResponseWriter, r *http.Request) {
	p, err := h.Catalog.Get(r.Context(), r.PathValue("problemID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdateProblem handles PUT /api/v1/problems/{problemID}.
func (h *Handler) UpdateProblem(w http.ResponseWriter, r *http.Request) {
	var p domain.Problem
	if !decodeBody(w, r, &p) {
		return
	}
	p.ID = r.PathValue("problemID")
	updated, err := h.Catalog.Update(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteProblem handles DELETE /api/v1/problems/{problemID}.
func (h *Handler) DeleteProblem(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.Delete(r.Context(), r.PathValue("problemID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
