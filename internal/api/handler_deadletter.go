package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-lease/internal/core"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 1000
)

// DeadLetterHandler serves the operator endpoints for exhausted jobs.
type DeadLetterHandler struct {
	backend core.Backend
}

// NewDeadLetterHandler creates a DeadLetterHandler.
func NewDeadLetterHandler(backend core.Backend) *DeadLetterHandler {
	return &DeadLetterHandler{backend: backend}
}

// Pagination describes one page of a listing.
type Pagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// List handles GET /ojs/v1/dead-letter.
func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ojsErr := queryInt(r, "limit", defaultDeadLetterLimit)
	if ojsErr != nil {
		WriteError(w, http.StatusBadRequest, ojsErr)
		return
	}
	offset, ojsErr := queryInt(r, "offset", 0)
	if ojsErr != nil {
		WriteError(w, http.StatusBadRequest, ojsErr)
		return
	}
	if limit > maxDeadLetterLimit {
		limit = maxDeadLetterLimit
	}

	jobs, total, err := h.backend.ListDeadLetter(r.Context(), core.DeadLetterQuery{
		Topic:  r.URL.Query().Get("topic"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*core.DeadLetterJob{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":       jobs,
		"pagination": Pagination{Total: total, Limit: limit, Offset: offset},
	})
}

// Get handles GET /ojs/v1/dead-letter/{id}.
func (h *DeadLetterHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.backend.GetDeadLetter(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"job": job})
}

// Revive handles POST /ojs/v1/dead-letter/{id}/revive. The retry budget
// defaults to core.DefaultRetries.
func (h *DeadLetterHandler) Revive(w http.ResponseWriter, r *http.Request) {
	var req retriesRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}
	retries := core.DefaultRetries
	if req.Retries != nil {
		retries = *req.Retries
	}

	id, err := h.backend.ReviveFromDeadLetter(r.Context(), chi.URLParam(r, "id"), retries)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, TaskResponse{JobID: id, State: "available"})
}

// Delete handles DELETE /ojs/v1/dead-letter/{id}.
func (h *DeadLetterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.backend.DeleteDeadLetter(r.Context(), id); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, TaskResponse{JobID: id, State: "deleted"})
}

func queryInt(r *http.Request, name string, def int) (int, *core.OJSError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, core.NewInvalidRequestError(name+" must be a non-negative integer", map[string]any{
			"parameter": name,
			"value":     raw,
		})
	}
	return n, nil
}
