package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-lease/internal/core"
)

// TaskHandler serves the external task endpoints used by the engine and by
// workers.
type TaskHandler struct {
	backend core.Backend
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(backend core.Backend) *TaskHandler {
	return &TaskHandler{backend: backend}
}

type enqueueRequest struct {
	Topic                string           `json:"topic"`
	HandlerConfiguration string           `json:"handler_configuration,omitempty"`
	Payload              map[string]any   `json:"payload,omitempty"`
	Correlation          core.Correlation `json:"correlation"`
	Retries              *int             `json:"retries,omitempty"`
	Priority             int64            `json:"priority,omitempty"`
}

type fetchTopic struct {
	TopicName          string `json:"topic_name"`
	LockDuration       string `json:"lock_duration"`
	RetryCountOverride *int   `json:"retry_count_override,omitempty"`
}

type fetchRequest struct {
	WorkerID    string       `json:"worker_id"`
	MaxTasks    int          `json:"max_tasks"`
	UsePriority bool         `json:"use_priority"`
	Topics      []fetchTopic `json:"topics"`
}

type completeRequest struct {
	WorkerID  string         `json:"worker_id"`
	Variables map[string]any `json:"variables,omitempty"`
}

type failureRequest struct {
	WorkerID     string  `json:"worker_id"`
	Retries      *int    `json:"retries"`
	RetryTimeout string  `json:"retry_timeout,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	ErrorDetails *string `json:"error_details,omitempty"`
}

type bpmnErrorRequest struct {
	WorkerID     string         `json:"worker_id"`
	ErrorCode    string         `json:"error_code"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Variables    map[string]any `json:"variables,omitempty"`
}

type extendLockRequest struct {
	WorkerID    string `json:"worker_id"`
	NewDuration string `json:"new_duration"`
}

type retriesRequest struct {
	Retries *int `json:"retries"`
}

// TaskResponse acknowledges a state change of one job.
type TaskResponse struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
}

// Create handles POST /ojs/v1/external-tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}

	id, err := h.backend.Enqueue(r.Context(), &core.EnqueueRequest{
		Topic:                req.Topic,
		HandlerConfiguration: req.HandlerConfiguration,
		Payload:              req.Payload,
		Correlation:          req.Correlation,
		Retries:              req.Retries,
		Priority:             req.Priority,
	})
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Location", "/ojs/v1/external-tasks/"+id)
	WriteJSON(w, http.StatusCreated, TaskResponse{JobID: id, State: "available"})
}

// Get handles GET /ojs/v1/external-tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.backend.GetJob(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	resp := map[string]any{"job": job}
	if job.HasExceptionDetail {
		detail, err := h.backend.GetErrorDetail(r.Context(), id)
		if err != nil {
			HandleError(w, err)
			return
		}
		resp["error_details"] = detail
	}
	WriteJSON(w, http.StatusOK, resp)
}

// FetchAndLock handles POST /ojs/v1/external-tasks/fetch-and-lock.
func (h *TaskHandler) FetchAndLock(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}

	fetch := &core.FetchRequest{
		WorkerID:    req.WorkerID,
		MaxCount:    req.MaxTasks,
		UsePriority: req.UsePriority,
		Topics:      make([]core.TopicRequest, 0, len(req.Topics)),
	}
	for i, t := range req.Topics {
		d, err := core.ParseISO8601Duration(t.LockDuration)
		if err != nil {
			WriteError(w, http.StatusBadRequest, core.NewValidationError(err.Error(), map[string]any{
				"field": "lock_duration",
				"index": i,
			}))
			return
		}
		fetch.Topics = append(fetch.Topics, core.TopicRequest{
			Topic:              t.TopicName,
			LeaseDuration:      d,
			RetryCountOverride: t.RetryCountOverride,
		})
	}

	jobs, err := h.backend.FetchAndLock(r.Context(), fetch)
	if err != nil {
		HandleError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*core.AcquiredJob{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// Complete handles POST /ojs/v1/external-tasks/{id}/complete.
func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.backend.Complete(r.Context(), id, req.WorkerID, req.Variables); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, TaskResponse{JobID: id, State: "completed"})
}

// Failure handles POST /ojs/v1/external-tasks/{id}/failure.
func (h *TaskHandler) Failure(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req failureRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}
	if req.Retries == nil {
		WriteError(w, http.StatusBadRequest, core.NewValidationError("retries is required", map[string]any{"field": "retries"}))
		return
	}

	fail := &core.FailRequest{
		JobID:        id,
		WorkerID:     req.WorkerID,
		Retries:      *req.Retries,
		ErrorMessage: req.ErrorMessage,
		ErrorDetail:  req.ErrorDetails,
	}
	if req.RetryTimeout != "" {
		d, err := core.ParseISO8601Duration(req.RetryTimeout)
		if err != nil {
			WriteError(w, http.StatusBadRequest, core.NewValidationError(err.Error(), map[string]any{"field": "retry_timeout"}))
			return
		}
		fail.Backoff = &d
	}

	if err := h.backend.Fail(r.Context(), fail); err != nil {
		HandleError(w, err)
		return
	}
	state := "retryable"
	if fail.Retries == 0 {
		state = "dead_lettered"
	}
	WriteJSON(w, http.StatusOK, TaskResponse{JobID: id, State: state})
}

// BpmnError handles POST /ojs/v1/external-tasks/{id}/bpmn-error.
func (h *TaskHandler) BpmnError(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req bpmnErrorRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.backend.BpmnError(r.Context(), id, req.WorkerID, req.ErrorCode, req.ErrorMessage, req.Variables); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, TaskResponse{JobID: id, State: "bpmn_error"})
}

// ExtendLock handles POST /ojs/v1/external-tasks/{id}/extend-lock.
func (h *TaskHandler) ExtendLock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req extendLockRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}
	d, err := core.ParseISO8601Duration(req.NewDuration)
	if err != nil {
		WriteError(w, http.StatusBadRequest, core.NewValidationError(err.Error(), map[string]any{"field": "new_duration"}))
		return
	}

	if err := h.backend.ExtendLock(r.Context(), id, req.WorkerID, d); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, TaskResponse{JobID: id, State: "active"})
}

// Unlock handles POST /ojs/v1/external-tasks/{id}/unlock.
func (h *TaskHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.backend.Unlock(r.Context(), id); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, TaskResponse{JobID: id, State: "available"})
}

// SetRetries handles PUT /ojs/v1/external-tasks/{id}/retries.
func (h *TaskHandler) SetRetries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req retriesRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}
	if req.Retries == nil {
		WriteError(w, http.StatusBadRequest, core.NewValidationError("retries is required", map[string]any{"field": "retries"}))
		return
	}

	if err := h.backend.SetRetries(r.Context(), id, *req.Retries); err != nil {
		HandleError(w, err)
		return
	}
	state := "available"
	if *req.Retries == 0 {
		state = "dead_lettered"
	}
	WriteJSON(w, http.StatusOK, TaskResponse{JobID: id, State: state})
}
