package api

import (
	"net/http"

	"github.com/openjobspec/ojs-lease/internal/core"
)

// SystemHandler serves health and discovery endpoints.
type SystemHandler struct {
	backend core.Backend
}

// NewSystemHandler creates a SystemHandler.
func NewSystemHandler(backend core.Backend) *SystemHandler {
	return &SystemHandler{backend: backend}
}

// Manifest handles GET /ojs/manifest.
func (h *SystemHandler) Manifest(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"specversion": core.OJSVersion,
		"implementation": map[string]any{
			"name":    core.ServiceName,
			"version": core.OJSVersion,
		},
		"capabilities": map[string]any{
			"fetch_and_lock":   true,
			"priority":         true,
			"extend_lock":      true,
			"bpmn_error":       true,
			"dead_letter":      true,
			"lifecycle_events": true,
		},
		"endpoints": map[string]any{
			"external_tasks": "/ojs/v1/external-tasks",
			"dead_letter":    "/ojs/v1/dead-letter",
			"health":         "/ojs/v1/health",
			"metrics":        "/metrics",
		},
	})
}

// Health handles GET /ojs/v1/health. A degraded store answers 503.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp, err := h.backend.Health(r.Context())
	if resp == nil {
		if err == nil {
			err = core.NewInternalError("health check returned no status")
		}
		HandleError(w, err)
		return
	}
	status := http.StatusOK
	if err != nil || resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, resp)
}
