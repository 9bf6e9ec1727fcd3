package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openjobspec/ojs-lease/internal/api"
	"github.com/openjobspec/ojs-lease/internal/core"
	"github.com/openjobspec/ojs-lease/internal/metrics"
)

// NewRouter creates the HTTP router with every OJS route wired to backend.
// When cfg.APIKey is set, everything except health, manifest and metrics
// requires it.
func NewRouter(backend core.Backend, cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(api.OJSHeaders)
	r.Use(api.RequestLogger)
	r.Use(api.LimitBody)
	r.Use(api.ValidateContentType)

	taskH := api.NewTaskHandler(backend)
	deadLetterH := api.NewDeadLetterHandler(backend)
	systemH := api.NewSystemHandler(backend)

	r.Get("/ojs/manifest", systemH.Manifest)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/ojs/v1", func(r chi.Router) {
		r.Get("/health", systemH.Health)

		r.Group(func(r chi.Router) {
			if cfg.APIKey != "" {
				r.Use(api.APIKeyAuth(cfg.APIKey))
			}

			r.Route("/external-tasks", func(r chi.Router) {
				r.Post("/", taskH.Create)
				r.Post("/fetch-and-lock", taskH.FetchAndLock)
				r.Get("/{id}", taskH.Get)
				r.Post("/{id}/complete", taskH.Complete)
				r.Post("/{id}/failure", taskH.Failure)
				r.Post("/{id}/bpmn-error", taskH.BpmnError)
				r.Post("/{id}/extend-lock", taskH.ExtendLock)
				r.Post("/{id}/unlock", taskH.Unlock)
				r.Put("/{id}/retries", taskH.SetRetries)
			})

			r.Route("/dead-letter", func(r chi.Router) {
				r.Get("/", deadLetterH.List)
				r.Get("/{id}", deadLetterH.Get)
				r.Post("/{id}/revive", deadLetterH.Revive)
				r.Delete("/{id}", deadLetterH.Delete)
			})
		})
	})

	return r
}
