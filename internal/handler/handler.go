// Package handler exposes the service's JSON API: mail admission, bulk
// sends, template and setting management, and pipeline diagnostics. Tenant
// scope comes from the X-Group-Key header on every route.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/server-common/hermes/internal/mail"
	"github.com/server-common/hermes/pkg/logger"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handler holds the API's collaborators.
type Handler struct {
	svc    *mail.Service
	log    *slog.Logger
	checks map[string]HealthCheck
}

// New creates the API handler. Checks are named dependency probes reported
// by the health endpoint.
func New(svc *mail.Service, log *slog.Logger, checks map[string]HealthCheck) *Handler {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &Handler{svc: svc, log: log, checks: checks}
}

// Router assembles the chi route tree with the standard middleware chain.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Recover(h.log))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(GroupKey)

		r.Route("/mail", func(r chi.Router) {
			r.Post("/", h.sendMail)
			r.Post("/template", h.sendTemplatedMail)
			r.Post("/bulk", h.sendBulkMail)
			r.Post("/bulk/template", h.sendBulkTemplatedMail)
			r.Get("/bulk/{batchID}", h.batchStatus)
			r.Get("/", h.listMails)
			r.Get("/{id}", h.getMail)
		})

		r.Get("/queue/status", h.queueStatus)

		r.Route("/templates", func(r chi.Router) {
			r.Post("/", h.createTemplate)
			r.Get("/", h.listTemplates)
			r.Get("/by-name/{name}", h.getTemplateByName)
			r.Get("/{id}", h.getTemplate)
			r.Put("/{id}", h.updateTemplate)
			r.Delete("/{id}", h.deleteTemplate)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Post("/", h.createSetting)
			r.Get("/", h.listSettings)
			r.Put("/{key}", h.updateSetting)
			r.Delete("/{id}", h.deleteSetting)
		})
	})

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	respondJSON(w, status, resp)
}
