package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/server-common/hermes/internal/domain"
	"github.com/server-common/hermes/internal/mail"
)

type templateResponse struct {
	ID          string    `json:"id"`
	GroupKey    string    `json:"groupKey"`
	Name        string    `json:"name"`
	Subject     string    `json:"subject"`
	Content     string    `json:"content"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toTemplateResponse(t *domain.Template) templateResponse {
	return templateResponse{
		ID:          t.ID,
		GroupKey:    t.GroupKey,
		Name:        t.Name,
		Subject:     t.Subject,
		Content:     t.Content,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req mail.TemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	tpl, err := h.svc.CreateTemplate(r.Context(), groupKeyFrom(r.Context()), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toTemplateResponse(tpl))
}

func (h *Handler) updateTemplate(w http.ResponseWriter, r *http.Request) {
	var req mail.TemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	tpl, err := h.svc.UpdateTemplate(r.Context(), groupKeyFrom(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toTemplateResponse(tpl))
}

func (h *Handler) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTemplate(r.Context(), groupKeyFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.svc.GetTemplate(r.Context(), groupKeyFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toTemplateResponse(tpl))
}

func (h *Handler) getTemplateByName(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.svc.GetTemplateByName(r.Context(), groupKeyFrom(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toTemplateResponse(tpl))
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.svc.ListTemplates(r.Context(), groupKeyFrom(r.Context()),
		queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	out := make([]templateResponse, 0, len(templates))
	for i := range templates {
		out = append(out, toTemplateResponse(&templates[i]))
	}
	respondJSON(w, http.StatusOK, out)
}
