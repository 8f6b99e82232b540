package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/server-common/hermes/internal/domain"
	"github.com/server-common/hermes/internal/mail"
)

type settingResponse struct {
	ID          string    `json:"id"`
	GroupKey    string    `json:"groupKey"`
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toSettingResponse(st *domain.Setting) settingResponse {
	return settingResponse{
		ID:          st.ID,
		GroupKey:    st.GroupKey,
		Key:         st.Key,
		Value:       st.Value,
		Description: st.Description,
		CreatedAt:   st.CreatedAt,
		UpdatedAt:   st.UpdatedAt,
	}
}

func (h *Handler) createSetting(w http.ResponseWriter, r *http.Request) {
	var req mail.SettingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	st, err := h.svc.CreateSetting(r.Context(), groupKeyFrom(r.Context()), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toSettingResponse(st))
}

type updateSettingRequest struct {
	Value string `json:"value"`
}

func (h *Handler) updateSetting(w http.ResponseWriter, r *http.Request) {
	var req updateSettingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	key := chi.URLParam(r, "key")
	if err := h.svc.UpdateSetting(r.Context(), groupKeyFrom(r.Context()), key, req.Value); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteSetting(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteSetting(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listSettings(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListSettings(r.Context(), groupKeyFrom(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	out := make([]settingResponse, 0, len(list))
	for i := range list {
		out = append(out, toSettingResponse(&list[i]))
	}
	respondJSON(w, http.StatusOK, out)
}
