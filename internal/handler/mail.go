package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/server-common/hermes/internal/domain"
	"github.com/server-common/hermes/internal/mail"
)

type mailResponse struct {
	ID           string     `json:"id"`
	GroupKey     string     `json:"groupKey"`
	Recipient    string     `json:"recipient"`
	Subject      string     `json:"subject"`
	Status       string     `json:"status"`
	SentAt       *time.Time `json:"sentAt,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func toMailResponse(m *domain.Mail) mailResponse {
	return mailResponse{
		ID:           m.ID,
		GroupKey:     m.GroupKey,
		Recipient:    m.Recipient,
		Subject:      m.Subject,
		Status:       string(m.Status),
		SentAt:       m.SentAt,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
	}
}

type sendResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (h *Handler) sendMail(w http.ResponseWriter, r *http.Request) {
	var req mail.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	id, err := h.svc.Send(r.Context(), groupKeyFrom(r.Context()), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, sendResponse{ID: id, Status: string(domain.MailStatusPending)})
}

func (h *Handler) sendTemplatedMail(w http.ResponseWriter, r *http.Request) {
	var req mail.TemplatedSendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	id, err := h.svc.SendTemplated(r.Context(), groupKeyFrom(r.Context()), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, sendResponse{ID: id, Status: string(domain.MailStatusPending)})
}

func (h *Handler) sendBulkMail(w http.ResponseWriter, r *http.Request) {
	var req mail.BulkSendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	res, err := h.svc.SendBulk(r.Context(), groupKeyFrom(r.Context()), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}

func (h *Handler) sendBulkTemplatedMail(w http.ResponseWriter, r *http.Request) {
	var req mail.BulkTemplatedSendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	res, err := h.svc.SendBulkTemplated(r.Context(), groupKeyFrom(r.Context()), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}

func (h *Handler) getMail(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetMail(r.Context(), groupKeyFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toMailResponse(m))
}

type listMailsResponse struct {
	Mails  []mailResponse `json:"mails"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func (h *Handler) listMails(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	status := domain.MailStatus(r.URL.Query().Get("status"))

	mails, err := h.svc.ListMails(r.Context(), groupKeyFrom(r.Context()), status, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	out := listMailsResponse{Mails: make([]mailResponse, 0, len(mails)), Limit: limit, Offset: offset}
	for i := range mails {
		out.Mails = append(out.Mails, toMailResponse(&mails[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

type batchResponse struct {
	BatchID      string     `json:"batchId"`
	GroupKey     string     `json:"groupKey"`
	TotalCount   int        `json:"totalCount"`
	SuccessCount int        `json:"successCount"`
	FailedCount  int        `json:"failedCount"`
	Status       string     `json:"status"`
	TemplateName *string    `json:"templateName,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

func (h *Handler) batchStatus(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.BatchStatus(r.Context(), groupKeyFrom(r.Context()), chi.URLParam(r, "batchID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, batchResponse{
		BatchID:      b.BatchID,
		GroupKey:     b.GroupKey,
		TotalCount:   b.TotalCount,
		SuccessCount: b.SuccessCount,
		FailedCount:  b.FailedCount,
		Status:       string(b.Status),
		TemplateName: b.TemplateName,
		CreatedAt:    b.CreatedAt,
		CompletedAt:  b.CompletedAt,
	})
}

func (h *Handler) queueStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.QueueStatus(r.Context()))
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
