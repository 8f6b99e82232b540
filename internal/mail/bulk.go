package mail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/server-common/hermes/internal/domain"
)

// BulkRecipient is one target of a raw bulk send. Name, when present, is
// substituted into {{name}} placeholders in subject and content.
type BulkRecipient struct {
	To   string `json:"to"`
	Name string `json:"name"`
}

// BulkSendRequest is a raw bulk send sharing one subject and body.
type BulkSendRequest struct {
	Recipients []BulkRecipient `json:"recipients"`
	Subject    string          `json:"subject"`
	Content    string          `json:"content"`
}

// Validate checks the request fields.
func (r BulkSendRequest) Validate() error {
	if len(r.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidRequest)
	}
	return nil
}

// TemplatedBulkRecipient is one target of a templated bulk send with its
// own substitution variables.
type TemplatedBulkRecipient struct {
	To        string            `json:"to"`
	Variables map[string]string `json:"variables"`
}

// BulkTemplatedSendRequest is a bulk send rendered from one stored template,
// resolved once and substituted per recipient.
type BulkTemplatedSendRequest struct {
	TemplateName string                   `json:"templateName"`
	Recipients   []TemplatedBulkRecipient `json:"recipients"`
}

// Validate checks the request fields.
func (r BulkTemplatedSendRequest) Validate() error {
	if strings.TrimSpace(r.TemplateName) == "" {
		return fmt.Errorf("%w: template name is required", ErrInvalidRequest)
	}
	if len(r.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidRequest)
	}
	return nil
}

// RecipientResult is the admission outcome for one bulk recipient.
type RecipientResult struct {
	To     string `json:"to"`
	MailID string `json:"mailId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Succeeded reports whether the recipient was admitted.
func (r RecipientResult) Succeeded() bool { return r.Error == "" }

// BulkResult is the synchronous outcome of a bulk send. Counts and status
// describe admission only; delivery outcomes surface later on the individual
// mail records.
type BulkResult struct {
	BatchID      string            `json:"batchId"`
	TotalCount   int               `json:"totalCount"`
	SuccessCount int               `json:"successCount"`
	FailedCount  int               `json:"failedCount"`
	Results      []RecipientResult `json:"results"`
}

// SendBulk admits a raw bulk send. The whole batch is quota-checked up
// front (fail-fast, no partial admission); individual recipient failures
// after that are captured per recipient without aborting the batch.
func (s *Service) SendBulk(ctx context.Context, groupKey string, req BulkSendRequest) (*BulkResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.limiter.Admit(ctx, groupKey, len(req.Recipients)); err != nil {
		return nil, err
	}

	batchID := newBatchID()
	s.log.InfoContext(ctx, "bulk send started",
		slog.String("batch_id", batchID),
		slog.String("group_key", groupKey),
		slog.Int("recipients", len(req.Recipients)))

	results := make([]RecipientResult, 0, len(req.Recipients))
	for _, rcpt := range req.Recipients {
		if !validRecipient(rcpt.To) {
			results = append(results, RecipientResult{To: rcpt.To, Error: "invalid recipient address"})
			continue
		}

		subject := personalize(req.Subject, rcpt.Name)
		content := personalize(req.Content, rcpt.Name)

		id, err := s.admit(ctx, groupKey, rcpt.To, subject, content)
		if err != nil {
			s.log.WarnContext(ctx, "bulk recipient admission failed",
				slog.String("batch_id", batchID),
				slog.String("recipient", rcpt.To),
				slog.String("error", err.Error()))
			results = append(results, RecipientResult{To: rcpt.To, Error: err.Error()})
			continue
		}
		results = append(results, RecipientResult{To: rcpt.To, MailID: id})
	}

	return s.finalizeBatch(ctx, groupKey, batchID, nil, results), nil
}

// SendBulkTemplated admits a templated bulk send. The template is resolved
// once; an unknown template rejects the whole batch before any admission.
func (s *Service) SendBulkTemplated(ctx context.Context, groupKey string, req BulkTemplatedSendRequest) (*BulkResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.limiter.Admit(ctx, groupKey, len(req.Recipients)); err != nil {
		return nil, err
	}

	tpl, err := s.store.GetTemplateByName(ctx, req.TemplateName, groupKey)
	if err != nil {
		return nil, fmt.Errorf("resolve template %q: %w", req.TemplateName, err)
	}

	batchID := newBatchID()
	s.log.InfoContext(ctx, "templated bulk send started",
		slog.String("batch_id", batchID),
		slog.String("group_key", groupKey),
		slog.String("template", req.TemplateName),
		slog.Int("recipients", len(req.Recipients)))

	results := make([]RecipientResult, 0, len(req.Recipients))
	for _, rcpt := range req.Recipients {
		if !validRecipient(rcpt.To) {
			results = append(results, RecipientResult{To: rcpt.To, Error: "invalid recipient address"})
			continue
		}

		subject := Process(tpl.Subject, rcpt.Variables)
		content := Process(tpl.Content, rcpt.Variables)

		id, err := s.admit(ctx, groupKey, rcpt.To, subject, content)
		if err != nil {
			s.log.WarnContext(ctx, "bulk recipient admission failed",
				slog.String("batch_id", batchID),
				slog.String("recipient", rcpt.To),
				slog.String("error", err.Error()))
			results = append(results, RecipientResult{To: rcpt.To, Error: err.Error()})
			continue
		}
		results = append(results, RecipientResult{To: rcpt.To, MailID: id})
	}

	return s.finalizeBatch(ctx, groupKey, batchID, &req.TemplateName, results), nil
}

// finalizeBatch computes admission counts, persists the batch record
// best-effort, and assembles the response. A failed batch write is logged
// and does not fail the send; the per-recipient results already hold the
// authoritative outcome.
func (s *Service) finalizeBatch(ctx context.Context, groupKey, batchID string, templateName *string, results []RecipientResult) *BulkResult {
	var success int
	for _, r := range results {
		if r.Succeeded() {
			success++
		}
	}
	failed := len(results) - success

	status := domain.BatchStatusCompleted
	if success == 0 {
		status = domain.BatchStatusFailed
	}

	completedAt := s.now()
	batch := &domain.BulkBatch{
		BatchID:      batchID,
		GroupKey:     groupKey,
		TotalCount:   len(results),
		SuccessCount: success,
		FailedCount:  failed,
		Status:       status,
		TemplateName: templateName,
		CompletedAt:  &completedAt,
	}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		s.log.ErrorContext(ctx, "failed to persist bulk batch record",
			slog.String("batch_id", batchID), slog.String("error", err.Error()))
	}

	s.log.InfoContext(ctx, "bulk send finished",
		slog.String("batch_id", batchID),
		slog.Int("success", success),
		slog.Int("failed", failed))

	return &BulkResult{
		BatchID:      batchID,
		TotalCount:   len(results),
		SuccessCount: success,
		FailedCount:  failed,
		Results:      results,
	}
}

// BatchStatus loads the admission record of a bulk send.
func (s *Service) BatchStatus(ctx context.Context, groupKey, batchID string) (*domain.BulkBatch, error) {
	return s.store.GetBatch(ctx, batchID, groupKey)
}

func newBatchID() string {
	return "BULK_" + strings.ToUpper(uuid.NewString()[:8])
}

// personalize substitutes {{name}} when a name is present; otherwise the
// text passes through untouched.
func personalize(text, name string) string {
	if strings.TrimSpace(name) == "" {
		return text
	}
	return strings.ReplaceAll(text, "{{name}}", name)
}
