// Package mail implements the admission side of the dispatch service: the
// synchronous decision to accept a send request, create the mail log row,
// and hand the id to the delivery pipeline. Actual delivery is asynchronous
// and never blocks the caller.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/server-common/hermes/internal/domain"
	"github.com/server-common/hermes/internal/queue"
	"github.com/server-common/hermes/pkg/logger"
)

// ErrInvalidRequest marks admission-time validation failures. It wraps the
// field-specific detail.
var ErrInvalidRequest = errors.New("invalid mail request")

// Store is the persistence surface the admission service needs.
type Store interface {
	CreateMail(ctx context.Context, groupKey, recipient, subject, content string) (string, error)
	GetMailForGroup(ctx context.Context, id, groupKey string) (*domain.Mail, error)
	ListMails(ctx context.Context, groupKey string, status domain.MailStatus, limit, offset int) ([]domain.Mail, error)

	CreateBatch(ctx context.Context, b *domain.BulkBatch) error
	GetBatch(ctx context.Context, batchID, groupKey string) (*domain.BulkBatch, error)

	CreateTemplate(ctx context.Context, t *domain.Template) error
	UpdateTemplate(ctx context.Context, t *domain.Template) error
	DeleteTemplate(ctx context.Context, id, groupKey string) error
	GetTemplate(ctx context.Context, id, groupKey string) (*domain.Template, error)
	GetTemplateByName(ctx context.Context, name, groupKey string) (*domain.Template, error)
	ListTemplates(ctx context.Context, groupKey string, limit, offset int) ([]domain.Template, error)

	CreateSetting(ctx context.Context, st *domain.Setting) error
	UpdateSettingValue(ctx context.Context, groupKey, key, value string) error
	DeleteSetting(ctx context.Context, id string) error
	ListSettings(ctx context.Context, groupKey string) ([]domain.Setting, error)
}

// Admitter is the per-tenant quota gate consulted before any mail is
// created.
type Admitter interface {
	Admit(ctx context.Context, groupKey string, requested int) error
}

// Pipeline is the delivery side's admission surface.
type Pipeline interface {
	Enqueue(ctx context.Context, mailID string) error
	QueueStatus(ctx context.Context) queue.Status
}

// Invalidator drops cached setting values after a settings mutation.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Service orchestrates admission: rate limiting, mail log creation, template
// resolution, and enqueueing.
type Service struct {
	store    Store
	limiter  Admitter
	pipeline Pipeline
	inval    Invalidator
	log      *slog.Logger
	now      func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the admission service.
func NewService(store Store, limiter Admitter, pipeline Pipeline, inval Invalidator, opts ...Option) *Service {
	s := &Service{
		store:    store,
		limiter:  limiter,
		pipeline: pipeline,
		inval:    inval,
		log:      logger.NewDiscard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendRequest is a single raw send.
type SendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Content string `json:"content"`
}

// Validate checks the request fields.
func (r SendRequest) Validate() error {
	if !validRecipient(r.To) {
		return fmt.Errorf("%w: recipient address is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidRequest)
	}
	return nil
}

// TemplatedSendRequest is a single send rendered from a stored template.
type TemplatedSendRequest struct {
	To           string            `json:"to"`
	TemplateName string            `json:"templateName"`
	Variables    map[string]string `json:"variables"`
}

// Validate checks the request fields.
func (r TemplatedSendRequest) Validate() error {
	if !validRecipient(r.To) {
		return fmt.Errorf("%w: recipient address is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.TemplateName) == "" {
		return fmt.Errorf("%w: template name is required", ErrInvalidRequest)
	}
	return nil
}

// Send admits a single raw mail: quota check, log row, enqueue. The returned
// id identifies the pending mail; delivery happens asynchronously.
func (s *Service) Send(ctx context.Context, groupKey string, req SendRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := s.limiter.Admit(ctx, groupKey, 1); err != nil {
		return "", err
	}
	return s.admit(ctx, groupKey, req.To, req.Subject, req.Content)
}

// SendTemplated admits a single mail rendered from a tenant template.
func (s *Service) SendTemplated(ctx context.Context, groupKey string, req TemplatedSendRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := s.limiter.Admit(ctx, groupKey, 1); err != nil {
		return "", err
	}

	tpl, err := s.store.GetTemplateByName(ctx, req.TemplateName, groupKey)
	if err != nil {
		return "", fmt.Errorf("resolve template %q: %w", req.TemplateName, err)
	}

	subject := Process(tpl.Subject, req.Variables)
	content := Process(tpl.Content, req.Variables)
	return s.admit(ctx, groupKey, req.To, subject, content)
}

// admit creates the log row and hands the id to the pipeline. An enqueue
// failure leaves the row pending for the reconciliation sweep to rescue, so
// the admission still succeeds from the caller's perspective.
func (s *Service) admit(ctx context.Context, groupKey, to, subject, content string) (string, error) {
	id, err := s.store.CreateMail(ctx, groupKey, to, subject, content)
	if err != nil {
		return "", fmt.Errorf("create mail log: %w", err)
	}

	if err := s.pipeline.Enqueue(ctx, id); err != nil {
		s.log.WarnContext(ctx, "mail created but enqueue failed, leaving for reconciliation",
			slog.String("mail_id", id), slog.String("error", err.Error()))
	}

	s.log.InfoContext(ctx, "mail admitted",
		slog.String("mail_id", id),
		slog.String("group_key", groupKey),
		slog.String("recipient", to))
	return id, nil
}

// GetMail loads a tenant's mail by id.
func (s *Service) GetMail(ctx context.Context, groupKey, id string) (*domain.Mail, error) {
	return s.store.GetMailForGroup(ctx, id, groupKey)
}

// ListMails pages through a tenant's mail log, optionally filtered by
// status (empty status means all).
func (s *Service) ListMails(ctx context.Context, groupKey string, status domain.MailStatus, limit, offset int) ([]domain.Mail, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListMails(ctx, groupKey, status, limit, offset)
}

// QueueStatus reports the pipeline's structure sizes.
func (s *Service) QueueStatus(ctx context.Context) queue.Status {
	return s.pipeline.QueueStatus(ctx)
}

func validRecipient(addr string) bool {
	addr = strings.TrimSpace(addr)
	at := strings.IndexByte(addr, '@')
	return at > 0 && at < len(addr)-1
}
