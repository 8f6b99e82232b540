package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/server-common/hermes/internal/domain"
	"github.com/server-common/hermes/internal/queue"
	"github.com/server-common/hermes/internal/settings"
	"github.com/server-common/hermes/internal/storage"
	"github.com/server-common/hermes/pkg/logger"
	"github.com/server-common/hermes/pkg/mailer"
)

// Worker executes the pipeline ticks. All ticks are plain methods so tests
// drive them directly instead of waiting on wall-clock schedules.
type Worker struct {
	store  MailStore
	queue  Queue
	conf   Settings
	sender mailer.Sender
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
}

// WorkerOption configures the worker.
type WorkerOption func(*Worker)

// WithLogger sets the worker's logger.
func WithLogger(log *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorker creates a delivery worker.
func NewWorker(store MailStore, q Queue, conf Settings, sender mailer.Sender, cfg Config, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:  store,
		queue:  q,
		conf:   conf,
		sender: sender,
		cfg:    cfg,
		log:    logger.NewDiscard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue is the admission entrypoint: it places a created mail id onto the
// work queue for asynchronous delivery.
func (w *Worker) Enqueue(ctx context.Context, mailID string) error {
	if err := w.queue.Push(ctx, mailID); err != nil {
		return err
	}
	w.log.DebugContext(ctx, "mail enqueued", slog.String("mail_id", mailID))
	return nil
}

// QueueStatus reports the pipeline's structure sizes. Unreadable sizes are
// degraded to zero with a warning rather than failing the diagnostic.
func (w *Worker) QueueStatus(ctx context.Context) queue.Status {
	st, err := w.queue.Status(ctx)
	if err != nil {
		w.log.WarnContext(ctx, "queue status partially unavailable", slog.String("error", err.Error()))
	}
	return st
}

// DeliverTick drains up to batch_size mails from the work queue and
// delivers them sequentially. A slow transport call delays the remainder of
// the batch; that couples tick latency to the slowest send but bounds
// resource usage.
func (w *Worker) DeliverTick(ctx context.Context) error {
	batchSize, err := w.conf.GetInt(ctx, "", settings.KeyBatchSize, w.cfg.DefaultBatchSize)
	if err != nil {
		w.log.WarnContext(ctx, "batch size lookup failed, using default",
			slog.Int("default", batchSize), slog.String("error", err.Error()))
	}

	ids, err := w.queue.PopBatch(ctx, batchSize)
	if err != nil && len(ids) == 0 {
		return err
	}
	if err != nil {
		// Ids already popped exist only here now; deliver them before
		// surfacing the pop failure on the next tick.
		w.log.WarnContext(ctx, "batch pop interrupted, delivering partial batch",
			slog.Int("popped", len(ids)), slog.String("error", err.Error()))
	}

	for _, id := range ids {
		w.deliver(ctx, id)
	}
	return nil
}

// deliver processes a single mail id through the per-job state machine:
// queued -> in-flight -> sent, retry-scheduled, or permanently failed.
func (w *Worker) deliver(ctx context.Context, mailID string) {
	if err := w.queue.MarkInFlight(ctx, mailID); err != nil {
		// Observational only; delivery proceeds without the marker.
		w.log.WarnContext(ctx, "failed to mark in-flight",
			slog.String("mail_id", mailID), slog.String("error", err.Error()))
	}
	defer func() {
		if err := w.queue.ClearInFlight(ctx, mailID); err != nil {
			w.log.WarnContext(ctx, "failed to clear in-flight",
				slog.String("mail_id", mailID), slog.String("error", err.Error()))
		}
	}()

	m, err := w.store.GetMail(ctx, mailID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			w.log.WarnContext(ctx, "queued mail not found, dropping", slog.String("mail_id", mailID))
			return
		}
		w.scheduleOrFail(ctx, mailID, "", err)
		return
	}

	// Idempotency guard: a duplicate queue entry for an already-sent mail
	// must not trigger a second transport call.
	if m.Status == domain.MailStatusSent {
		w.log.InfoContext(ctx, "mail already sent, skipping",
			slog.String("mail_id", mailID))
		return
	}

	if err := w.sender.Send(ctx, w.buildEmail(ctx, m)); err != nil {
		w.log.WarnContext(ctx, "mail delivery failed",
			slog.String("mail_id", mailID),
			slog.String("recipient", m.Recipient),
			slog.String("error", err.Error()))
		w.scheduleOrFail(ctx, mailID, m.GroupKey, err)
		return
	}

	sentAt := w.now()
	if err := w.store.UpdateMailStatus(ctx, mailID, domain.MailStatusSent, &sentAt, nil); err != nil {
		// The mail went out but the record still says pending; the next
		// delivery attempt hits the already-sent guard, so log loudly and
		// move on.
		w.log.ErrorContext(ctx, "sent but failed to record outcome",
			slog.String("mail_id", mailID), slog.String("error", err.Error()))
		return
	}

	w.log.InfoContext(ctx, "mail sent",
		slog.String("mail_id", mailID),
		slog.String("recipient", m.Recipient),
		slog.String("subject", m.Subject))
}

// buildEmail assembles the transport message, resolving the sender identity
// from tenant settings with the adapter's own default as final fallback.
func (w *Worker) buildEmail(ctx context.Context, m *domain.Mail) *mailer.Email {
	fromAddr, err := w.conf.GetStringDefault(ctx, m.GroupKey, settings.KeyFromAddress, "")
	if err != nil {
		w.log.WarnContext(ctx, "from_address lookup failed", slog.String("error", err.Error()))
	}
	fromName, err := w.conf.GetStringDefault(ctx, m.GroupKey, settings.KeyFromName, "")
	if err != nil {
		w.log.WarnContext(ctx, "from_name lookup failed", slog.String("error", err.Error()))
	}

	var from string
	if fromAddr != "" {
		from = mailer.Recipient(fromName, fromAddr)
	}

	return &mailer.Email{
		From:    from,
		To:      []string{m.Recipient},
		Subject: m.Subject,
		HTML:    m.Content,
	}
}

// scheduleOrFail is the retry decision: below the attempt cap the mail is
// rescheduled with a fixed delay and stays pending; at the cap it is marked
// permanently failed with the last error preserved.
func (w *Worker) scheduleOrFail(ctx context.Context, mailID, groupKey string, sendErr error) {
	maxRetry, err := w.conf.GetInt(ctx, groupKey, settings.KeyMaxRetryCount, w.cfg.DefaultMaxRetryCount)
	if err != nil {
		w.log.WarnContext(ctx, "max retry lookup failed, using default",
			slog.Int("default", maxRetry), slog.String("error", err.Error()))
	}

	attempts, err := w.queue.AttemptCount(ctx, mailID)
	if err != nil {
		// An unreadable counter reads as zero, which can only grant extra
		// attempts, never lose a mail.
		w.log.WarnContext(ctx, "attempt count lookup failed, assuming zero",
			slog.String("mail_id", mailID), slog.String("error", err.Error()))
		attempts = 0
	}

	if attempts >= maxRetry {
		msg := sendErr.Error()
		if err := w.store.UpdateMailStatus(ctx, mailID, domain.MailStatusFailed, nil, &msg); err != nil {
			w.log.ErrorContext(ctx, "failed to record permanent failure",
				slog.String("mail_id", mailID), slog.String("error", err.Error()))
			return
		}
		w.log.ErrorContext(ctx, "mail permanently failed",
			slog.String("mail_id", mailID),
			slog.Int("attempts", attempts),
			slog.String("error", msg))
		return
	}

	delayMin, err := w.conf.GetInt(ctx, groupKey, settings.KeyRetryDelayMinutes, w.cfg.DefaultRetryDelayMinutes)
	if err != nil {
		w.log.WarnContext(ctx, "retry delay lookup failed, using default",
			slog.Int("default", delayMin), slog.String("error", err.Error()))
	}
	delay := time.Duration(delayMin) * time.Minute

	// Counter TTL deliberately outlives the delay by several cycles; a TTL
	// equal to the delay would lapse at requeue time and reset the count.
	counterTTL := delay * time.Duration(max(w.cfg.AttemptTTLCycles, 2))

	next := attempts + 1
	if err := w.queue.SetAttemptCount(ctx, mailID, next, counterTTL); err != nil {
		w.log.WarnContext(ctx, "failed to store attempt count",
			slog.String("mail_id", mailID), slog.String("error", err.Error()))
	}
	if err := w.queue.ScheduleRetry(ctx, mailID, w.now().Add(delay)); err != nil {
		w.log.ErrorContext(ctx, "failed to schedule retry",
			slog.String("mail_id", mailID), slog.String("error", err.Error()))
		return
	}

	w.log.InfoContext(ctx, "mail retry scheduled",
		slog.String("mail_id", mailID),
		slog.Int("attempt", next),
		slog.Duration("delay", delay))
}
