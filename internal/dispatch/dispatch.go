// Package dispatch implements the delivery pipeline: the periodic worker
// that drains the work queue and invokes the transport, the retry scheduler
// that delays and bounds redelivery, and the reconciliation sweep that
// rescues mails lost in the pop-then-crash window.
//
// Delivery is at-least-once best-effort. The in-flight tracker is
// observational, not a lock, so concurrent workers can double-send under
// contention; the status guard in the store keeps the recorded outcome
// monotonic regardless.
package dispatch

import (
	"context"
	"time"

	"github.com/server-common/hermes/internal/domain"
	"github.com/server-common/hermes/internal/queue"
)

// Config holds the pipeline's tunables. Settings-backed values (batch size,
// retry count, retry delay) use these as fallback defaults when a tenant has
// no configured override.
type Config struct {
	// Tick intervals for the three scheduled tasks.
	DeliverInterval   time.Duration `env:"DISPATCH_DELIVER_INTERVAL" envDefault:"2s"`
	RequeueInterval   time.Duration `env:"DISPATCH_REQUEUE_INTERVAL" envDefault:"10s"`
	ReconcileInterval time.Duration `env:"DISPATCH_RECONCILE_INTERVAL" envDefault:"1m"`

	// A pending mail untouched for this long with no queue, in-flight, or
	// retry presence is considered orphaned and re-enqueued.
	ReconcileAfter time.Duration `env:"DISPATCH_RECONCILE_AFTER" envDefault:"10m"`
	ReconcileLimit int           `env:"DISPATCH_RECONCILE_LIMIT" envDefault:"100"`

	DefaultBatchSize         int `env:"DISPATCH_DEFAULT_BATCH_SIZE" envDefault:"10"`
	DefaultMaxRetryCount     int `env:"DISPATCH_DEFAULT_MAX_RETRY_COUNT" envDefault:"3"`
	DefaultRetryDelayMinutes int `env:"DISPATCH_DEFAULT_RETRY_DELAY_MINUTES" envDefault:"5"`

	// The attempt counter's TTL is the retry delay multiplied by this
	// factor, so the counter outlives the delay and a requeued mail still
	// sees its prior attempts.
	AttemptTTLCycles int `env:"DISPATCH_ATTEMPT_TTL_CYCLES" envDefault:"4"`
}

// MailStore is the slice of the job store the pipeline reads and writes.
type MailStore interface {
	GetMail(ctx context.Context, id string) (*domain.Mail, error)
	UpdateMailStatus(ctx context.Context, id string, status domain.MailStatus, sentAt *time.Time, errorMessage *string) error
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

// Queue is the durable delivery state: work queue, in-flight tracker, and
// retry scheduler structures.
type Queue interface {
	Push(ctx context.Context, mailID string) error
	PopBatch(ctx context.Context, maxCount int) ([]string, error)
	InQueue(ctx context.Context, mailID string) (bool, error)

	MarkInFlight(ctx context.Context, mailID string) error
	ClearInFlight(ctx context.Context, mailID string) error
	IsInFlight(ctx context.Context, mailID string) (bool, error)

	ScheduleRetry(ctx context.Context, mailID string, due time.Time) error
	DueRetries(ctx context.Context, now time.Time) ([]string, error)
	RemoveRetry(ctx context.Context, mailID string) error
	RetryScheduled(ctx context.Context, mailID string) (bool, error)

	AttemptCount(ctx context.Context, mailID string) (int, error)
	SetAttemptCount(ctx context.Context, mailID string, count int, ttl time.Duration) error

	Status(ctx context.Context) (queue.Status, error)
}

// Settings resolves pipeline tunables per tenant.
type Settings interface {
	GetInt(ctx context.Context, groupKey, key string, def int) (int, error)
	GetStringDefault(ctx context.Context, groupKey, key, def string) (string, error)
}
