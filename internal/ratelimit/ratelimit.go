// Package ratelimit guards admission into the delivery pipeline with a
// per-tenant daily sending quota. The quota is derived state: the count of
// mails sent today, compared against the tenant's configured daily limit.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/server-common/hermes/internal/settings"
	"github.com/server-common/hermes/pkg/logger"
)

// DefaultDailyLimit applies when no daily_limit setting exists.
const DefaultDailyLimit = 10000

// ErrDailyLimitExceeded is returned when a request would push the tenant
// over its daily quota.
var ErrDailyLimitExceeded = errors.New("daily mail limit exceeded")

// ErrQuotaUnavailable is returned instead of admitting when the limiter is
// configured fail-closed and the quota state cannot be read.
var ErrQuotaUnavailable = errors.New("quota state unavailable")

// SentCounter reads how many mails a tenant has sent since an instant.
type SentCounter interface {
	CountSentSince(ctx context.Context, groupKey string, since time.Time) (int64, error)
}

// Settings resolves the tenant's configured limit.
type Settings interface {
	GetInt(ctx context.Context, groupKey, key string, def int) (int, error)
}

// Limiter makes the synchronous admission decision.
type Limiter struct {
	counter  SentCounter
	settings Settings
	failOpen bool
	log      *slog.Logger
	now      func() time.Time
}

// Option configures the limiter.
type Option func(*Limiter)

// WithFailOpen controls the degradation policy when settings or counts
// cannot be read: true admits the request with a warning (availability over
// strict enforcement), false rejects with ErrQuotaUnavailable.
// Default: true.
func WithFailOpen(failOpen bool) Option {
	return func(l *Limiter) { l.failOpen = failOpen }
}

// WithLogger sets the limiter's logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Limiter.
func New(counter SentCounter, s Settings, opts ...Option) *Limiter {
	l := &Limiter{
		counter:  counter,
		settings: s,
		failOpen: true,
		log:      logger.NewDiscard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit decides whether a tenant may enqueue requested additional mails.
// A single send (requested == 1) is rejected iff today's sent count already
// reached the limit; a bulk send is rejected iff admitting the whole batch
// would exceed it (fail-fast, no partial admission).
func (l *Limiter) Admit(ctx context.Context, groupKey string, requested int) error {
	limit, err := l.settings.GetInt(ctx, groupKey, settings.KeyDailyLimit, DefaultDailyLimit)
	if err != nil {
		return l.degrade(ctx, groupKey, "daily limit lookup failed", err)
	}

	used, err := l.counter.CountSentSince(ctx, groupKey, l.startOfDay())
	if err != nil {
		return l.degrade(ctx, groupKey, "sent count lookup failed", err)
	}

	if requested <= 1 {
		if used >= int64(limit) {
			return fmt.Errorf("%w: %d sent today, limit %d", ErrDailyLimitExceeded, used, limit)
		}
		return nil
	}

	if used+int64(requested) > int64(limit) {
		return fmt.Errorf("%w: %d sent today, %d requested, limit %d",
			ErrDailyLimitExceeded, used, requested, limit)
	}
	return nil
}

// degrade applies the configured failure policy for unreadable quota state.
func (l *Limiter) degrade(ctx context.Context, groupKey, msg string, err error) error {
	if l.failOpen {
		l.log.WarnContext(ctx, "rate limiter failing open: "+msg,
			slog.String("group_key", groupKey), slog.String("error", err.Error()))
		return nil
	}
	return errors.Join(ErrQuotaUnavailable, err)
}

func (l *Limiter) startOfDay() time.Time {
	now := l.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
