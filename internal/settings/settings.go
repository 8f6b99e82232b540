// Package settings resolves tenant-scoped configuration values with a cache
// in front of the settings store. Tenant rows override global defaults;
// lookups are deduplicated with singleflight so a cold cache does not
// stampede the database.
package settings

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/server-common/hermes/internal/storage"
	"github.com/server-common/hermes/pkg/logger"
)

// Keys understood by the delivery pipeline. Tenants may override any of
// them; unknown keys are free-form and pass through untouched.
const (
	KeyDailyLimit        = "daily_limit"
	KeyBatchSize         = "batch_size"
	KeyMaxRetryCount     = "max_retry_count"
	KeyRetryDelayMinutes = "retry_delay_minutes"
	KeyFromAddress       = "from_address"
	KeyFromName          = "from_name"
)

// ErrNotFound is returned by GetString when neither a tenant row nor a
// global row exists for the key.
var ErrNotFound = errors.New("settings: not found")

// errCacheMiss is the internal cache-miss sentinel.
var errCacheMiss = errors.New("settings: cache miss")

// Store is the persistence the provider reads through.
type Store interface {
	GetSettingValue(ctx context.Context, groupKey, key string) (string, error)
}

// Cache is the string cache in front of the store. Production uses Redis;
// tests substitute a map.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// Provider resolves settings with caching and tenant-to-global fallback.
type Provider struct {
	store Store
	cache Cache
	ttl   time.Duration
	log   *slog.Logger
	sf    singleflight.Group
}

// Option configures the provider.
type Option func(*Provider)

// WithTTL sets the cache lifetime for resolved values. Default: 5 minutes.
func WithTTL(d time.Duration) Option {
	return func(p *Provider) { p.ttl = d }
}

// WithLogger sets the provider's logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Provider) {
		if log != nil {
			p.log = log
		}
	}
}

// New creates a settings provider. A nil cache disables caching.
func New(store Store, cache Cache, opts ...Option) *Provider {
	p := &Provider{
		store: store,
		cache: cache,
		ttl:   5 * time.Minute,
		log:   logger.NewDiscard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetString resolves a setting for a tenant. Returns ErrNotFound when no
// tenant or global row exists; any other error is an infrastructure failure.
func (p *Provider) GetString(ctx context.Context, groupKey, key string) (string, error) {
	cacheKey := groupKey + "/" + key

	if p.cache != nil {
		if v, err := p.cache.Get(ctx, cacheKey); err == nil {
			return v, nil
		}
	}

	v, err, _ := p.sf.Do(cacheKey, func() (any, error) {
		val, err := p.store.GetSettingValue(ctx, groupKey, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", ErrNotFound
			}
			return "", err
		}
		return val, nil
	})
	if err != nil {
		return "", err
	}

	val := v.(string)
	if p.cache != nil {
		// Best-effort: a failed cache write only costs the next lookup.
		if err := p.cache.Set(ctx, cacheKey, val, p.ttl); err != nil {
			p.log.WarnContext(ctx, "settings cache write failed",
				slog.String("key", cacheKey), slog.String("error", err.Error()))
		}
	}
	return val, nil
}

// GetStringDefault resolves a setting, substituting def when it is absent.
// Infrastructure errors are still reported alongside the default.
func (p *Provider) GetStringDefault(ctx context.Context, groupKey, key, def string) (string, error) {
	v, err := p.GetString(ctx, groupKey, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return def, nil
		}
		return def, err
	}
	return v, nil
}

// GetInt resolves an integer setting, substituting def when the setting is
// absent or not a number. Infrastructure errors are reported alongside the
// default so callers can choose their own degradation policy.
func (p *Provider) GetInt(ctx context.Context, groupKey, key string, def int) (int, error) {
	v, err := p.GetString(ctx, groupKey, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return def, nil
		}
		return def, err
	}
	n, convErr := strconv.Atoi(v)
	if convErr != nil {
		p.log.WarnContext(ctx, "setting is not a number, using default",
			slog.String("key", key), slog.String("value", v), slog.Int("default", def))
		return def, nil
	}
	return n, nil
}

// Invalidate drops all cached settings. Mutations to a global row affect
// every tenant through fallback, so the whole namespace is cleared rather
// than tracking per-tenant dependents.
func (p *Provider) Invalidate(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Clear(ctx); err != nil {
		p.log.WarnContext(ctx, "settings cache invalidation failed",
			slog.String("error", err.Error()))
	}
}
