package settings_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/server-common/hermes/internal/settings"
	"github.com/server-common/hermes/internal/storage"
)

type fakeStore struct {
	mu     sync.Mutex
	values map[string]string // "group/key" -> value
	err    error
	reads  int
}

func (s *fakeStore) GetSettingValue(ctx context.Context, groupKey, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return "", s.err
	}
	if v, ok := s.values[groupKey+"/"+key]; ok {
		return v, nil
	}
	// Same fallback the real store performs in SQL.
	if v, ok := s.values["/"+key]; ok {
		return v, nil
	}
	return "", storage.ErrNotFound
}

type fakeCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string]string{}}
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[key]; ok {
		return v, nil
	}
	return "", errors.New("miss")
}

func (c *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *fakeCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = map[string]string{}
	return nil
}

func TestProvider_GetString(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("tenant row wins over global", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{values: map[string]string{
			"acme/daily_limit": "50",
			"/daily_limit":     "10000",
		}}
		p := settings.New(store, newFakeCache())

		v, err := p.GetString(ctx, "acme", "daily_limit")
		require.NoError(t, err)
		require.Equal(t, "50", v)
	})

	t.Run("falls back to global row", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{values: map[string]string{"/daily_limit": "10000"}}
		p := settings.New(store, newFakeCache())

		v, err := p.GetString(ctx, "acme", "daily_limit")
		require.NoError(t, err)
		require.Equal(t, "10000", v)
	})

	t.Run("missing key returns ErrNotFound", func(t *testing.T) {
		t.Parallel()

		p := settings.New(&fakeStore{values: map[string]string{}}, newFakeCache())

		_, err := p.GetString(ctx, "acme", "nope")
		require.ErrorIs(t, err, settings.ErrNotFound)
	})

	t.Run("second lookup served from cache", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{values: map[string]string{"acme/batch_size": "25"}}
		p := settings.New(store, newFakeCache())

		for range 3 {
			v, err := p.GetString(ctx, "acme", "batch_size")
			require.NoError(t, err)
			require.Equal(t, "25", v)
		}
		require.Equal(t, 1, store.reads)
	})

	t.Run("invalidate drops cached values", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{values: map[string]string{"acme/batch_size": "25"}}
		p := settings.New(store, newFakeCache())

		_, err := p.GetString(ctx, "acme", "batch_size")
		require.NoError(t, err)

		p.Invalidate(ctx)

		_, err = p.GetString(ctx, "acme", "batch_size")
		require.NoError(t, err)
		require.Equal(t, 2, store.reads)
	})
}

func TestProvider_GetInt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("parses stored value", func(t *testing.T) {
		t.Parallel()

		p := settings.New(&fakeStore{values: map[string]string{"acme/max_retry_count": "7"}}, nil)

		n, err := p.GetInt(ctx, "acme", "max_retry_count", 3)
		require.NoError(t, err)
		require.Equal(t, 7, n)
	})

	t.Run("missing key uses default without error", func(t *testing.T) {
		t.Parallel()

		p := settings.New(&fakeStore{values: map[string]string{}}, nil)

		n, err := p.GetInt(ctx, "acme", "max_retry_count", 3)
		require.NoError(t, err)
		require.Equal(t, 3, n)
	})

	t.Run("non-numeric value uses default without error", func(t *testing.T) {
		t.Parallel()

		p := settings.New(&fakeStore{values: map[string]string{"acme/max_retry_count": "lots"}}, nil)

		n, err := p.GetInt(ctx, "acme", "max_retry_count", 3)
		require.NoError(t, err)
		require.Equal(t, 3, n)
	})

	t.Run("store failure surfaces error alongside default", func(t *testing.T) {
		t.Parallel()

		storeErr := errors.New("connection refused")
		p := settings.New(&fakeStore{err: storeErr}, nil)

		n, err := p.GetInt(ctx, "acme", "daily_limit", 10000)
		require.ErrorIs(t, err, storeErr)
		require.Equal(t, 10000, n)
	})
}
