package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/server-common/hermes/internal/dispatch"
	"github.com/server-common/hermes/internal/domain"
	"github.com/server-common/hermes/internal/queue"
	"github.com/server-common/hermes/internal/settings"
	"github.com/server-common/hermes/internal/storage"
	"github.com/server-common/hermes/pkg/mailer"
)

type fakeStore struct {
	mu    sync.Mutex
	mails map[string]*domain.Mail
	stale []string
}

func newFakeStore(mails ...*domain.Mail) *fakeStore {
	s := &fakeStore{mails: make(map[string]*domain.Mail)}
	for _, m := range mails {
		s.mails[m.ID] = m
	}
	return s
}

func (s *fakeStore) GetMail(_ context.Context, id string) (*domain.Mail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mails[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) UpdateMailStatus(_ context.Context, id string, status domain.MailStatus, sentAt *time.Time, errorMessage *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mails[id]
	if !ok || m.Status != domain.MailStatusPending {
		return storage.ErrNotFound
	}
	m.Status = status
	m.SentAt = sentAt
	m.ErrorMessage = errorMessage
	return nil
}

func (s *fakeStore) ListStalePending(_ context.Context, _ time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stale) > limit {
		return s.stale[:limit], nil
	}
	return s.stale, nil
}

func (s *fakeStore) status(t *testing.T, id string) domain.MailStatus {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mails[id]
	require.True(t, ok)
	return m.Status
}

type attemptRecord struct {
	count int
	ttl   time.Duration
}

type fakeQueue struct {
	mu       sync.Mutex
	items    []string
	inflight map[string]struct{}
	retries  map[string]time.Time
	attempts map[string]attemptRecord

	pushErr    error
	popMax     []int
	pushedFrom []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		inflight: make(map[string]struct{}),
		retries:  make(map[string]time.Time),
		attempts: make(map[string]attemptRecord),
	}
}

func (q *fakeQueue) Push(_ context.Context, mailID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pushErr != nil {
		return q.pushErr
	}
	q.items = append(q.items, mailID)
	q.pushedFrom = append(q.pushedFrom, mailID)
	return nil
}

func (q *fakeQueue) PopBatch(_ context.Context, maxCount int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.popMax = append(q.popMax, maxCount)
	n := min(maxCount, len(q.items))
	out := q.items[:n]
	q.items = q.items[n:]
	return out, nil
}

func (q *fakeQueue) InQueue(_ context.Context, mailID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.items {
		if id == mailID {
			return true, nil
		}
	}
	return false, nil
}

func (q *fakeQueue) MarkInFlight(_ context.Context, mailID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight[mailID] = struct{}{}
	return nil
}

func (q *fakeQueue) ClearInFlight(_ context.Context, mailID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, mailID)
	return nil
}

func (q *fakeQueue) IsInFlight(_ context.Context, mailID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inflight[mailID]
	return ok, nil
}

func (q *fakeQueue) ScheduleRetry(_ context.Context, mailID string, due time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retries[mailID] = due
	return nil
}

func (q *fakeQueue) DueRetries(_ context.Context, now time.Time) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []string
	for id, at := range q.retries {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	return due, nil
}

func (q *fakeQueue) RemoveRetry(_ context.Context, mailID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.retries, mailID)
	return nil
}

func (q *fakeQueue) RetryScheduled(_ context.Context, mailID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.retries[mailID]
	return ok, nil
}

func (q *fakeQueue) AttemptCount(_ context.Context, mailID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.attempts[mailID].count, nil
}

func (q *fakeQueue) SetAttemptCount(_ context.Context, mailID string, count int, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attempts[mailID] = attemptRecord{count: count, ttl: ttl}
	return nil
}

func (q *fakeQueue) Status(_ context.Context) (queue.Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queue.Status{
		PendingCount:        int64(len(q.items)),
		InFlightCount:       int64(len(q.inflight)),
		ScheduledRetryCount: int64(len(q.retries)),
	}, nil
}

type fakeSettings struct {
	ints map[string]int
	strs map[string]string
}

func (s *fakeSettings) GetInt(_ context.Context, _, key string, def int) (int, error) {
	if v, ok := s.ints[key]; ok {
		return v, nil
	}
	return def, nil
}

func (s *fakeSettings) GetStringDefault(_ context.Context, _, key, def string) (string, error) {
	if v, ok := s.strs[key]; ok {
		return v, nil
	}
	return def, nil
}

// scriptedSender fails the first `failures` calls and succeeds afterwards.
type scriptedSender struct {
	mu       sync.Mutex
	failures int
	err      error
	sent     []*mailer.Email
	calls    int
}

func (s *scriptedSender) Send(_ context.Context, e *mailer.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return s.err
	}
	s.sent = append(s.sent, e)
	return nil
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() dispatch.Config {
	return dispatch.Config{
		DeliverInterval:          2 * time.Second,
		RequeueInterval:          10 * time.Second,
		ReconcileInterval:        time.Minute,
		ReconcileAfter:           10 * time.Minute,
		ReconcileLimit:           100,
		DefaultBatchSize:         10,
		DefaultMaxRetryCount:     3,
		DefaultRetryDelayMinutes: 5,
		AttemptTTLCycles:         4,
	}
}

func pendingMail(id, groupKey string) *domain.Mail {
	return &domain.Mail{
		ID:        id,
		GroupKey:  groupKey,
		Recipient: "alice@example.com",
		Subject:   "Welcome",
		Content:   "<p>Hello</p>",
		Status:    domain.MailStatusPending,
	}
}

func TestWorkerDeliverTick(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("delivers pending mail and records sent", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore(pendingMail("m1", "acme"))
		q := newFakeQueue()
		sender := &scriptedSender{}
		clock := newTestClock()
		w := dispatch.NewWorker(store, q, &fakeSettings{}, sender, testConfig(),
			dispatch.WithClock(clock.Now))

		require.NoError(t, w.Enqueue(ctx, "m1"))
		require.NoError(t, w.DeliverTick(ctx))

		require.Equal(t, 1, sender.callCount())
		require.Equal(t, domain.MailStatusSent, store.status(t, "m1"))

		m, err := store.GetMail(ctx, "m1")
		require.NoError(t, err)
		require.NotNil(t, m.SentAt)
		require.Equal(t, clock.Now(), *m.SentAt)
		require.Len(t, sender.sent, 1)
		require.Equal(t, []string{"alice@example.com"}, sender.sent[0].To)
		require.Equal(t, "Welcome", sender.sent[0].Subject)
	})

	t.Run("resolves sender identity from settings", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore(pendingMail("m1", "acme"))
		q := newFakeQueue()
		sender := &scriptedSender{}
		conf := &fakeSettings{strs: map[string]string{
			settings.KeyFromAddress: "no-reply@acme.io",
			settings.KeyFromName:    "Acme Notifications",
		}}
		w := dispatch.NewWorker(store, q, conf, sender, testConfig())

		require.NoError(t, w.Enqueue(ctx, "m1"))
		require.NoError(t, w.DeliverTick(ctx))

		require.Len(t, sender.sent, 1)
		require.Equal(t, "Acme Notifications <no-reply@acme.io>", sender.sent[0].From)
	})

	t.Run("retries with delay then succeeds", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore(pendingMail("m1", "acme"))
		q := newFakeQueue()
		sender := &scriptedSender{failures: 2, err: errors.New("smtp: connection timed out")}
		clock := newTestClock()
		w := dispatch.NewWorker(store, q, &fakeSettings{}, sender, testConfig(),
			dispatch.WithClock(clock.Now))

		require.NoError(t, w.Enqueue(ctx, "m1"))

		// First attempt fails and schedules retry #1.
		require.NoError(t, w.DeliverTick(ctx))
		require.Equal(t, domain.MailStatusPending, store.status(t, "m1"))
		require.Equal(t, 1, q.attempts["m1"].count)
		require.Equal(t, clock.Now().Add(5*time.Minute), q.retries["m1"])

		// Not due yet: nothing moves.
		require.NoError(t, w.RequeueTick(ctx))
		require.Empty(t, q.items)

		clock.Advance(5 * time.Minute)
		require.NoError(t, w.RequeueTick(ctx))
		require.NotContains(t, q.retries, "m1")

		// Second attempt fails and schedules retry #2.
		require.NoError(t, w.DeliverTick(ctx))
		require.Equal(t, 2, q.attempts["m1"].count)

		clock.Advance(5 * time.Minute)
		require.NoError(t, w.RequeueTick(ctx))

		// Third attempt succeeds.
		require.NoError(t, w.DeliverTick(ctx))
		require.Equal(t, 3, sender.callCount())
		require.Equal(t, domain.MailStatusSent, store.status(t, "m1"))
	})

	t.Run("marks failed at retry cap preserving last error", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore(pendingMail("m1", "acme"))
		q := newFakeQueue()
		sender := &scriptedSender{failures: 100, err: errors.New("550 mailbox unavailable")}
		clock := newTestClock()
		conf := &fakeSettings{ints: map[string]int{settings.KeyMaxRetryCount: 2}}
		w := dispatch.NewWorker(store, q, conf, sender, testConfig(),
			dispatch.WithClock(clock.Now))

		require.NoError(t, w.Enqueue(ctx, "m1"))
		for range 2 {
			require.NoError(t, w.DeliverTick(ctx))
			require.Equal(t, domain.MailStatusPending, store.status(t, "m1"))
			clock.Advance(5 * time.Minute)
			require.NoError(t, w.RequeueTick(ctx))
		}

		// Attempt counter is at the cap; the next failure is permanent.
		require.NoError(t, w.DeliverTick(ctx))
		require.Equal(t, 3, sender.callCount())
		require.Equal(t, domain.MailStatusFailed, store.status(t, "m1"))

		m, err := store.GetMail(ctx, "m1")
		require.NoError(t, err)
		require.NotNil(t, m.ErrorMessage)
		require.Equal(t, "550 mailbox unavailable", *m.ErrorMessage)
		require.NotContains(t, q.retries, "m1")
	})

	t.Run("skips already sent mail without transport call", func(t *testing.T) {
		t.Parallel()

		m := pendingMail("m1", "acme")
		m.Status = domain.MailStatusSent
		store := newFakeStore(m)
		q := newFakeQueue()
		sender := &scriptedSender{}
		w := dispatch.NewWorker(store, q, &fakeSettings{}, sender, testConfig())

		require.NoError(t, w.Enqueue(ctx, "m1"))
		require.NoError(t, w.DeliverTick(ctx))

		require.Zero(t, sender.callCount())
		require.Equal(t, domain.MailStatusSent, store.status(t, "m1"))
	})

	t.Run("drops queued id with no stored mail", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		q := newFakeQueue()
		sender := &scriptedSender{}
		w := dispatch.NewWorker(store, q, &fakeSettings{}, sender, testConfig())

		require.NoError(t, w.Enqueue(ctx, "ghost"))
		require.NoError(t, w.DeliverTick(ctx))

		require.Zero(t, sender.callCount())
		require.Empty(t, q.retries)
		require.Empty(t, q.attempts)
	})

	t.Run("honors configured batch size", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		q := newFakeQueue()
		conf := &fakeSettings{ints: map[string]int{settings.KeyBatchSize: 3}}
		w := dispatch.NewWorker(store, q, conf, &scriptedSender{}, testConfig())

		require.NoError(t, w.DeliverTick(ctx))
		require.Equal(t, []int{3}, q.popMax)
	})

	t.Run("clears in-flight marker after delivery", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore(pendingMail("m1", "acme"))
		q := newFakeQueue()
		w := dispatch.NewWorker(store, q, &fakeSettings{}, &scriptedSender{}, testConfig())

		require.NoError(t, w.Enqueue(ctx, "m1"))
		require.NoError(t, w.DeliverTick(ctx))

		inFlight, err := q.IsInFlight(ctx, "m1")
		require.NoError(t, err)
		require.False(t, inFlight)
	})
}

func TestWorkerAttemptCounterTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("counter outlives the retry delay", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore(pendingMail("m1", "acme"))
		q := newFakeQueue()
		sender := &scriptedSender{failures: 1, err: errors.New("boom")}
		w := dispatch.NewWorker(store, q, &fakeSettings{}, sender, testConfig())

		require.NoError(t, w.Enqueue(ctx, "m1"))
		require.NoError(t, w.DeliverTick(ctx))

		rec := q.attempts["m1"]
		require.Equal(t, 20*time.Minute, rec.ttl)
		require.Greater(t, rec.ttl, 5*time.Minute)
	})

	t.Run("cycle factor has a floor of two", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore(pendingMail("m1", "acme"))
		q := newFakeQueue()
		sender := &scriptedSender{failures: 1, err: errors.New("boom")}
		cfg := testConfig()
		cfg.AttemptTTLCycles = 0
		w := dispatch.NewWorker(store, q, &fakeSettings{}, sender, cfg)

		require.NoError(t, w.Enqueue(ctx, "m1"))
		require.NoError(t, w.DeliverTick(ctx))

		require.Equal(t, 10*time.Minute, q.attempts["m1"].ttl)
	})
}

func TestWorkerRequeueTick(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("moves only due retries back to the queue", func(t *testing.T) {
		t.Parallel()

		q := newFakeQueue()
		clock := newTestClock()
		w := dispatch.NewWorker(newFakeStore(), q, &fakeSettings{}, &scriptedSender{}, testConfig(),
			dispatch.WithClock(clock.Now))

		require.NoError(t, q.ScheduleRetry(ctx, "due", clock.Now().Add(-time.Second)))
		require.NoError(t, q.ScheduleRetry(ctx, "later", clock.Now().Add(time.Hour)))

		require.NoError(t, w.RequeueTick(ctx))

		require.Equal(t, []string{"due"}, q.items)
		require.NotContains(t, q.retries, "due")
		require.Contains(t, q.retries, "later")
	})

	t.Run("leaves entry scheduled when push fails", func(t *testing.T) {
		t.Parallel()

		q := newFakeQueue()
		q.pushErr = errors.New("redis: connection refused")
		clock := newTestClock()
		w := dispatch.NewWorker(newFakeStore(), q, &fakeSettings{}, &scriptedSender{}, testConfig(),
			dispatch.WithClock(clock.Now))

		require.NoError(t, q.ScheduleRetry(ctx, "due", clock.Now().Add(-time.Second)))
		require.NoError(t, w.RequeueTick(ctx))

		require.Contains(t, q.retries, "due")
		require.Empty(t, q.items)
	})
}

func TestWorkerReconcileTick(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("requeues orphaned pending mail", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore(pendingMail("orphan", "acme"))
		store.stale = []string{"orphan"}
		q := newFakeQueue()
		w := dispatch.NewWorker(store, q, &fakeSettings{}, &scriptedSender{}, testConfig())

		require.NoError(t, w.ReconcileTick(ctx))
		require.Equal(t, []string{"orphan"}, q.items)
	})

	t.Run("skips mail still owned by a pipeline structure", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		store.stale = []string{"queued", "flying", "scheduled"}
		q := newFakeQueue()
		q.items = []string{"queued"}
		require.NoError(t, q.MarkInFlight(ctx, "flying"))
		require.NoError(t, q.ScheduleRetry(ctx, "scheduled", time.Now().Add(time.Hour)))
		w := dispatch.NewWorker(store, q, &fakeSettings{}, &scriptedSender{}, testConfig())

		require.NoError(t, w.ReconcileTick(ctx))

		require.Equal(t, []string{"queued"}, q.items)
		require.Empty(t, q.pushedFrom)
	})
}

func TestWorkerQueueStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	q := newFakeQueue()
	q.items = []string{"a", "b"}
	require.NoError(t, q.MarkInFlight(ctx, "c"))
	require.NoError(t, q.ScheduleRetry(ctx, "d", time.Now().Add(time.Hour)))
	w := dispatch.NewWorker(newFakeStore(), q, &fakeSettings{}, &scriptedSender{}, testConfig())

	st := w.QueueStatus(ctx)
	require.Equal(t, queue.Status{PendingCount: 2, InFlightCount: 1, ScheduledRetryCount: 1}, st)
}

