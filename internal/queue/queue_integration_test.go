//go:build integration

package queue_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/server-common/hermes/internal/queue"
	"github.com/server-common/hermes/pkg/redis"
)

const testRedisURL = "redis://localhost:6379/1"

func newTestClient(t *testing.T) goredis.UniversalClient {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = testRedisURL
	}

	ctx := context.Background()
	client, err := redis.Open(ctx, url)
	require.NoError(t, err, "failed to connect to Redis")

	t.Cleanup(func() {
		_ = client.FlushDB(ctx).Err()
		_ = client.Close()
	})

	return client
}

func TestQueue_PushPop(t *testing.T) {
	ctx := context.Background()
	q := queue.New(newTestClient(t), queue.WithPrefix(t.Name()))

	t.Run("pop on empty queue returns nothing", func(t *testing.T) {
		ids, err := q.PopBatch(ctx, 10)
		require.NoError(t, err)
		require.Empty(t, ids)
	})

	t.Run("fifo order preserved", func(t *testing.T) {
		require.NoError(t, q.Push(ctx, "a"))
		require.NoError(t, q.Push(ctx, "b"))
		require.NoError(t, q.Push(ctx, "c"))

		ids, err := q.PopBatch(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b"}, ids)

		ids, err = q.PopBatch(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, []string{"c"}, ids)
	})

	t.Run("membership check", func(t *testing.T) {
		require.NoError(t, q.Push(ctx, "present"))

		ok, err := q.InQueue(ctx, "present")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = q.InQueue(ctx, "absent")
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestQueue_InFlight(t *testing.T) {
	ctx := context.Background()
	q := queue.New(newTestClient(t), queue.WithPrefix(t.Name()))

	require.NoError(t, q.MarkInFlight(ctx, "m1"))

	ok, err := q.IsInFlight(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.ClearInFlight(ctx, "m1"))

	ok, err = q.IsInFlight(ctx, "m1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueue_RetrySchedule(t *testing.T) {
	ctx := context.Background()
	q := queue.New(newTestClient(t), queue.WithPrefix(t.Name()))
	now := time.Now()

	require.NoError(t, q.ScheduleRetry(ctx, "due", now.Add(-time.Minute)))
	require.NoError(t, q.ScheduleRetry(ctx, "future", now.Add(time.Hour)))

	due, err := q.DueRetries(ctx, now)
	require.NoError(t, err)
	require.Equal(t, []string{"due"}, due)

	require.NoError(t, q.RemoveRetry(ctx, "due"))

	ok, err := q.RetryScheduled(ctx, "due")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = q.RetryScheduled(ctx, "future")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestQueue_AttemptCounter(t *testing.T) {
	ctx := context.Background()
	q := queue.New(newTestClient(t), queue.WithPrefix(t.Name()))

	n, err := q.AttemptCount(ctx, "m1")
	require.NoError(t, err)
	require.Zero(t, n, "absent counter reads as zero")

	require.NoError(t, q.SetAttemptCount(ctx, "m1", 2, time.Minute))

	n, err = q.AttemptCount(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	t.Run("expired counter reads as zero", func(t *testing.T) {
		require.NoError(t, q.SetAttemptCount(ctx, "m2", 3, 50*time.Millisecond))
		time.Sleep(100 * time.Millisecond)

		n, err := q.AttemptCount(ctx, "m2")
		require.NoError(t, err)
		require.Zero(t, n)
	})
}

func TestQueue_Status(t *testing.T) {
	ctx := context.Background()
	q := queue.New(newTestClient(t), queue.WithPrefix(t.Name()))

	require.NoError(t, q.Push(ctx, "a"))
	require.NoError(t, q.Push(ctx, "b"))
	require.NoError(t, q.MarkInFlight(ctx, "c"))
	require.NoError(t, q.ScheduleRetry(ctx, "d", time.Now().Add(time.Minute)))

	st, err := q.Status(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, st.PendingCount)
	require.EqualValues(t, 1, st.InFlightCount)
	require.EqualValues(t, 1, st.ScheduledRetryCount)
}
