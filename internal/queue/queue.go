// Package queue implements the Redis-backed delivery structures: the FIFO
// work queue of mail ids, the in-flight tracker, and the retry scheduler
// state (due timestamps and attempt counters).
//
// Each primitive operation is atomic at the Redis level, but there is no
// cross-operation transaction: popping a batch is a sequence of single pops,
// and a crash mid-batch loses only ids already popped but not yet recorded.
package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueKey      = "mail:queue"
	processingKey = "mail:processing"
	scheduledKey  = "mail:retry:scheduled"
	attemptPrefix = "mail:retry:"
)

// Queue is shared mutable state across all worker instances; it holds no
// process-local state beyond the client and options.
type Queue struct {
	rdb  redis.UniversalClient
	opts *options
}

// Option configures the queue.
type Option func(*options)

type options struct {
	prefix      string
	inflightTTL time.Duration
}

// WithPrefix namespaces all queue keys as "{prefix}:{key}", for shared
// Redis instances.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithInflightTTL bounds how long the in-flight set survives without
// refresh, so a crashed worker does not leave phantom entries forever.
// Default: 10 minutes.
func WithInflightTTL(d time.Duration) Option {
	return func(o *options) { o.inflightTTL = d }
}

// New creates a Queue over the given Redis client.
func New(rdb redis.UniversalClient, opts ...Option) *Queue {
	o := &options{inflightTTL: 10 * time.Minute}
	for _, opt := range opts {
		opt(o)
	}
	return &Queue{rdb: rdb, opts: o}
}

func (q *Queue) key(k string) string {
	if q.opts.prefix == "" {
		return k
	}
	return q.opts.prefix + ":" + k
}

// Push appends a mail id to the tail of the work queue.
func (q *Queue) Push(ctx context.Context, mailID string) error {
	return q.rdb.RPush(ctx, q.key(queueKey), mailID).Err()
}

// PopBatch removes and returns up to maxCount ids from the head of the work
// queue. Each pop is a separate atomic operation; the batch as a whole is
// not transactional.
func (q *Queue) PopBatch(ctx context.Context, maxCount int) ([]string, error) {
	var ids []string
	for range maxCount {
		id, err := q.rdb.LPop(ctx, q.key(queueKey)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// InQueue reports whether a mail id is currently waiting in the work queue.
func (q *Queue) InQueue(ctx context.Context, mailID string) (bool, error) {
	_, err := q.rdb.LPos(ctx, q.key(queueKey), mailID, redis.LPosArgs{}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkInFlight records a mail id as currently being delivered. The set's
// expiry is refreshed on every add; membership is observational, not a lock.
func (q *Queue) MarkInFlight(ctx context.Context, mailID string) error {
	key := q.key(processingKey)
	if err := q.rdb.SAdd(ctx, key, mailID).Err(); err != nil {
		return err
	}
	return q.rdb.Expire(ctx, key, q.opts.inflightTTL).Err()
}

// ClearInFlight removes a mail id from the in-flight set.
func (q *Queue) ClearInFlight(ctx context.Context, mailID string) error {
	return q.rdb.SRem(ctx, q.key(processingKey), mailID).Err()
}

// IsInFlight reports whether a mail id is marked as being delivered.
func (q *Queue) IsInFlight(ctx context.Context, mailID string) (bool, error) {
	return q.rdb.SIsMember(ctx, q.key(processingKey), mailID).Result()
}

// ScheduleRetry records the earliest time the mail becomes eligible to
// re-enter the work queue.
func (q *Queue) ScheduleRetry(ctx context.Context, mailID string, due time.Time) error {
	return q.rdb.ZAdd(ctx, q.key(scheduledKey), redis.Z{
		Score:  float64(due.Unix()),
		Member: mailID,
	}).Err()
}

// DueRetries returns all mail ids whose retry due time is at or before now.
func (q *Queue) DueRetries(ctx context.Context, now time.Time) ([]string, error) {
	return q.rdb.ZRangeByScore(ctx, q.key(scheduledKey), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
}

// RemoveRetry drops a mail id from the retry schedule.
func (q *Queue) RemoveRetry(ctx context.Context, mailID string) error {
	return q.rdb.ZRem(ctx, q.key(scheduledKey), mailID).Err()
}

// RetryScheduled reports whether a retry is pending for the mail id.
func (q *Queue) RetryScheduled(ctx context.Context, mailID string) (bool, error) {
	_, err := q.rdb.ZScore(ctx, q.key(scheduledKey), mailID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AttemptCount reads the current attempt counter for a mail id. A missing
// or expired counter reads as zero; that lapse is part of the contract and
// must be reasoned about by the caller, not silently relied upon.
func (q *Queue) AttemptCount(ctx context.Context, mailID string) (int, error) {
	val, err := q.rdb.Get(ctx, q.key(attemptPrefix+mailID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		// Corrupt counter: treat as absent rather than wedging retries.
		return 0, nil
	}
	return n, nil
}

// SetAttemptCount stores the attempt counter with the given lifetime. The
// TTL must outlive the retry delay by a comfortable margin so a requeued
// mail still sees its prior attempts.
func (q *Queue) SetAttemptCount(ctx context.Context, mailID string, count int, ttl time.Duration) error {
	return q.rdb.Set(ctx, q.key(attemptPrefix+mailID), strconv.Itoa(count), ttl).Err()
}

// Status holds the read-only diagnostic sizes of the three structures.
type Status struct {
	PendingCount        int64 `json:"pendingCount"`
	InFlightCount       int64 `json:"inFlightCount"`
	ScheduledRetryCount int64 `json:"scheduledRetryCount"`
}

// Status returns current structure sizes. Sizes that fail to read are
// reported as zero; the joined error tells the caller what was degraded.
func (q *Queue) Status(ctx context.Context) (Status, error) {
	var st Status
	var errs []error

	if n, err := q.rdb.LLen(ctx, q.key(queueKey)).Result(); err != nil {
		errs = append(errs, err)
	} else {
		st.PendingCount = n
	}
	if n, err := q.rdb.SCard(ctx, q.key(processingKey)).Result(); err != nil {
		errs = append(errs, err)
	} else {
		st.InFlightCount = n
	}
	if n, err := q.rdb.ZCard(ctx, q.key(scheduledKey)).Result(); err != nil {
		errs = append(errs, err)
	} else {
		st.ScheduledRetryCount = n
	}

	return st, errors.Join(errs...)
}
