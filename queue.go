// queue.go
package fetchqueue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// claimTimeout is the per-attempt blocking timeout for BRPOPLPUSH.
const claimTimeout = 1 * time.Second

// claimRetryDelay is the sleep between claim attempts after a claim error.
// A BRPOPLPUSH timeout is retried at once, since the claim already blocked.
const claimRetryDelay = 1 * time.Second

// redisLister is the subset of redis.Cmdable the work queue protocol
// needs. Narrowing the dependency to an interface (instead of
// *redis.Client directly) lets tests substitute an in-memory fake.
type redisLister interface {
	BRPopLPush(ctx context.Context, source, destination string, timeout time.Duration) *redis.StringCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// WorkQueue implements the three-list Redis state machine:
// work (ready) -> working (claimed) -> complete (settled).
type WorkQueue struct {
	client       redisLister
	work         string
	working      string
	complete     string
	logger       *zap.Logger
	errorTracker *claimErrorTracker
	onRetry      func()
	closed       int32
}

// NewWorkQueue builds a WorkQueue over an already-connected Redis client
// (or, in tests, any redisLister-shaped fake) and the three configured
// list names. onRetry, if non-nil, is called once per claim-side
// sleep-and-retry in ClaimLoop (used to feed Supervisor.Stats()).
func NewWorkQueue(client redisLister, workQueue, workingQueue, completeQueue string, logger *zap.Logger, onRetry func()) *WorkQueue {
	return &WorkQueue{
		client:       client,
		work:         workQueue,
		working:      workingQueue,
		complete:     completeQueue,
		logger:       logger,
		errorTracker: newClaimErrorTracker(logger),
		onRetry:      onRetry,
	}
}

// Close marks the queue protocol closed. Subsequent Publish, Claim, and
// Settle calls return ErrQueueClosed without touching Redis, and a
// running ClaimLoop returns on its next iteration.
func (q *WorkQueue) Close() {
	atomic.StoreInt32(&q.closed, 1)
}

func (q *WorkQueue) isClosed() bool {
	return atomic.LoadInt32(&q.closed) == 1
}

// Publish left-pushes w onto the work list. It rejects invalid units
// synchronously, before they ever reach Redis.
func (q *WorkQueue) Publish(ctx context.Context, w WorkUnit) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	if !w.Valid() {
		return ErrInvalidWorkUnit
	}
	data, err := EncodeWorkUnit(w)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.work, data).Err()
}

// Claim performs one blocking right-pop-left-push attempt from work to
// working. A BRPOPLPUSH timeout (nothing claimable within claimTimeout)
// is reported via ok=false, err=nil and is not an error: the caller
// retries at once. Any other Redis error is reported via err and
// warrants a sleep-and-retry at the caller.
func (q *WorkQueue) Claim(ctx context.Context) (w WorkUnit, ok bool, err error) {
	if q.isClosed() {
		return WorkUnit{}, false, ErrQueueClosed
	}
	data, err := q.client.BRPopLPush(ctx, q.work, q.working, claimTimeout).Result()
	if errors.Is(err, redis.Nil) {
		q.errorTracker.recordSuccess() // a timeout is not an error
		return WorkUnit{}, false, nil
	}
	if err != nil {
		q.errorTracker.recordError(err)
		return WorkUnit{}, false, fmt.Errorf("fetchqueue: claiming work unit: %w", err)
	}
	q.errorTracker.recordSuccess()
	w, err = DecodeWorkUnit([]byte(data))
	if err != nil {
		return WorkUnit{}, false, err
	}
	return w, true, nil
}

// Settle commits the outcome of a claimed work unit: it left-pushes the
// outcome onto complete and removes the unit from working, in a single
// Redis transaction. If the transaction fails the unit remains on
// working — recovery is an external reconciler's job, not this
// protocol's.
func (q *WorkQueue) Settle(ctx context.Context, outcome WorkOutcome) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	outcomeData, err := EncodeWorkOutcome(outcome)
	if err != nil {
		return err
	}
	unitData, err := EncodeWorkUnit(outcome.WorkUnit)
	if err != nil {
		return err
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.complete, outcomeData)
		pipe.LRem(ctx, q.working, -1, unitData)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetchqueue: settling work unit: %w", err)
	}
	return nil
}

// ClaimLoop blocks in a tight claim-or-sleep loop, publishing each claimed
// work unit to dispatch. It returns when ctx is cancelled. Redis errors
// are logged and do not stop the loop.
func (q *WorkQueue) ClaimLoop(ctx context.Context, dispatch func(WorkUnit) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w, ok, err := q.Claim(ctx)
		if errors.Is(err, ErrQueueClosed) {
			return
		}
		if err != nil {
			q.logger.Warn("dispatcher claim error, retrying", zap.Error(err))
			if q.onRetry != nil {
				q.onRetry()
			}
			sleepOrDone(ctx, claimRetryDelay)
			continue
		}
		if !ok {
			continue // BRPOPLPUSH timed out; retry immediately, no extra sleep needed
		}
		if err := dispatch(w); err != nil {
			q.logger.Error("dispatcher failed to hand off claimed work unit", zap.Error(err))
		}
	}
}

// sleepOrDone sleeps for d, or returns early if ctx is cancelled, so a
// cancelled context can unblock a dispatcher that's mid-backoff.
func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
