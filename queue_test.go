package fetchqueue_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaykit/fetchqueue"
)

// fakeRedisLister is a minimal in-memory stand-in for the three Redis
// list operations and the transaction Settle needs. It is this module's
// own test seam (queue.go's redisLister), not a general Redis emulator:
// no sibling example repo in the pack carries a Redis test double to
// ground this on, so it is hand-rolled against the documented semantics
// of BRPOPLPUSH/LPUSH/LREM.
type fakeRedisLister struct {
	mu    sync.Mutex
	lists map[string][]string
}

func newFakeRedisLister() *fakeRedisLister {
	return &fakeRedisLister{lists: make(map[string][]string)}
}

func toStr(v interface{}) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}

func (f *fakeRedisLister) BRPopLPush(ctx context.Context, source, destination string, _ time.Duration) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmd := redis.NewStringCmd(ctx)
	lst := f.lists[source]
	if len(lst) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	val := lst[len(lst)-1]
	f.lists[source] = lst[:len(lst)-1]
	f.lists[destination] = append([]string{val}, f.lists[destination]...)
	cmd.SetVal(val)
	return cmd
}

func (f *fakeRedisLister) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.lists[key] = append([]string{toStr(v)}, f.lists[key]...)
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.lists[key])))
	return cmd
}

func (f *fakeRedisLister) LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	needle := toStr(value)
	lst := f.lists[key]
	limit := count // LREM removes |count| occurrences; 0 removes all
	if limit < 0 {
		limit = -limit
	}
	var out []string
	var removed int64
	for _, item := range lst {
		if item == needle && (limit == 0 || removed < limit) {
			removed++
			continue
		}
		out = append(out, item)
	}
	f.lists[key] = out
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(removed)
	return cmd
}

// txPipeliner applies LPush/LRem directly against the owning fakeRedisLister
// as TxPipelined's fn runs, standing in for a real pipeline's deferred exec.
type txPipeliner struct {
	redis.Pipeliner // embedded nil interface: only the two overrides below are safe to call
	owner           *fakeRedisLister
}

func (p *txPipeliner) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	return p.owner.LPush(ctx, key, values...)
}

func (p *txPipeliner) LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd {
	return p.owner.LRem(ctx, key, count, value)
}

func (f *fakeRedisLister) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	p := &txPipeliner{owner: f}
	if err := fn(p); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeRedisLister) len(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lists[key])
}

func newTestQueue() (*fetchqueue.WorkQueue, *fakeRedisLister) {
	fake := newFakeRedisLister()
	q := fetchqueue.NewWorkQueue(fake, "work", "working", "complete", zap.NewNop(), nil)
	return q, fake
}

func TestWorkQueuePublishRejectsInvalidUnit(t *testing.T) {
	q, _ := newTestQueue()
	err := q.Publish(context.Background(), fetchqueue.WorkUnit{})
	assert.ErrorIs(t, err, fetchqueue.ErrInvalidWorkUnit)
}

func TestWorkQueuePublishThenClaim(t *testing.T) {
	q, fake := newTestQueue()
	w := unit("orders", 0, 100, 50)

	require.NoError(t, q.Publish(context.Background(), w))
	assert.Equal(t, 1, fake.len("work"))

	got, ok, err := q.Claim(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, w, got)
	assert.Equal(t, 0, fake.len("work"))
	assert.Equal(t, 1, fake.len("working"))
}

func TestWorkQueueClaimOnEmptyQueueTimesOutWithoutError(t *testing.T) {
	q, _ := newTestQueue()
	_, ok, err := q.Claim(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorkQueueSettleMovesFromWorkingToComplete(t *testing.T) {
	q, fake := newTestQueue()
	w := unit("orders", 0, 100, 50)
	require.NoError(t, q.Publish(context.Background(), w))

	claimed, ok, err := q.Claim(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	outcome := fetchqueue.WorkOutcome{WorkUnit: claimed, Status: fetchqueue.StatusOK, RespData: &fetchqueue.RespData{OffsetRead: 149}}
	require.NoError(t, q.Settle(context.Background(), outcome))

	assert.Equal(t, 0, fake.len("working"))
	assert.Equal(t, 1, fake.len("complete"))
}

func TestWorkQueueClaimLoopDispatchesUntilCancelled(t *testing.T) {
	q, _ := newTestQueue()
	w := unit("orders", 0, 0, 10)
	require.NoError(t, q.Publish(context.Background(), w))

	ctx, cancel := context.WithCancel(context.Background())
	dispatched := make(chan fetchqueue.WorkUnit, 1)

	done := make(chan struct{})
	go func() {
		q.ClaimLoop(ctx, func(got fetchqueue.WorkUnit) error {
			dispatched <- got
			return nil
		})
		close(done)
	}()

	select {
	case got := <-dispatched:
		assert.Equal(t, w, got)
	case <-time.After(2 * time.Second):
		t.Fatal("ClaimLoop never dispatched the published unit")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ClaimLoop did not stop after cancellation")
	}
}

func TestWorkQueueCloseRejectsSubsequentOperations(t *testing.T) {
	q, _ := newTestQueue()
	q.Close()

	err := q.Publish(context.Background(), unit("orders", 0, 0, 10))
	assert.ErrorIs(t, err, fetchqueue.ErrQueueClosed)

	_, ok, err := q.Claim(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, fetchqueue.ErrQueueClosed)

	err = q.Settle(context.Background(), fetchqueue.WorkOutcome{WorkUnit: unit("orders", 0, 0, 10)})
	assert.ErrorIs(t, err, fetchqueue.ErrQueueClosed)
}

func TestWorkQueueClaimLoopStopsWhenClosed(t *testing.T) {
	q, _ := newTestQueue()
	q.Close()

	done := make(chan struct{})
	go func() {
		q.ClaimLoop(context.Background(), func(fetchqueue.WorkUnit) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ClaimLoop did not stop once the queue was closed")
	}
}

// erroringLister always returns a non-nil, non-redis.Nil error from
// BRPopLPush, to exercise ClaimLoop's sleep-and-retry branch.
type erroringLister struct{}

func (erroringLister) BRPopLPush(ctx context.Context, _, _ string, _ time.Duration) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	cmd.SetErr(fmt.Errorf("connection reset"))
	return cmd
}
func (erroringLister) LPush(ctx context.Context, _ string, _ ...interface{}) *redis.IntCmd {
	return redis.NewIntCmd(ctx)
}
func (erroringLister) LRem(ctx context.Context, _ string, _ int64, _ interface{}) *redis.IntCmd {
	return redis.NewIntCmd(ctx)
}
func (erroringLister) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	return nil, nil
}

func TestWorkQueueClaimLoopInvokesOnRetryOnClaimError(t *testing.T) {
	var retries int32
	q := fetchqueue.NewWorkQueue(erroringLister{}, "work", "working", "complete", zap.NewNop(),
		func() { atomic.AddInt32(&retries, 1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.ClaimLoop(ctx, func(fetchqueue.WorkUnit) error { return nil })
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&retries) > 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
