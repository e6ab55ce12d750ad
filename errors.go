// errors.go
package fetchqueue

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Sentinel errors core components return, for callers that need errors.Is.
var (
	ErrInvalidWorkUnit = errors.New("fetchqueue: work unit missing required fields")
	ErrNoProducer      = errors.New("fetchqueue: no producer connection for broker")
	ErrQueueClosed     = errors.New("fetchqueue: queue protocol closed")
)

// claimErrorTracker counts consecutive Redis claim errors for
// observability. It never signals a halt: claim-side Redis errors are a
// bounded sleep-and-retry condition, not a stop condition.
type claimErrorTracker struct {
	mu                sync.Mutex
	consecutiveErrors int
	totalErrors       int64
	logger            *zap.Logger
}

func newClaimErrorTracker(logger *zap.Logger) *claimErrorTracker {
	return &claimErrorTracker{logger: logger}
}

// recordError records a claim-side error and logs at increasing severity
// the longer the streak runs.
func (et *claimErrorTracker) recordError(err error) {
	et.mu.Lock()
	defer et.mu.Unlock()

	et.consecutiveErrors++
	et.totalErrors++

	if et.consecutiveErrors >= 5 {
		et.logger.Error("dispatcher claim failing repeatedly",
			zap.Int("consecutive_errors", et.consecutiveErrors),
			zap.Int64("total_errors", et.totalErrors),
			zap.Error(err))
	} else {
		et.logger.Warn("dispatcher claim error",
			zap.Int("consecutive_errors", et.consecutiveErrors),
			zap.Error(err))
	}
}

// recordSuccess resets the consecutive-error counter.
func (et *claimErrorTracker) recordSuccess() {
	et.mu.Lock()
	defer et.mu.Unlock()
	if et.consecutiveErrors > 0 {
		et.logger.Debug("dispatcher claim recovered", zap.Int("was", et.consecutiveErrors))
		et.consecutiveErrors = 0
	}
}

// stats returns the current streak and lifetime error count.
func (et *claimErrorTracker) stats() (consecutive int, total int64) {
	et.mu.Lock()
	defer et.mu.Unlock()
	return et.consecutiveErrors, et.totalErrors
}
