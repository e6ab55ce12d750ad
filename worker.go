// worker.go
package fetchqueue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Delegate is the downstream hook a Worker invokes with the messages from
// a settled fetch. It must be non-blocking with respect to its own
// errors — the Worker treats it as a fallible side effect and never lets
// it abort the cycle.
type Delegate func(messages []Message) error

// WorkerState is the per-worker state threaded through one cycle to the
// next. Each worker owns its own ProducerRegistry outright, so broker
// connections never need a shared map or shared lock.
type WorkerState struct {
	Registry *ProducerRegistry
	Restarts int64
	Status   Status
}

// Worker repeatedly dequeues a work unit, fetches from the resolved
// broker, waits with timeout, parses, and publishes the outcome.
type Worker struct {
	id       int
	queue    *WorkQueue
	conf     Config
	delegate Delegate
	logger   *zap.Logger
	stats    *statsCounters
}

// NewWorker builds a Worker. The WorkerState later passed to Run must
// already have its Registry initialized.
func NewWorker(id int, queue *WorkQueue, conf Config, delegate Delegate, stats *statsCounters) *Worker {
	return &Worker{
		id:       id,
		queue:    queue,
		conf:     conf,
		delegate: delegate,
		logger:   conf.Logger,
		stats:    stats,
	}
}

// Run executes the worker loop: pull one work unit at a time from jobs and
// process it to completion, until jobs is closed or ctx is cancelled. jobs
// is fed by the dispatcher's claim loop.
func (w *Worker) Run(ctx context.Context, state *WorkerState, jobs <-chan WorkUnit) {
	w.logger.Info("worker started", zap.Int("worker_id", w.id))
	defer w.logger.Info("worker stopped", zap.Int("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			return
		case unit, ok := <-jobs:
			if !ok {
				return
			}
			// A panic anywhere in the cycle gets a best-effort (fail,
			// nil) settle, then propagates past Run so the
			// supervisor's restart loop rebuilds this worker with
			// fresh state. Normal per-step failures (producer
			// creation, timeouts, delegate errors) are all handled
			// inside processUnit without panicking and never reach
			// this recover.
			func() {
				defer func() {
					if r := recover(); r != nil {
						w.settleBestEffort(ctx, unit)
						panic(r)
					}
				}()
				w.processUnit(ctx, state, unit)
			}()
		}
	}
}

// settleBestEffort records a (fail, nil) outcome for unit after a panic
// unwound the normal cycle before it could settle on its own.
func (w *Worker) settleBestEffort(ctx context.Context, unit WorkUnit) {
	outcome := WorkOutcome{WorkUnit: unit, Status: StatusFail}
	if err := w.queue.Settle(ctx, outcome); err != nil {
		w.logger.Error("failed to settle work unit after panic", zap.Error(err))
		return
	}
	w.stats.addSettledFail(1)
}

// processUnit runs one full cycle for unit, guaranteeing exactly one
// Settle call regardless of which branch runCycle takes.
func (w *Worker) processUnit(ctx context.Context, state *WorkerState, unit WorkUnit) {
	outcome := w.runCycle(ctx, state, unit)

	if err := w.queue.Settle(ctx, outcome); err != nil {
		// A settle-side Redis error leaves the unit on working for an
		// external reconciler; nothing more to do here.
		w.logger.Error("failed to settle work unit",
			zap.String("topic", unit.Topic), zap.Int32("partition", unit.Partition), zap.Error(err))
		return
	}
	if outcome.Status == StatusOK {
		w.stats.addSettledOK(1)
	} else {
		w.stats.addSettledFail(1)
	}
}

// runCycle resolves the producer, dispatches the fetch, waits, classifies
// the result, invokes the delegate, and computes the outcome.
func (w *Worker) runCycle(ctx context.Context, state *WorkerState, unit WorkUnit) WorkOutcome {
	conn, err := state.Registry.GetOrCreate(ctx, unit.Producer)
	if err != nil {
		w.logger.Warn("no producer connection", zap.String("broker", unit.Producer.String()), zap.Error(err))
		return WorkOutcome{WorkUnit: unit, Status: StatusFail}
	}

	fetch := TopicFetch{
		Topic:      unit.Topic,
		Partitions: []PartitionOffset{{Partition: unit.Partition, Offset: unit.Offset}},
	}
	if err := conn.SendFetch(ctx, []TopicFetch{fetch}); err != nil {
		w.logger.Warn("send-fetch failed", zap.Error(err))
		return WorkOutcome{WorkUnit: unit, Status: StatusFail}
	}

	status, messages := w.waitAndClassify(ctx, conn, unit)

	if err := w.invokeDelegate(messages); err != nil {
		w.logger.Warn("delegate failed", zap.Error(err))
		return WorkOutcome{WorkUnit: unit, Status: StatusFail}
	}

	return w.buildOutcome(unit, status, messages)
}

// waitAndClassify multiplexes the producer's read channel, error channel,
// and a fetch timeout. A bounded number of Reconnected sentinels are
// absorbed by retrying the wait without resending the fetch, so a flaky
// broker connection can't recurse this into an unbounded retry loop.
func (w *Worker) waitAndClassify(ctx context.Context, conn ProducerConn, unit WorkUnit) (Status, []Message) {
	timeout := w.conf.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	for attempt := 0; attempt <= w.conf.MaxReconnectRetries; attempt++ {
		timer := time.NewTimer(timeout)
		select {
		case ev, ok := <-conn.ReadCh():
			timer.Stop()
			if !ok {
				return StatusFail, nil
			}
			switch {
			case ev.Reconnected:
				continue // retry the wait; do not resend the fetch
			case ev.Poison:
				return StatusFail, nil
			default:
				messages, _, err := ReadFetchResponse(unit, ev.Bytes, w.decoder())
				if err != nil {
					w.logger.Warn("fetch response decode failed", zap.Error(err))
					return StatusFail, nil
				}
				return StatusOK, messages
			}

		case err, ok := <-conn.ErrorCh():
			timer.Stop()
			if ok {
				w.logger.Warn("producer error-ch", zap.Error(err))
			}
			return StatusFail, nil

		case <-timer.C:
			return StatusFail, nil

		case <-ctx.Done():
			timer.Stop()
			return StatusFail, nil
		}
	}
	return StatusFail, nil // exhausted bounded reconnect retries
}

// invokeDelegate calls the delegate and converts any error (or panic) into
// a plain error, so the Worker can fold it into a fail outcome without
// aborting.
func (w *Worker) invokeDelegate(messages []Message) (err error) {
	if len(messages) == 0 {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delegate panicked: %v", r)
		}
	}()
	return w.delegate(messages)
}

// buildOutcome computes the settled RespData: nil when the cycle produced
// no messages, otherwise the highest offset read.
func (w *Worker) buildOutcome(unit WorkUnit, status Status, messages []Message) WorkOutcome {
	if len(messages) == 0 {
		return WorkOutcome{WorkUnit: unit, Status: status, RespData: nil}
	}
	offsetRead, _ := MaxOffset(messages)
	return WorkOutcome{WorkUnit: unit, Status: status, RespData: &RespData{OffsetRead: offsetRead}}
}

// decoder returns the configured fetch response decoder, or the default
// newline-delimited-JSON one if none was set.
func (w *Worker) decoder() Decoder {
	if w.conf.Decoder != nil {
		return w.conf.Decoder
	}
	return defaultDecoder{}
}
