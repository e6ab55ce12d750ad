// supervisor.go
package fetchqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Supervisor owns a worker pool and a dedicated dispatcher goroutine that
// pulls work units from Redis and feeds them to workers; it restarts
// failed workers and coordinates shutdown.
type Supervisor struct {
	conf   Config
	logger *zap.Logger

	redisClient *redis.Client
	queue       *WorkQueue
	msgCh       chan []Message
	jobsCh      chan WorkUnit
	delegate    Delegate
	stats       *statsCounters

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewSupervisor validates conf and builds a Supervisor. It does not start
// any goroutines; call Run for that.
func NewSupervisor(conf Config) (*Supervisor, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("fetchqueue: invalid config: %w", err)
	}
	if conf.MessageChannelCapacity <= 0 {
		conf.MessageChannelCapacity = 100
	}
	if conf.ConsumerQueueLimit <= 0 {
		conf.ConsumerQueueLimit = 10
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", conf.Redis.Host, conf.Redis.Port),
		Password:     conf.Redis.Password,
		DialTimeout:  conf.Redis.Timeout,
		ReadTimeout:  conf.Redis.Timeout,
		WriteTimeout: conf.Redis.Timeout,
		PoolSize:     conf.Redis.MaxActive,
	})

	s := &Supervisor{
		conf:        conf,
		logger:      conf.Logger,
		redisClient: redisClient,
		msgCh:       make(chan []Message, conf.MessageChannelCapacity),
		jobsCh:      make(chan WorkUnit, conf.ConsumerQueueLimit),
		stats:       &statsCounters{},
	}
	s.queue = NewWorkQueue(redisClient, conf.WorkQueue, conf.WorkingQueue, conf.CompleteQueue, conf.Logger,
		func() { s.stats.addDispatcherRetries(1) })
	s.delegate = func(messages []Message) error {
		select {
		case s.msgCh <- messages:
			return nil
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
	return s, nil
}

// Messages returns the downstream channel. Each accepted fetch delivers
// one message-list send. This is a blocking, backpressure-applying
// channel: if callers stop draining it, workers block on delegate sends
// and the dispatcher eventually stops draining Redis.
func (s *Supervisor) Messages() <-chan []Message {
	return s.msgCh
}

// Stats returns a snapshot of runtime counters.
func (s *Supervisor) Stats() Stats {
	return s.stats.snapshot()
}

// Run starts the dispatcher and worker pool and blocks until ctx is
// cancelled or Stop is called. It is safe to call Stop from another
// goroutine while Run is blocked.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("fetchqueue: supervisor already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx, cancel := s.ctx, s.cancel
	s.mu.Unlock()

	s.logger.Info("starting supervisor",
		zap.Int("consumer_threads", s.conf.ConsumerThreads),
		zap.Duration("fetch_timeout", s.conf.FetchTimeout))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runDispatcher(runCtx)
	}()

	for i := 0; i < s.conf.ConsumerThreads; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			s.runSupervisedWorker(runCtx, id)
		}(i)
	}

	<-runCtx.Done()
	cancel()
	s.shutdown()
	return nil
}

// Stop requests shutdown. Run returns once teardown completes.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// runDispatcher is the single supervisor-owned dispatcher thread: claim
// one work unit at a time from Redis and hand it to the worker pool's
// internal queue, until interrupted. Errors are logged; the loop
// continues.
func (s *Supervisor) runDispatcher(ctx context.Context) {
	s.logger.Info("dispatcher started")
	defer s.logger.Info("dispatcher stopped")

	s.queue.ClaimLoop(ctx, func(w WorkUnit) error {
		s.stats.addClaimed(1)
		select {
		case s.jobsCh <- w:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// runSupervisedWorker runs one worker slot as a restart loop: a worker
// that exits from a panicked cycle is re-initialised with a fresh
// registry and an incremented restart counter, and resumes pulling from
// jobsCh, until ctx is cancelled.
func (s *Supervisor) runSupervisedWorker(ctx context.Context, id int) {
	var restarts int64

	for {
		state := s.initWorkerState(restarts)
		worker := NewWorker(id, s.queue, s.conf, s.delegate, s.stats)

		done := make(chan struct{})
		var panicked any
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					panicked = r
				}
			}()
			worker.Run(ctx, state, s.jobsCh)
		}()
		<-done

		state.Registry.CloseAll() // never hand a restarted worker stale connections

		if ctx.Err() != nil {
			return
		}
		if panicked == nil {
			return // Run returned cleanly only because jobsCh closed or ctx ended
		}

		restarts++
		s.stats.addWorkerRestarts(1)
		s.logger.Error("worker failed, restarting",
			zap.Int("worker_id", id), zap.Int64("restart", restarts), zap.Any("panic", panicked))
	}
}

// initWorkerState builds a fresh per-worker state: a new ProducerRegistry
// bound to the configured ConnFactory.
func (s *Supervisor) initWorkerState(restarts int64) *WorkerState {
	registry := NewProducerRegistry(
		s.conf.ConnFactory,
		FetchConnConfig{FetchTimeout: int(s.conf.FetchTimeout / time.Millisecond)},
		s.logger,
		func() { s.stats.addProducersCreated(1) },
	)
	return &WorkerState{Registry: registry, Restarts: restarts, Status: StatusOK}
}

// shutdown waits up to the grace period for the worker slots and the
// dispatcher to exit (each worker slot closes its own producer
// connections as it exits), then closes the queue protocol, which stops
// a dispatcher still running at its next claim, and the Redis pool last.
// Workers and the dispatcher both watch s.ctx, so cancel() (already
// called by the time shutdown runs) already signalled them; shutdown's
// job is to bound how long it waits.
func (s *Supervisor) shutdown() {
	s.logger.Info("shutting down supervisor", zap.Duration("grace", s.conf.ShutdownGrace))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.conf.ShutdownGrace):
		s.logger.Warn("shutdown grace period elapsed, forcing stop")
	}

	s.queue.Close()
	if err := s.redisClient.Close(); err != nil {
		s.logger.Warn("error closing redis client", zap.Error(err))
	}
	s.logger.Info("supervisor stopped")
}
