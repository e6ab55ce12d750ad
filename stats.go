// stats.go
package fetchqueue

import "sync/atomic"

// statsCounters holds the atomic counters backing Stats, exposed via a
// snapshot method.
type statsCounters struct {
	unitsClaimed      int64
	unitsSettledOK    int64
	unitsSettledFail  int64
	producersCreated  int64
	workerRestarts    int64
	dispatcherRetries int64
}

func (s *statsCounters) addClaimed(n int64)           { atomic.AddInt64(&s.unitsClaimed, n) }
func (s *statsCounters) addSettledOK(n int64)         { atomic.AddInt64(&s.unitsSettledOK, n) }
func (s *statsCounters) addSettledFail(n int64)       { atomic.AddInt64(&s.unitsSettledFail, n) }
func (s *statsCounters) addProducersCreated(n int64)  { atomic.AddInt64(&s.producersCreated, n) }
func (s *statsCounters) addWorkerRestarts(n int64)    { atomic.AddInt64(&s.workerRestarts, n) }
func (s *statsCounters) addDispatcherRetries(n int64) { atomic.AddInt64(&s.dispatcherRetries, n) }

func (s *statsCounters) snapshot() Stats {
	return Stats{
		UnitsClaimed:      atomic.LoadInt64(&s.unitsClaimed),
		UnitsSettledOK:    atomic.LoadInt64(&s.unitsSettledOK),
		UnitsSettledFail:  atomic.LoadInt64(&s.unitsSettledFail),
		ProducersCreated:  atomic.LoadInt64(&s.producersCreated),
		WorkerRestarts:    atomic.LoadInt64(&s.workerRestarts),
		DispatcherRetries: atomic.LoadInt64(&s.dispatcherRetries),
	}
}
