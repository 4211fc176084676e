package workers

import (
	"sync"
	"time"
)

// HealthTracker keeps one circuit breaker per worker type. Breakers are not
// tied to cache entries: idle eviction keeps a failing worker's circuit open,
// while an explicit invalidation closes it again.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	failureThreshold      int
	recoveryProbeInterval time.Duration
}

func NewHealthTracker(failureThreshold int, recoveryProbeInterval time.Duration) *HealthTracker {
	return &HealthTracker{
		breakers:              make(map[string]*CircuitBreaker),
		failureThreshold:      failureThreshold,
		recoveryProbeInterval: recoveryProbeInterval,
	}
}

// breaker returns the worker type's breaker, creating it on first use.
func (ht *HealthTracker) breaker(workerType string) *CircuitBreaker {
	if cb := ht.existing(workerType); cb != nil {
		return cb
	}
	ht.mu.Lock()
	defer ht.mu.Unlock()
	if cb, ok := ht.breakers[workerType]; ok {
		return cb
	}
	cb := NewCircuitBreaker(ht.failureThreshold, ht.recoveryProbeInterval)
	ht.breakers[workerType] = cb
	return cb
}

func (ht *HealthTracker) existing(workerType string) *CircuitBreaker {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	return ht.breakers[workerType]
}

// State reports the circuit of a worker type. Types that never recorded an
// outcome are closed; asking does not allocate a breaker.
func (ht *HealthTracker) State(workerType string) CircuitState {
	if cb := ht.existing(workerType); cb != nil {
		return cb.State()
	}
	return StateClosed
}

// Failures returns the consecutive failures recorded for a worker type.
func (ht *HealthTracker) Failures(workerType string) int {
	if cb := ht.existing(workerType); cb != nil {
		return cb.Failures()
	}
	return 0
}

// Allow claims an invocation slot for the worker type (the probe slot when
// its circuit is half open).
func (ht *HealthTracker) Allow(workerType string) bool {
	return ht.breaker(workerType).Allow()
}

// Abandon releases a probe slot claimed by Allow whose outcome is unknown.
func (ht *HealthTracker) Abandon(workerType string) {
	if cb := ht.existing(workerType); cb != nil {
		cb.Abandon()
	}
}

func (ht *HealthTracker) RecordSuccess(workerType string) {
	ht.breaker(workerType).RecordSuccess()
}

func (ht *HealthTracker) RecordFailure(workerType string) {
	ht.breaker(workerType).RecordFailure()
}

// Reset closes the worker type's circuit. It reports whether the circuit was
// carrying failures or was not closed.
func (ht *HealthTracker) Reset(workerType string) bool {
	cb := ht.existing(workerType)
	if cb == nil {
		return false
	}
	dirty := cb.State() != StateClosed || cb.Failures() > 0
	cb.Reset()
	return dirty
}

// Retain drops the breakers of worker types not in keep and returns how many
// were dropped.
func (ht *HealthTracker) Retain(keep []string) int {
	known := make(map[string]struct{}, len(keep))
	for _, workerType := range keep {
		known[workerType] = struct{}{}
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	dropped := 0
	for workerType := range ht.breakers {
		if _, ok := known[workerType]; !ok {
			delete(ht.breakers, workerType)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked worker types.
func (ht *HealthTracker) Len() int {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	return len(ht.breakers)
}
