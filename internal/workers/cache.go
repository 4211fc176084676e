package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Health is the status HealthCheck reports for a worker type.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthError     Health = "error"
)

// ErrNilWorker is returned when a factory succeeds without a worker.
var ErrNilWorker = errors.New("factory returned nil worker")

type entry struct {
	worker    Worker
	createdAt time.Time
	lastUsed  atomic.Int64
	usage     atomic.Int64
}

func (e *entry) touch(now time.Time) {
	e.lastUsed.Store(now.UnixNano())
	e.usage.Add(1)
}

// EntryInfo is a read-only view of a cached worker.
type EntryInfo struct {
	WorkerType string    `json:"worker_type"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	UsageCount int64     `json:"usage_count"`
	Circuit    string    `json:"circuit"`
	// ConsecutiveFailures counts invocation failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`
}

// Stats counts cache activity since start.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Constructions int64 `json:"constructions"`
	Failures      int64 `json:"failures"`
	Entries       int   `json:"entries"`
}

// HitRate returns hits over lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache memoizes one worker per worker type. Concurrent callers for an
// uncached type share a single factory invocation; a failed construction is
// reported to every waiter and leaves the key empty.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
	health  *HealthTracker
	now     func() time.Time

	hits          atomic.Int64
	misses        atomic.Int64
	constructions atomic.Int64
	failures      atomic.Int64

	onLookup func(hit bool)
}

type CacheOption func(*Cache)

// WithLookupHook registers a callback told whether each GetOrCreate was a hit.
func WithLookupHook(fn func(hit bool)) CacheOption {
	return func(c *Cache) { c.onLookup = fn }
}

func NewCache(health *HealthTracker, opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		health:  health,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) lookup(workerType string) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[workerType]
}

// GetOrCreate returns the cached worker or builds it with factory. The
// construction runs with the context of the caller that started it.
func (c *Cache) GetOrCreate(ctx context.Context, workerType string, factory Factory) (Worker, error) {
	if e := c.lookup(workerType); e != nil {
		c.hits.Add(1)
		c.reportLookup(true)
		e.touch(c.now())
		return e.worker, nil
	}
	c.misses.Add(1)
	c.reportLookup(false)

	v, err, _ := c.group.Do(workerType, func() (any, error) {
		if e := c.lookup(workerType); e != nil {
			return e, nil
		}
		c.constructions.Add(1)
		w, err := factory(ctx)
		if err == nil && w == nil {
			err = ErrNilWorker
		}
		if err != nil {
			c.failures.Add(1)
			return nil, fmt.Errorf("construct worker %s: %w", workerType, err)
		}

		e := &entry{worker: w, createdAt: c.now()}
		c.mu.Lock()
		c.entries[workerType] = e
		c.mu.Unlock()
		slog.Info("worker constructed", "worker", workerType)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	e := v.(*entry)
	e.touch(c.now())
	return e.worker, nil
}

func (c *Cache) reportLookup(hit bool) {
	if c.onLookup != nil {
		c.onLookup(hit)
	}
}

// Invalidate drops the cached worker and closes its circuit. It reports
// whether a worker was cached or the circuit held failures.
func (c *Cache) Invalidate(workerType string) bool {
	c.mu.Lock()
	_, ok := c.entries[workerType]
	delete(c.entries, workerType)
	c.mu.Unlock()

	reset := false
	if c.health != nil {
		reset = c.health.Reset(workerType)
	}
	if ok || reset {
		slog.Info("worker invalidated", "worker", workerType, "cached", ok, "circuit_reset", reset)
	}
	return ok || reset
}

// RetainCircuits forgets the circuit state of worker types not in keep.
func (c *Cache) RetainCircuits(keep []string) int {
	if c.health == nil {
		return 0
	}
	n := c.health.Retain(keep)
	if n > 0 {
		slog.Info("dropped circuits of unknown worker types", "count", n)
	}
	return n
}

// Evict drops workers unused for longer than idle and returns how many.
func (c *Cache) Evict(idle time.Duration) int {
	cutoff := c.now().Add(-idle).UnixNano()

	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for workerType, e := range c.entries {
		if e.lastUsed.Load() < cutoff {
			delete(c.entries, workerType)
			evicted++
		}
	}
	return evicted
}

// RunEvictor evicts idle workers every interval until ctx is done.
func (c *Cache) RunEvictor(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Evict(idle); n > 0 {
				slog.Info("evicted idle workers", "count", n)
			}
		}
	}
}

// HealthCheck reports the health of a cached worker without constructing one.
// An uncached worker type reports HealthError.
func (c *Cache) HealthCheck(ctx context.Context, workerType string) Health {
	e := c.lookup(workerType)
	if e == nil {
		return HealthError
	}
	if c.health != nil && c.health.State(workerType) != StateClosed {
		return HealthUnhealthy
	}
	if hc, ok := e.worker.(HealthChecker); ok {
		if err := hc.Ping(ctx); err != nil {
			slog.Warn("worker health probe failed", "worker", workerType, "error", err)
			return HealthError
		}
	}
	return HealthHealthy
}

// Available reports whether the worker type's circuit lets an invocation
// through. In HALF_OPEN this claims the single probe slot.
func (c *Cache) Available(workerType string) bool {
	if c.health == nil {
		return true
	}
	return c.health.Allow(workerType)
}

// ReleaseProbe hands back a probe slot claimed by Available when the
// invocation ended without a recordable outcome.
func (c *Cache) ReleaseProbe(workerType string) {
	if c.health != nil {
		c.health.Abandon(workerType)
	}
}

// RecordResult feeds an invocation outcome to the worker's circuit breaker.
func (c *Cache) RecordResult(workerType string, err error) {
	if c.health == nil {
		return
	}
	if err != nil {
		c.health.RecordFailure(workerType)
		return
	}
	c.health.RecordSuccess(workerType)
}

// Entries lists cached workers ordered by type.
func (c *Cache) Entries() []EntryInfo {
	c.mu.RLock()
	out := make([]EntryInfo, 0, len(c.entries))
	for workerType, e := range c.entries {
		info := EntryInfo{
			WorkerType: workerType,
			CreatedAt:  e.createdAt,
			LastUsedAt: time.Unix(0, e.lastUsed.Load()),
			UsageCount: e.usage.Load(),
			Circuit:    StateClosed.String(),
		}
		out = append(out, info)
	}
	c.mu.RUnlock()

	if c.health != nil {
		for i := range out {
			out[i].Circuit = c.health.State(out[i].WorkerType).String()
			out[i].ConsecutiveFailures = c.health.Failures(out[i].WorkerType)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerType < out[j].WorkerType })
	return out
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Constructions: c.constructions.Load(),
		Failures:      c.failures.Load(),
		Entries:       n,
	}
}
