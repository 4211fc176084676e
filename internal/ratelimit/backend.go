package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/af-corp/aegis-orchestrator/internal/config"
)

// Bucket is the fixed-window counter for one (scope kind, scope id) key.
type Bucket struct {
	WindowStart time.Time
	Count       float64
	LastSeen    time.Time
}

// Backend stores buckets. Add applies cost after resetting an elapsed window;
// Peek reports the same view without mutating anything.
type Backend interface {
	Add(ctx context.Context, key string, cost float64, lim config.ScopeLimit, now time.Time) (Bucket, error)
	Peek(ctx context.Context, key string, lim config.ScopeLimit, now time.Time) (Bucket, error)
}

type memoryBucket struct {
	mu sync.Mutex
	b  Bucket
	// removed is set by Sweep; a bucket fetched before removal must not count.
	removed bool
}

func (mb *memoryBucket) add(cost float64, lim config.ScopeLimit, now time.Time) (Bucket, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.removed {
		return Bucket{}, false
	}
	if mb.b.WindowStart.IsZero() || now.Sub(mb.b.WindowStart) >= lim.Window {
		mb.b.WindowStart = now
		mb.b.Count = 0
	}
	mb.b.Count += cost
	mb.b.LastSeen = now
	return mb.b, true
}

// MemoryBackend keeps buckets in process. Buckets idle longer than the idle
// TTL are removed by Sweep.
type MemoryBackend struct {
	mu      sync.RWMutex
	buckets map[string]*memoryBucket
	idleTTL time.Duration
}

func NewMemoryBackend(idleTTL time.Duration) *MemoryBackend {
	return &MemoryBackend{
		buckets: make(map[string]*memoryBucket),
		idleTTL: idleTTL,
	}
}

func (m *MemoryBackend) get(key string) *memoryBucket {
	m.mu.RLock()
	mb, ok := m.buckets[key]
	m.mu.RUnlock()
	if ok {
		return mb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if mb, ok := m.buckets[key]; ok {
		return mb
	}
	mb = &memoryBucket{}
	m.buckets[key] = mb
	return mb
}

func (m *MemoryBackend) Add(_ context.Context, key string, cost float64, lim config.ScopeLimit, now time.Time) (Bucket, error) {
	for {
		if b, ok := m.get(key).add(cost, lim, now); ok {
			return b, nil
		}
	}
}

func (m *MemoryBackend) Peek(_ context.Context, key string, lim config.ScopeLimit, now time.Time) (Bucket, error) {
	m.mu.RLock()
	mb, ok := m.buckets[key]
	m.mu.RUnlock()
	if !ok {
		return Bucket{WindowStart: now}, nil
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	if now.Sub(mb.b.WindowStart) >= lim.Window {
		return Bucket{WindowStart: now, LastSeen: mb.b.LastSeen}, nil
	}
	return mb.b, nil
}

// Sweep removes buckets not touched within the idle TTL and returns how many
// were removed.
func (m *MemoryBackend) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, mb := range m.buckets {
		mb.mu.Lock()
		idle := now.Sub(mb.b.LastSeen) > m.idleTTL
		if idle {
			mb.removed = true
			delete(m.buckets, key)
			removed++
		}
		mb.mu.Unlock()
	}
	return removed
}

// Len returns the number of live buckets.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.buckets)
}

// RunJanitor sweeps idle buckets every interval until ctx is done.
func (m *MemoryBackend) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}
