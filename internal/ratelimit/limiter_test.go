package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/af-corp/aegis-orchestrator/internal/audit"
	"github.com/af-corp/aegis-orchestrator/internal/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testCfg(scopes map[string]config.ScopeLimit) func() config.RateLimitConfig {
	return func() config.RateLimitConfig {
		return config.RateLimitConfig{
			Backend:  "memory",
			Endpoint: "chat",
			IdleTTL:  10 * time.Minute,
			Scopes:   scopes,
		}
	}
}

func newTestLimiter(backend Backend, rec audit.Recorder, scopes map[string]config.ScopeLimit) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter(backend, rec, testCfg(scopes))
	l.now = clock.Now
	return l, clock
}

type errBackend struct{}

func (errBackend) Add(context.Context, string, float64, config.ScopeLimit, time.Time) (Bucket, error) {
	return Bucket{}, errors.New("backend down")
}

func (errBackend) Peek(context.Context, string, config.ScopeLimit, time.Time) (Bucket, error) {
	return Bucket{}, errors.New("backend down")
}

func countEvents(sink *audit.MemorySink, eventType string, sev audit.Severity) int {
	n := 0
	for _, ev := range sink.Events() {
		if ev.EventType == eventType && ev.Severity == sev {
			n++
		}
	}
	return n
}

func TestCheckLimit_WindowAndBurst(t *testing.T) {
	l, clock := newTestLimiter(NewMemoryBackend(time.Minute), nil, map[string]config.ScopeLimit{
		"user": {MaxRequests: 3, Window: time.Minute, Burst: 1},
	})
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		allowed, retry, count := l.CheckLimit(ctx, ScopeUser, "u1", 1)
		if !allowed {
			t.Fatalf("request %d should be allowed within max+burst", i)
		}
		if retry != 0 {
			t.Errorf("request %d: expected no retry hint, got %d", i, retry)
		}
		if count != i {
			t.Errorf("request %d: expected count %d, got %d", i, i, count)
		}
	}

	allowed, retry, count := l.CheckLimit(ctx, ScopeUser, "u1", 1)
	if allowed {
		t.Fatal("expected rejection beyond max+burst")
	}
	if retry != 60 {
		t.Errorf("expected retry after 60s, got %d", retry)
	}
	if count != 5 {
		t.Errorf("expected count 5, got %d", count)
	}

	clock.Advance(30*time.Second + 500*time.Millisecond)
	allowed, retry, _ = l.CheckLimit(ctx, ScopeUser, "u1", 1)
	if allowed {
		t.Fatal("expected rejection within the same window")
	}
	if retry != 30 {
		t.Errorf("expected retry after 30s, got %d", retry)
	}

	clock.Advance(30 * time.Second)
	allowed, _, count = l.CheckLimit(ctx, ScopeUser, "u1", 1)
	if !allowed || count != 1 {
		t.Errorf("expected a fresh window, got allowed=%v count=%d", allowed, count)
	}
}

func TestCheckLimit_RetryAfterAtLeastOne(t *testing.T) {
	l, clock := newTestLimiter(NewMemoryBackend(time.Minute), nil, map[string]config.ScopeLimit{
		"ip": {MaxRequests: 1, Window: time.Minute},
	})
	ctx := context.Background()
	l.CheckLimit(ctx, ScopeIP, "10.0.0.1", 1)
	clock.Advance(59*time.Second + 900*time.Millisecond)

	allowed, retry, _ := l.CheckLimit(ctx, ScopeIP, "10.0.0.1", 1)
	if allowed {
		t.Fatal("expected rejection")
	}
	if retry != 1 {
		t.Errorf("expected retry after 1s, got %d", retry)
	}
}

func TestCheckLimit_ZeroCostPeeks(t *testing.T) {
	backend := NewMemoryBackend(time.Minute)
	l, _ := newTestLimiter(backend, nil, map[string]config.ScopeLimit{
		"user": {MaxRequests: 1, Window: time.Minute},
	})
	ctx := context.Background()

	for range 3 {
		allowed, _, count := l.CheckLimit(ctx, ScopeUser, "u1", 0)
		if !allowed || count != 0 {
			t.Fatalf("peek should not consume: allowed=%v count=%d", allowed, count)
		}
	}
	if backend.Len() != 0 {
		t.Errorf("peek should not create buckets, got %d", backend.Len())
	}

	l.CheckLimit(ctx, ScopeUser, "u1", 1)
	_, _, count := l.CheckLimit(ctx, ScopeUser, "u1", 0)
	if count != 1 {
		t.Errorf("expected peek to see count 1, got %d", count)
	}
}

func TestCheckLimit_FractionalCost(t *testing.T) {
	l, _ := newTestLimiter(NewMemoryBackend(time.Minute), nil, map[string]config.ScopeLimit{
		"user": {MaxRequests: 1, Window: time.Minute},
	})
	ctx := context.Background()

	for i := range 2 {
		if allowed, _, _ := l.CheckLimit(ctx, ScopeUser, "u1", 0.5); !allowed {
			t.Fatalf("half-cost request %d should be allowed", i)
		}
	}
	if allowed, _, _ := l.CheckLimit(ctx, ScopeUser, "u1", 0.5); allowed {
		t.Error("third half-cost request should exceed the limit")
	}
}

func TestCheckLimit_UnconfiguredScope(t *testing.T) {
	l, _ := newTestLimiter(errBackend{}, nil, map[string]config.ScopeLimit{})
	allowed, retry, count := l.CheckLimit(context.Background(), ScopeGlobal, "*", 1)
	if !allowed || retry != 0 || count != 0 {
		t.Errorf("unconfigured scope should pass untouched, got %v %d %d", allowed, retry, count)
	}
}

func TestCheckLimit_FailOpen(t *testing.T) {
	sink := &audit.MemorySink{}
	l, _ := newTestLimiter(errBackend{}, sink, map[string]config.ScopeLimit{
		"user": {MaxRequests: 1, Window: time.Minute},
	})

	allowed, retry, _ := l.CheckLimit(context.Background(), ScopeUser, "u1", 1)
	if !allowed {
		t.Error("expected fail open on backend error")
	}
	if retry != 0 {
		t.Errorf("expected no retry hint, got %d", retry)
	}
	if n := countEvents(sink, audit.EventRateLimitBackendUnavailable, audit.SeverityWarning); n != 1 {
		t.Errorf("expected exactly 1 warning event, got %d", n)
	}
	if len(sink.Events()) != 1 {
		t.Errorf("expected no other events, got %d", len(sink.Events()))
	}
}

func TestCheckChain_OrderAndShortCircuit(t *testing.T) {
	backend := NewMemoryBackend(time.Minute)
	l, _ := newTestLimiter(backend, nil, map[string]config.ScopeLimit{
		"global":   {MaxRequests: 100, Window: time.Minute},
		"endpoint": {MaxRequests: 100, Window: time.Minute},
		"ip":       {MaxRequests: 1, Window: time.Minute},
		"user":     {MaxRequests: 100, Window: time.Minute},
	})
	ctx := context.Background()
	scopes := []Scope{
		{Kind: ScopeUser, ID: "u1"},
		{Kind: ScopeIP, ID: "10.0.0.1"},
		{Kind: ScopeEndpoint, ID: "chat"},
		{Kind: ScopeGlobal, ID: "*"},
	}

	d := l.CheckChain(ctx, scopes, 1)
	if !d.Allowed {
		t.Fatalf("first request should pass, rejected by %s", d.Scope.Kind)
	}
	if d.Scope.Kind != ScopeUser {
		t.Errorf("expected user to be checked last, got %s", d.Scope.Kind)
	}

	d = l.CheckChain(ctx, scopes, 1)
	if d.Allowed {
		t.Fatal("second request should be rejected by the ip scope")
	}
	if d.Scope.Kind != ScopeIP {
		t.Errorf("expected ip rejection, got %s", d.Scope.Kind)
	}
	if d.RetryAfterSeconds < 1 {
		t.Errorf("expected retry hint, got %d", d.RetryAfterSeconds)
	}

	user, _ := backend.Peek(ctx, "user:u1", config.ScopeLimit{Window: time.Minute}, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if user.Count != 1 {
		t.Errorf("user bucket should not be charged after an ip rejection, got %v", user.Count)
	}
}

func TestCheckChain_FailOpenOneEvent(t *testing.T) {
	sink := &audit.MemorySink{}
	l, _ := newTestLimiter(errBackend{}, sink, map[string]config.ScopeLimit{
		"global": {MaxRequests: 1, Window: time.Minute},
		"ip":     {MaxRequests: 1, Window: time.Minute},
		"user":   {MaxRequests: 1, Window: time.Minute},
	})

	d := l.CheckChain(context.Background(), l.Scopes("10.0.0.1", "u1"), 1)
	if !d.Allowed || !d.Degraded {
		t.Errorf("expected degraded allow, got %+v", d)
	}
	if n := countEvents(sink, audit.EventRateLimitBackendUnavailable, audit.SeverityWarning); n != 1 {
		t.Errorf("expected exactly 1 warning event, got %d", n)
	}
}

func TestScopes(t *testing.T) {
	l, _ := newTestLimiter(NewMemoryBackend(time.Minute), nil, nil)

	got := l.Scopes("10.0.0.1", "u1")
	want := []Scope{
		{Kind: ScopeGlobal, ID: "*"},
		{Kind: ScopeEndpoint, ID: "chat"},
		{Kind: ScopeIP, ID: "10.0.0.1"},
		{Kind: ScopeUser, ID: "u1"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d scopes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("scope %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if anon := l.Scopes("", ""); len(anon) != 2 {
		t.Errorf("expected only global and endpoint scopes, got %v", anon)
	}
}

func TestCheckLimit_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(NewMemoryBackend(time.Minute), nil, map[string]config.ScopeLimit{
		"user": {MaxRequests: 50, Window: time.Minute},
	})

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := l.CheckLimit(context.Background(), ScopeUser, "u1", 1); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 50 {
		t.Errorf("expected exactly 50 admitted, got %d", allowed.Load())
	}
}

func TestMemoryBackend_Sweep(t *testing.T) {
	m := NewMemoryBackend(time.Minute)
	lim := config.ScopeLimit{MaxRequests: 10, Window: time.Second}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	m.Add(ctx, "user:old", 1, lim, start)
	m.Add(ctx, "user:new", 1, lim, start.Add(50*time.Second))

	if removed := m.Sweep(start.Add(90 * time.Second)); removed != 1 {
		t.Errorf("expected 1 idle bucket removed, got %d", removed)
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 bucket left, got %d", m.Len())
	}
}

func TestMemoryBackend_AddAfterConcurrentSweep(t *testing.T) {
	m := NewMemoryBackend(time.Minute)
	lim := config.ScopeLimit{MaxRequests: 10, Window: time.Minute}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// A request fetched the bucket, then the janitor removed it before the
	// request took the bucket lock.
	stale := m.get("user:u1")
	if removed := m.Sweep(now); removed != 1 {
		t.Fatalf("expected the untouched bucket to be swept, got %d", removed)
	}
	if _, ok := stale.add(1, lim, now); ok {
		t.Error("expected a swept bucket to refuse counting")
	}

	for i := 0; i < 3; i++ {
		if _, err := m.Add(context.Background(), "user:u1", 1, lim, now); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	b, err := m.Peek(context.Background(), "user:u1", lim, now)
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if b.Count != 3 {
		t.Errorf("expected every admitted request to count in the live bucket, got %v", b.Count)
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 live bucket, got %d", m.Len())
	}
}

func TestMemoryBackend_RunJanitor(t *testing.T) {
	m := NewMemoryBackend(time.Nanosecond)
	m.Add(context.Background(), "user:x", 1, config.ScopeLimit{MaxRequests: 1, Window: time.Second}, time.Now().Add(-time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunJanitor(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for m.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if m.Len() != 0 {
		t.Error("janitor should have removed the idle bucket")
	}
}
