package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/af-corp/aegis-orchestrator/internal/config"
)

func testCfg(queue, batch int) config.AuditConfig {
	return config.AuditConfig{
		Sink:          "log",
		QueueSize:     queue,
		BatchSize:     batch,
		FlushInterval: 10 * time.Millisecond,
		MaxRetries:    2,
	}
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.EventType
	}
	return out
}

func TestEmitter_DeliversInOrder(t *testing.T) {
	sink := &MemorySink{}
	e := NewEmitter(testCfg(100, 3), sink)
	e.Start()

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		e.Emit(NewEvent(name, SeverityInfo, nil))
	}
	require.NoError(t, e.Close(context.Background()))

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, eventTypes(sink.Events()))
	assert.Equal(t, int64(5), e.Persisted())
	assert.Zero(t, e.Dropped())
}

func TestEmitter_FlushesOnInterval(t *testing.T) {
	sink := &MemorySink{}
	e := NewEmitter(testCfg(100, 50), sink)
	e.Start()
	defer e.Close(context.Background())

	e.Emit(NewEvent("lonely", SeverityInfo, nil))
	assert.Eventually(t, func() bool { return len(sink.Events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestEmitter_OverflowDropsOldest(t *testing.T) {
	sink := &MemorySink{}
	var hookDrops atomic.Int64
	e := NewEmitter(testCfg(3, 10), sink, WithDropHook(func(n int) { hookDrops.Add(int64(n)) }))

	for _, name := range []string{"e1", "e2", "e3", "e4", "e5", "e6"} {
		e.Emit(NewEvent(name, SeverityInfo, nil))
	}
	assert.Equal(t, 3, e.Len())
	assert.Equal(t, int64(3), e.Dropped())
	assert.Equal(t, int64(3), hookDrops.Load())

	require.NoError(t, e.Close(context.Background()))

	events := sink.Events()
	require.Len(t, events, 4)
	assert.Equal(t, EventAuditEventsDropped, events[0].EventType)
	assert.Equal(t, SeverityCritical, events[0].Severity)
	assert.Equal(t, 3, events[0].Payload["dropped"])
	assert.Equal(t, []string{"e4", "e5", "e6"}, eventTypes(events[1:]))
}

func TestEmitter_OneLossEventPerEpisode(t *testing.T) {
	sink := &MemorySink{}
	e := NewEmitter(testCfg(2, 10), sink)

	for range 5 {
		e.Emit(NewEvent("burst1", SeverityInfo, nil))
	}
	e.drain()

	for range 4 {
		e.Emit(NewEvent("burst2", SeverityInfo, nil))
	}
	e.drain()

	losses := 0
	for _, ev := range sink.Events() {
		if ev.EventType == EventAuditEventsDropped {
			losses++
		}
	}
	assert.Equal(t, 2, losses)
	assert.Equal(t, int64(5), e.Dropped())
}

func TestEmitter_EmitNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	sink := sinkFunc(func(ctx context.Context, _ []Event) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	e := NewEmitter(testCfg(10, 1), sink)
	e.Start()

	done := make(chan struct{})
	go func() {
		for range 1000 {
			e.Emit(NewEvent("x", SeverityInfo, nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked while the sink was stalled")
	}
	close(block)
	require.NoError(t, e.Close(context.Background()))
	assert.Positive(t, e.Dropped())
}

func TestEmitter_RetriesThenFallback(t *testing.T) {
	var calls atomic.Int32
	primary := sinkFunc(func(context.Context, []Event) error {
		calls.Add(1)
		return errors.New("db down")
	})
	fallback := &MemorySink{}
	e := NewEmitter(testCfg(10, 10), primary, WithFallback(fallback), WithBackoff(time.Millisecond))

	e.Emit(NewEvent("important", SeverityWarning, nil))
	require.NoError(t, e.Close(context.Background()))

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []string{"important"}, eventTypes(fallback.Events()))
}

func TestEmitter_RetrySucceeds(t *testing.T) {
	var calls atomic.Int32
	sink := &MemorySink{}
	flaky := sinkFunc(func(ctx context.Context, events []Event) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return sink.Persist(ctx, events)
	})
	fallback := &MemorySink{}
	e := NewEmitter(testCfg(10, 10), flaky, WithFallback(fallback), WithBackoff(time.Millisecond))

	e.Emit(NewEvent("once", SeverityInfo, nil))
	require.NoError(t, e.Close(context.Background()))

	assert.Len(t, sink.Events(), 1)
	assert.Empty(t, fallback.Events())
}

func TestEmitter_ConcurrentProducers(t *testing.T) {
	sink := &MemorySink{}
	e := NewEmitter(testCfg(10000, 64), sink)
	e.Start()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 250 {
				e.Emit(NewEvent("concurrent", SeverityDebug, nil))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, e.Close(context.Background()))

	assert.Len(t, sink.Events(), 2000)
}

func TestEmitter_EmitAfterClose(t *testing.T) {
	sink := &MemorySink{}
	e := NewEmitter(testCfg(10, 10), sink)
	require.NoError(t, e.Close(context.Background()))

	e.Emit(NewEvent("late", SeverityInfo, nil))
	assert.Zero(t, e.Len())
	assert.Empty(t, sink.Events())
}

func TestEvent_WithSubject(t *testing.T) {
	ev := NewEvent("consent_checked", SeverityInfo, map[string]any{"granted": true})
	scoped := ev.WithSubject("u1", "s1", "t1")

	assert.Equal(t, ev.ID, scoped.ID)
	assert.Equal(t, "u1", scoped.UserID)
	assert.Equal(t, "s1", scoped.SessionID)
	assert.Equal(t, "t1", scoped.TurnID)
	assert.Empty(t, ev.UserID)
}

type sinkFunc func(ctx context.Context, events []Event) error

func (f sinkFunc) Persist(ctx context.Context, events []Event) error { return f(ctx, events) }
