package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/af-corp/aegis-orchestrator/internal/config"
)

const persistTimeout = 5 * time.Second

// Sink persists batches of events.
type Sink interface {
	Persist(ctx context.Context, events []Event) error
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithFallback sets the sink used when the primary sink keeps failing.
func WithFallback(s Sink) Option {
	return func(e *Emitter) { e.fallback = s }
}

// WithBackoff sets the base delay between sink retries.
func WithBackoff(d time.Duration) Option {
	return func(e *Emitter) { e.backoff = d }
}

// WithDropHook registers a callback invoked for every event lost to overflow.
func WithDropHook(fn func(n int)) Option {
	return func(e *Emitter) { e.onDrop = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Emitter) { e.logger = l }
}

// Emitter is a bounded many-producer single-consumer audit queue. Emit never
// blocks: when the queue is full the oldest event is dropped and a single
// critical loss event is recorded for the overflow episode.
type Emitter struct {
	sink      Sink
	fallback  Sink
	queueSize int
	batchSize int
	interval  time.Duration
	retries   int
	backoff   time.Duration
	onDrop    func(n int)
	logger    *slog.Logger

	mu        sync.Mutex
	queue     []Event
	loss      *Event
	lossCount int
	closed    bool
	dropped   atomic.Int64
	persisted atomic.Int64
	notify    chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
}

// NewEmitter creates an emitter. Call Start to launch the consumer.
func NewEmitter(cfg config.AuditConfig, sink Sink, opts ...Option) *Emitter {
	e := &Emitter{
		sink:      sink,
		fallback:  NewLogSink(slog.Default()),
		queueSize: cfg.QueueSize,
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
		retries:   cfg.MaxRetries,
		backoff:   100 * time.Millisecond,
		logger:    slog.Default(),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	if e.queueSize <= 0 {
		e.queueSize = 1
	}
	if e.batchSize <= 0 {
		e.batchSize = 1
	}
	if e.interval <= 0 {
		e.interval = time.Second
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit enqueues an event.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.logger.Warn("audit event emitted after close", "event_type", ev.EventType)
		return
	}
	overflow, dropped := false, false
	if len(e.queue) >= e.queueSize {
		dropped = true
		e.queue[0] = Event{}
		e.queue = e.queue[1:]
		e.dropped.Add(1)
		e.lossCount++
		if e.loss == nil {
			loss := NewEvent(EventAuditEventsDropped, SeverityCritical, nil)
			e.loss = &loss
			overflow = true
		}
	}
	e.queue = append(e.queue, ev)
	full := len(e.queue) >= e.batchSize
	e.mu.Unlock()

	if overflow {
		e.logger.Error("audit queue overflow, dropping oldest events",
			"severity", SeverityCritical, "queue_size", e.queueSize)
	}
	if dropped && e.onDrop != nil {
		e.onDrop(1)
	}
	if full {
		select {
		case e.notify <- struct{}{}:
		default:
		}
	}
}

// Start launches the background consumer.
func (e *Emitter) Start() {
	e.startOnce.Do(func() {
		e.started.Store(true)
		go e.run()
	})
}

// Close stops accepting events and waits for the queue to drain.
func (e *Emitter) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.done)
	})
	if !e.started.Load() {
		e.drain()
		return nil
	}
	select {
	case <-e.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain audit queue: %w", ctx.Err())
	}
}

// Dropped returns the number of events lost to overflow since start.
func (e *Emitter) Dropped() int64 { return e.dropped.Load() }

// Persisted returns the number of events handed to a sink successfully.
func (e *Emitter) Persisted() int64 { return e.persisted.Load() }

// Len returns the number of queued events.
func (e *Emitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Emitter) run() {
	defer close(e.stopped)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			e.drain()
			return
		case <-e.notify:
			e.drain()
		case <-ticker.C:
			e.drain()
		}
	}
}

// drain flushes batches until the queue is empty.
func (e *Emitter) drain() {
	for {
		batch := e.take()
		if len(batch) == 0 {
			return
		}
		e.write(batch)
	}
}

// take removes up to batchSize events. A pending loss event goes first and
// closes the current overflow episode.
func (e *Emitter) take() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var batch []Event
	if e.loss != nil {
		loss := *e.loss
		loss.Payload = map[string]any{
			"dropped":    e.lossCount,
			"queue_size": e.queueSize,
		}
		batch = append(batch, loss)
		e.loss = nil
		e.lossCount = 0
	}
	n := min(e.batchSize, len(e.queue))
	batch = append(batch, e.queue[:n]...)
	clear(e.queue[:n])
	e.queue = e.queue[n:]
	if len(e.queue) == 0 {
		e.queue = nil
	}
	return batch
}

func (e *Emitter) write(batch []Event) {
	var err error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(e.backoff * time.Duration(1<<(attempt-1)))
		}
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err = e.sink.Persist(ctx, batch)
		cancel()
		if err == nil {
			e.persisted.Add(int64(len(batch)))
			return
		}
		e.logger.Warn("audit sink persist failed", "attempt", attempt+1, "events", len(batch), "error", err)
	}

	if e.fallback == nil {
		e.logger.Error("audit batch lost", "severity", SeverityCritical, "events", len(batch), "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if ferr := e.fallback.Persist(ctx, batch); ferr != nil {
		e.logger.Error("audit fallback sink failed", "severity", SeverityCritical, "events", len(batch), "error", ferr)
		return
	}
	e.persisted.Add(int64(len(batch)))
}
