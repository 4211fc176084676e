package telemetry

import (
	"sync"
	"sync/atomic"
)

// Outcome of a finished turn as seen by the monitor.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeBlocked = "blocked"
)

// Snapshot is a read-only view of the monitor counters.
type Snapshot struct {
	TotalRequests    int64   `json:"total_requests"`
	Successes        int64   `json:"successes"`
	Failures         int64   `json:"failures"`
	Blocked          int64   `json:"blocked"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	CacheHits        int64   `json:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
}

// Monitor keeps process-wide request counters. Its methods never block on
// I/O and never fail. When metrics is set every observation is mirrored into
// Prometheus.
type Monitor struct {
	total     atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	blocked   atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64

	mu          sync.Mutex
	latencyN    int64
	meanLatency float64

	metrics *Metrics
}

// NewMonitor returns a monitor. metrics may be nil.
func NewMonitor(metrics *Metrics) *Monitor {
	return &Monitor{metrics: metrics}
}

// RecordRequest folds one finished turn into the counters.
func (m *Monitor) RecordRequest(labels RequestLabels) {
	m.total.Add(1)
	switch labels.Outcome {
	case OutcomeSuccess:
		m.successes.Add(1)
	case OutcomeBlocked:
		m.blocked.Add(1)
	default:
		m.failures.Add(1)
	}

	m.mu.Lock()
	m.latencyN++
	m.meanLatency += (labels.DurationMs - m.meanLatency) / float64(m.latencyN)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordRequest(labels)
	}
}

func (m *Monitor) RecordWorker(worker string, ok bool, durationMs float64) {
	if m.metrics != nil {
		m.metrics.RecordWorker(worker, ok, durationMs)
	}
}

func (m *Monitor) RecordCacheLookup(hit bool) {
	if hit {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	if m.metrics != nil {
		m.metrics.RecordCacheLookup(hit)
	}
}

func (m *Monitor) RecordRateLimitRejection(scope string) {
	if m.metrics != nil {
		m.metrics.RecordRateLimitRejection(scope)
	}
}

// RecordAuditDropped matches the audit emitter drop hook signature.
func (m *Monitor) RecordAuditDropped(n int) {
	if m.metrics != nil {
		m.metrics.RecordAuditDropped(n)
	}
}

func (m *Monitor) Snapshot() Snapshot {
	s := Snapshot{
		TotalRequests: m.total.Load(),
		Successes:     m.successes.Load(),
		Failures:      m.failures.Load(),
		Blocked:       m.blocked.Load(),
		CacheHits:     m.hits.Load(),
		CacheMisses:   m.misses.Load(),
	}
	m.mu.Lock()
	s.AverageLatencyMs = m.meanLatency
	m.mu.Unlock()
	if lookups := s.CacheHits + s.CacheMisses; lookups > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(lookups)
	}
	return s
}
