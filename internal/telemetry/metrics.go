package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the orchestrator.
type Metrics struct {
	RequestTotal        *prometheus.CounterVec
	RequestDurationMs   *prometheus.HistogramVec
	WorkerInvocations   *prometheus.CounterVec
	WorkerDurationMs    *prometheus.HistogramVec
	TokensTotal         *prometheus.CounterVec
	CostTotal           *prometheus.CounterVec
	WorkerCacheTotal    *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec
	AuditDroppedTotal   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_orchestrator_request_total",
			Help: "Total number of conversation turns handled, by outcome.",
		}, []string{"outcome", "worker"}),

		RequestDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_orchestrator_request_duration_ms",
			Help:    "End to end turn latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"outcome"}),

		WorkerInvocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_orchestrator_worker_invocations_total",
			Help: "Worker invocations by worker type and result.",
		}, []string{"worker", "result"}),

		WorkerDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_orchestrator_worker_duration_ms",
			Help:    "Worker invocation latency in milliseconds.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"worker"}),

		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_orchestrator_tokens_total",
			Help: "Tokens reported by workers.",
		}, []string{"worker"}),

		CostTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_orchestrator_cost_total",
			Help: "Cost reported by workers.",
		}, []string{"worker"}),

		WorkerCacheTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_orchestrator_worker_cache_total",
			Help: "Worker cache lookups by result (hit or miss).",
		}, []string{"result"}),

		RateLimitRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_orchestrator_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter, by scope kind.",
		}, []string{"scope"}),

		AuditDroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_orchestrator_audit_dropped_total",
			Help: "Audit events dropped because the queue was full.",
		}),
	}
}

// RecordRequest records metrics for a finished turn.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	m.RequestTotal.WithLabelValues(labels.Outcome, labels.Worker).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Outcome).Observe(labels.DurationMs)

	if labels.Worker == "" {
		return
	}
	if labels.TokensUsed > 0 {
		m.TokensTotal.WithLabelValues(labels.Worker).Add(float64(labels.TokensUsed))
	}
	if labels.Cost > 0 {
		m.CostTotal.WithLabelValues(labels.Worker).Add(labels.Cost)
	}
}

// RecordWorker records a single worker invocation.
func (m *Metrics) RecordWorker(worker string, ok bool, durationMs float64) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.WorkerInvocations.WithLabelValues(worker, result).Inc()
	m.WorkerDurationMs.WithLabelValues(worker).Observe(durationMs)
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.WorkerCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	m.WorkerCacheTotal.WithLabelValues("miss").Inc()
}

func (m *Metrics) RecordRateLimitRejection(scope string) {
	m.RateLimitRejections.WithLabelValues(scope).Inc()
}

func (m *Metrics) RecordAuditDropped(n int) {
	m.AuditDroppedTotal.Add(float64(n))
}

// RequestLabels holds the label values for recording a turn.
type RequestLabels struct {
	Outcome    string
	Worker     string
	DurationMs float64
	TokensUsed int
	Cost       float64
}
