// Package grpchealth publishes worker health on the standard gRPC health
// service. Each worker type is a service name; the empty service reports the
// orchestrator itself.
package grpchealth

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/af-corp/aegis-orchestrator/internal/workers"
)

// Checker reports the health of a worker type.
type Checker interface {
	HealthCheck(ctx context.Context, workerType string) workers.Health
}

// Mirror copies worker health into a gRPC health server.
type Mirror struct {
	server  *health.Server
	checker Checker
	types   func() []string
}

func NewMirror(server *health.Server, checker Checker, workerTypes func() []string) *Mirror {
	return &Mirror{server: server, checker: checker, types: workerTypes}
}

// Sync probes every worker type once.
func (m *Mirror) Sync(ctx context.Context) {
	m.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, workerType := range m.types() {
		m.server.SetServingStatus(workerType, status(m.checker.HealthCheck(ctx, workerType)))
	}
}

// Run syncs every interval until ctx is done, then marks everything as not
// serving.
func (m *Mirror) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	m.Sync(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			slog.Info("grpc health mirror stopped")
			return
		case <-ticker.C:
			m.Sync(ctx)
		}
	}
}

// status maps cache health to gRPC serving status. A worker that has not been
// constructed yet is reported as unknown rather than failing.
func status(h workers.Health) healthpb.HealthCheckResponse_ServingStatus {
	switch h {
	case workers.HealthHealthy:
		return healthpb.HealthCheckResponse_SERVING
	case workers.HealthUnhealthy:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}
