package grpchealth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/af-corp/aegis-orchestrator/internal/workers"
)

type fixedHealth map[string]workers.Health

func (f fixedHealth) HealthCheck(_ context.Context, workerType string) workers.Health {
	if h, ok := f[workerType]; ok {
		return h
	}
	return workers.HealthError
}

func check(t *testing.T, srv *health.Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestMirror_Sync(t *testing.T) {
	srv := health.NewServer()
	checker := fixedHealth{"product": workers.HealthHealthy, "order": workers.HealthUnhealthy}
	m := NewMirror(srv, checker, func() []string { return []string{"general", "order", "product"} })

	m.Sync(context.Background())

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, srv, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, srv, "product"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, srv, "order"))
	assert.Equal(t, healthpb.HealthCheckResponse_UNKNOWN, check(t, srv, "general"))

	checker["order"] = workers.HealthHealthy
	m.Sync(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, srv, "order"))
}

func TestMirror_RunStopsOnCancel(t *testing.T) {
	srv := health.NewServer()
	m := NewMirror(srv, fixedHealth{"product": workers.HealthHealthy}, func() []string { return []string{"product"} })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "product"})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, srv, "product"))
}
