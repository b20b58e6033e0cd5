package grpchealth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/instanttrade/itnd/internal/alerts"
	"github.com/instanttrade/itnd/internal/core/sysmode"
)

func status(t *testing.T, s *Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthTracksSystemMode(t *testing.T) {
	log := zap.NewNop()
	now := time.Now
	mode := sysmode.NewMachine(alerts.NewBus(log), log, now)
	s := New("127.0.0.1:0", mode, log)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, s, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, s, "itnd"))

	mode.Freeze("ledger variance detected")
	s.apply()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, s, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, s, "itnd"))

	mode.Restore()
	s.apply()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, s, "itnd"))
}

func TestUnknownServiceNotRegistered(t *testing.T) {
	log := zap.NewNop()
	mode := sysmode.NewMachine(alerts.NewBus(log), log, time.Now)
	s := New("127.0.0.1:0", mode, log)

	_, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "other"})
	assert.Error(t, err)
}
