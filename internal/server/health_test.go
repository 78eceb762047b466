package server

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type flakyProber struct{ err error }

func (p *flakyProber) Probe(context.Context) error { return p.err }

func TestHealthMonitorTracksProbe(t *testing.T) {
	p := &flakyProber{}
	h := NewHealthMonitor(p, 0, nil)
	assert.Equal(t, "unknown", h.Status())

	h.Check(context.Background())
	assert.Equal(t, "serving", h.Status())

	p.err = errors.New("connection refused")
	h.Check(context.Background())
	assert.Equal(t, "not_serving", h.Status())

	resp, err := h.health.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus(), "process stays up while the detector is down")
}
