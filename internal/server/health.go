package server

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DetectorService is the grpc health service name tracking the backend.
const DetectorService = "docscan.detector"

// Prober checks a dependency once.
type Prober interface {
	Probe(ctx context.Context) error
}

// HealthMonitor probes the detector backend periodically and publishes
// the result on a grpc health server and to GET /health.
type HealthMonitor struct {
	prober   Prober
	interval time.Duration
	health   *health.Server
	serving  atomic.Bool
	logger   *slog.Logger
}

func NewHealthMonitor(prober Prober, interval time.Duration, logger *slog.Logger) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	h := &HealthMonitor{
		prober:   prober,
		interval: interval,
		health:   health.NewServer(),
		logger:   logger,
	}
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(DetectorService, healthpb.HealthCheckResponse_UNKNOWN)
	return h
}

// Status is "serving", "not_serving" or "unknown" before the first probe.
func (h *HealthMonitor) Status() string {
	resp, err := h.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: DetectorService})
	if err != nil {
		return "unknown"
	}
	switch resp.GetStatus() {
	case healthpb.HealthCheckResponse_SERVING:
		return "serving"
	case healthpb.HealthCheckResponse_NOT_SERVING:
		return "not_serving"
	}
	return "unknown"
}

// Check runs one probe and records the outcome.
func (h *HealthMonitor) Check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := h.prober.Probe(ctx)
	up := err == nil
	if h.serving.Swap(up) != up || !up {
		if up {
			h.logger.Info("detector.health", "status", "serving")
		} else {
			h.logger.Warn("detector.health", "status", "not_serving", "error", err)
		}
	}
	st := healthpb.HealthCheckResponse_SERVING
	if !up {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus(DetectorService, st)
}

// Run probes until ctx ends.
func (h *HealthMonitor) Run(ctx context.Context) error {
	h.Check(ctx)
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return nil
		case <-t.C:
			h.Check(ctx)
		}
	}
}

// Serve exposes the grpc health service on addr until ctx ends.
func (h *HealthMonitor) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h.health)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	h.logger.Info("grpc health listening", "addr", addr)
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "grpc health server")
	}
	return nil
}
