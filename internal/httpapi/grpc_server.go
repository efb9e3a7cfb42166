package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"switchboard.dev/internal/obs"
)

// GRPCServer exposes grpc.health.v1.Health, driven by a periodic readiness probe.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
	interval  time.Duration
}

// NewGRPCServer creates the health service wrapper. It reports NOT_SERVING until the first probe passes.
func NewGRPCServer(r readinessChecker, interval time.Duration) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := &GRPCServer{health: health.NewServer(), readiness: r, interval: interval}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches the health service to gs.
func (s *GRPCServer) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.health)
}

// Probe checks readiness once and publishes the result.
func (s *GRPCServer) Probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()
	if err := s.readiness.Check(ctx); err != nil {
		obs.Logger().Warn().Err(err).Msg("readiness probe failed")
		obs.SetReady(false)
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	obs.SetReady(true)
	s.set(healthpb.HealthCheckResponse_SERVING)
}

// Run probes until ctx is done, then marks every service as shutting down.
func (s *GRPCServer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

func (s *GRPCServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)
}
