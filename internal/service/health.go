package service

import (
	"context"
	"time"

	"leakdetector/internal/biz"
	"leakdetector/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	defaultRefreshInterval = 30 * time.Second

	// ProviderServicePrefix prefixes the per-provider health service names,
	// e.g. "leakdetector.provider.vision".
	ProviderServicePrefix = "leakdetector.provider."
)

// HealthService publishes provider availability over the standard gRPC
// health protocol. The overall status ("") is SERVING while at least one
// provider can be called.
type HealthService struct {
	uc       *biz.AnalysisUsecase
	srv      *health.Server
	interval time.Duration
	log      *log.Helper
}

// NewHealthService creates a new HealthService.
func NewHealthService(uc *biz.AnalysisUsecase, c *conf.Server, logger log.Logger) *HealthService {
	interval := c.Grpc.RefreshInterval.AsDuration()
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthService{
		uc:       uc,
		srv:      srv,
		interval: interval,
		log:      log.NewHelper(log.With(logger, "module", "service/health")),
	}
}

// Server returns the health server to register on a gRPC server.
func (s *HealthService) Server() healthpb.HealthServer {
	return s.srv
}

// Refresh updates every status from the current provider availability.
func (s *HealthService) Refresh(ctx context.Context) {
	avail := s.uc.ProviderAvailability(ctx)
	serving := false
	for name, ok := range avail {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if ok {
			status = healthpb.HealthCheckResponse_SERVING
			serving = true
		}
		s.srv.SetServingStatus(ProviderServicePrefix+name, status)
	}
	if serving {
		s.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		s.srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		s.log.WithContext(ctx).Warn("no provider is available")
	}
}

// Run validates provider credentials once, then refreshes the statuses
// until ctx is done.
func (s *HealthService) Run(ctx context.Context) {
	s.uc.ValidateCredentials(ctx)
	s.Refresh(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Shutdown sets every status to NOT_SERVING and ignores later updates.
func (s *HealthService) Shutdown() {
	s.srv.Shutdown()
}
