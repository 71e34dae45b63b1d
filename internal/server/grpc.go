package server

import (
	"context"

	"leakdetector/internal/conf"
	"leakdetector/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport"
	kgrpc "github.com/go-kratos/kratos/v2/transport/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultAddr = ":9000"

var _ transport.Server = (*GRPCServer)(nil)

// GRPCServer is the kratos gRPC server with per-provider health in place of
// the built-in health service.
type GRPCServer struct {
	*kgrpc.Server
	health *service.HealthService
	log    *log.Helper
}

// NewGRPCServer creates a new gRPC server.
func NewGRPCServer(c *conf.Server, hs *service.HealthService, logger log.Logger) *GRPCServer {
	opts := []kgrpc.ServerOption{
		kgrpc.Middleware(
			recovery.Recovery(),
		),
		kgrpc.CustomHealth(),
	}
	addr := c.Grpc.Addr
	if addr == "" {
		addr = defaultAddr
	}
	opts = append(opts, kgrpc.Address(addr))
	if c.Grpc.Timeout > 0 {
		opts = append(opts, kgrpc.Timeout(c.Grpc.Timeout.AsDuration()))
	}
	srv := kgrpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, hs.Server())
	return &GRPCServer{
		Server: srv,
		health: hs,
		log:    log.NewHelper(log.With(logger, "module", "server/grpc")),
	}
}

// Start serves until Stop. Provider statuses are refreshed until ctx is done.
func (s *GRPCServer) Start(ctx context.Context) error {
	go s.health.Run(ctx)
	return s.Server.Start(ctx)
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs, or stops
// hard when ctx ends first.
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.health.Shutdown()
	err := s.Server.Stop(ctx)
	s.log.Info("gRPC server stopped")
	return err
}
