// Package grpchealth exposes the standard gRPC health protocol,
// reflecting the process-wide operating mode: SERVING while NORMAL,
// NOT_SERVING once the system degrades or freezes.
package grpchealth

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/instanttrade/itnd/internal/core/sysmode"
)

// DefaultPollInterval spaces mode re-checks.
const DefaultPollInterval = time.Second

// Server runs a gRPC server carrying only the health service.
type Server struct {
	addr     string
	mode     *sysmode.Machine
	interval time.Duration
	log      *zap.Logger

	grpcServer *grpc.Server
	health     *health.Server
}

func New(addr string, mode *sysmode.Machine, log *zap.Logger) *Server {
	s := &Server{
		addr:       addr,
		mode:       mode,
		interval:   DefaultPollInterval,
		log:        log.Named("grpchealth"),
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.apply()
	return s
}

// Run serves the health endpoint until the context ends, keeping the
// reported status in step with the system mode.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.log.Info("grpc health listening", zap.String("addr", s.addr))

	errCh := make(chan error, 1)
	go func() { errCh <- s.grpcServer.Serve(lis) }()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.grpcServer.GracefulStop()
			<-errCh
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.apply()
		}
	}
}

// apply maps the current mode onto the health status.
func (s *Server) apply() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.mode.Accepting() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus("itnd", status)
}
