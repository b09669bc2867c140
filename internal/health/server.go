// Package health serves the standard gRPC health protocol so orchestrators
// can check the intake server and the processor alike.
package health

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/intakevault/internal/logging"
)

// Server wraps a grpc health server. The empty service name reports the
// overall state of the process.
type Server struct {
	address string
	health  *health.Server
	logger  logging.Logger
}

func NewServer(address string, logger logging.Logger) *Server {
	return &Server{
		address: address,
		health:  health.NewServer(),
		logger:  logger.With("module", "health"),
	}
}

// SetServing marks service, or the whole process when service is empty, as
// serving or not serving.
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis. When ctx is done every service is
// reported NOT_SERVING and the server stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping health server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting health server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}

func (s *Server) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn(ctx, "health call failed", "method", info.FullMethod, "error", err)
	}
	return resp, err
}
