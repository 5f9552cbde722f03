// Package health exposes the node's liveness over the standard gRPC health
// protocol (grpc.health.v1).
package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"operator/internal/logging"
)

// ServiceName is the named service reported alongside the overall ("") status.
const ServiceName = "operator.Operator"

// Server serves grpc.health.v1. It starts NOT_SERVING until the node finishes
// registration.
type Server struct {
	logger logging.Logger
	server *grpc.Server
	health *health.Server
}

func NewServer(logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	s := &Server{logger: logger, health: health.NewServer()}
	s.server = grpc.NewServer(grpc.UnaryInterceptor(s.logUnary))
	healthpb.RegisterHealthServer(s.server, s.health)
	s.SetServing(false)
	return s
}

// SetServing flips both the overall and the named service status.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.Serve(lis)
	s.logger.Infof("gRPC health server started addr=%s", lis.Addr())
	return nil
}

// Serve serves on an existing listener in the background.
func (s *Server) Serve(lis net.Listener) {
	go func() {
		if err := s.server.Serve(lis); err != nil {
			s.logger.Errorf("gRPC health server failed error=%v", err)
		}
	}()
}

// Stop marks every service NOT_SERVING and stops the server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

func (s *Server) logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debugf("grpc call method=%s elapsed=%s err=%v", info.FullMethod, time.Since(start), err)
	return resp, err
}
