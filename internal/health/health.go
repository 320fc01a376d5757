// Package health serves grpc.health.v1 so supervisors can tell whether the
// detector is watching the screen.
package health

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GriffinCanCode/omnicall/internal/trace"
)

// Service is the health service name reported for the detector.
const Service = "omnicall.Detector"

// Server wraps a gRPC server exposing only the health service.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
}

// New creates a server with the detector NOT_SERVING.
func New() *Server {
	gs := grpc.NewServer(
		grpc.UnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.StreamInterceptor(trace.StreamServerInterceptor()),
	)
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{grpc: gs, health: hs}
}

// Set reports the detector as SERVING while running.
func (s *Server) Set(running bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if running {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(Service, st)
}

// Check returns the current status of the detector service.
func (s *Server) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks everything NOT_SERVING and stops gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
