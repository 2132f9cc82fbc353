package api

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/strata/pkg/log"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name of the manager
const ServiceName = "strata.Manager"

// Server exposes the standard gRPC health service and, once registered, the
// datanode service. The manager service is SERVING while the node can make
// replication decisions.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	state  ClusterState

	stopCh   chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

// NewServer creates a new gRPC server
func NewServer(state ClusterState) *Server {
	logger := log.WithComponent("grpc")
	s := &Server{
		grpc:   grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(logger))),
		health: health.NewServer(),
		state:  state,
		stopCh: make(chan struct{}),
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// RegisterDatanodeService serves svc next to the health service. It must be
// called before Start.
func (s *Server) RegisterDatanodeService(svc DatanodeServer) {
	s.grpc.RegisterService(&DatanodeServiceDesc, svc)
}

// Start starts the gRPC server and the health status updates
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	go s.watch(5 * time.Second)

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.health.Shutdown()
		s.grpc.GracefulStop()
	})
}

func (s *Server) watch(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.UpdateStatus()
	for {
		select {
		case <-ticker.C:
			s.UpdateStatus()
		case <-s.stopCh:
			return
		}
	}
}

// UpdateStatus sets the manager service status from the cluster state and
// returns it
func (s *Server) UpdateStatus() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.state != nil && (s.state.IsLeader() || s.state.LeaderAddr() != "") {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	// The empty service reports overall server health
	s.health.SetServingStatus("", status)
	return status
}

// HealthServer returns the underlying health service implementation
func (s *Server) HealthServer() healthpb.HealthServer {
	return s.health
}
