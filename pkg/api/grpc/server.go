package grpc

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/aescanero/dagplan/internal/application/orchestrator"
)

// Server represents the gRPC API server
type Server struct {
	server       *grpc.Server
	listener     net.Listener
	health       *health.Server
	orchestrator *orchestrator.Manager
	logger       *zap.Logger
}

// Config holds gRPC server configuration
type Config struct {
	Port         int
	Orchestrator *orchestrator.Manager
	Logger       *zap.Logger
}

// NewServer creates a new gRPC server
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	s := &Server{
		server:       grpcServer,
		listener:     listener,
		health:       healthServer,
		orchestrator: cfg.Orchestrator,
		logger:       cfg.Logger,
	}

	return s, nil
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	s.health.Shutdown()
	s.server.GracefulStop()

	s.logger.Info("gRPC server shut down complete")
	return nil
}
