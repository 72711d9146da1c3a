package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/auth"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/config"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/service"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TokenValidator checks bearer tokens from the "authorization" metadata.
type TokenValidator interface {
	ValidateToken(token string) (*auth.JWTClaims, error)
}

type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	validator  TokenValidator
	addr       string
	logger     *zap.Logger
	done       chan struct{}
}

func NewServer(cfg *config.Config, svc *service.Service, subscriber Subscriber, validator TokenValidator, logger *zap.Logger) *Server {
	s := &Server{
		health:    health.NewServer(),
		validator: validator,
		addr:      fmt.Sprintf(":%d", cfg.Server.GRPCPort),
		logger:    logger,
		done:      make(chan struct{}),
	}

	s.grpcServer = grpc.NewServer(
		grpc.UnaryInterceptor(s.unaryAuth),
		grpc.StreamInterceptor(s.streamAuth),
	)

	RegisterMaintenanceServer(s.grpcServer, NewMaintenanceService(svc, subscriber, s.done, logger))
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return s
}

// Start listens on the configured port and serves until Shutdown.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server listening",
		zap.String("address", lis.Addr().String()),
		zap.String("services", ServiceName))
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server failed: %w", err)
	}
	return nil
}

// Shutdown ends watch streams, then stops gracefully. If ctx expires first
// the remaining RPCs are cut off.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping gRPC server")
	s.health.Shutdown()
	close(s.done)

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.grpcServer.Stop()
		return fmt.Errorf("gRPC graceful stop: %w", ctx.Err())
	}
}

func (s *Server) authorize(ctx context.Context, method string) error {
	if strings.HasPrefix(method, "/grpc.health.v1.Health/") {
		return nil
	}

	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization metadata")
	}

	token, ok := strings.CutPrefix(values[0], "Bearer ")
	if !ok {
		return status.Error(codes.Unauthenticated, "invalid authorization format")
	}
	if _, err := s.validator.ValidateToken(token); err != nil {
		return status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	return nil
}

func (s *Server) unaryAuth(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if err := s.authorize(ctx, info.FullMethod); err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (s *Server) streamAuth(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if err := s.authorize(ss.Context(), info.FullMethod); err != nil {
		return err
	}
	return handler(srv, ss)
}
