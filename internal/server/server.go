package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pipestream-ai/platform-registration/internal/config"
	healthcheck "github.com/pipestream-ai/platform-registration/pkg/health"
)

const (
	shutdownTimeout = 10 * time.Second
	readyTimeout    = 30 * time.Second
)

// Registrant registers the hub with its own discovery agent once the gRPC
// health endpoint reports SERVING.
type Registrant interface {
	Register(ctx context.Context)
}

// Server owns the process lifecycle: the gRPC endpoint (health and
// reflection), the operational HTTP endpoint, the background monitors and
// the hub's self-registration.
type Server struct {
	cfg        *config.Config
	grpc       *grpc.Server
	health     *health.Server
	ops        *http.Server
	registrant Registrant
	background []func(context.Context)
	log        *zap.Logger
}

// NewServer builds the lifecycle around an already wired hub. The background
// functions run for the life of the server and must return when their
// context is cancelled.
func NewServer(cfg *config.Config, ops *http.Server, registrant Registrant, background []func(context.Context), log *zap.Logger) *Server {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(log)))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	return &Server{
		cfg:        cfg,
		grpc:       grpcServer,
		health:     healthServer,
		ops:        ops,
		registrant: registrant,
		background: background,
		log:        log,
	}
}

// Run starts every endpoint and blocks until ctx is cancelled or a listener
// fails. Shutdown is graceful: the health endpoint flips to NOT_SERVING
// first so the discovery agent stops routing to the hub before the
// listeners close.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lis, err := net.Listen("tcp", ":"+s.cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("gRPC listen error: %w", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.log.Info("Starting gRPC server", zap.String("address", lis.Addr().String()))
		if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.log.Info("Starting ops HTTP server", zap.String("address", s.ops.Addr))
		if err := s.ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ops server error: %w", err)
			cancel()
		}
	}()

	for _, run := range s.background {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.selfRegister(ctx)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Shutdown initiated")
	case err := <-errCh:
		s.log.Error("Fatal error, shutting down", zap.Error(err))
		cancel()
	}

	s.health.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := s.ops.Shutdown(shutdownCtx); err != nil {
		s.log.Error("Ops server shutdown error", zap.Error(err))
	}
	s.grpc.GracefulStop()

	wg.Wait()
	s.log.Info("All servers shut down gracefully")
	return nil
}

// selfRegister waits for the hub's own health endpoint before registering it
// with the discovery agent; registering earlier would enter the convergence
// loop against an endpoint that cannot pass its check yet. Failures are
// logged, never fatal: the hub keeps serving discovery for everyone else.
func (s *Server) selfRegister(ctx context.Context) {
	if s.registrant == nil {
		return
	}
	if s.cfg.SelfRegistrationEnabled {
		target := net.JoinHostPort("localhost", s.cfg.GRPCPort)
		client, err := healthcheck.NewHealthCheckClient(target)
		if err != nil {
			s.log.Warn("Failed to create health check client", zap.Error(err))
		} else {
			defer func() {
				if err := client.Close(); err != nil {
					s.log.Warn("Failed to close health client", zap.Error(err))
				}
			}()
			if err := client.WaitForReady(ctx, readyTimeout); err != nil {
				s.log.Warn("Service failed to become healthy before self-registration", zap.Error(err))
				return
			}
			s.log.Info("Service is healthy and ready to serve requests")
		}
	}
	s.registrant.Register(ctx)
}

// loggingInterceptor logs every unary call except the health checks the
// discovery agent fires continuously.
func loggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return resp, err
		}
		if err != nil {
			log.Error("request failed", zap.String("method", info.FullMethod), zap.Error(err))
		} else {
			log.Info("request completed", zap.String("method", info.FullMethod))
		}
		return resp, err
	}
}
