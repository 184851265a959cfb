package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"StableLedger/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const shutdownTimeout = 5 * time.Second

// Deps holds everything the servers need.
type Deps struct {
	Service  LedgerServer
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Health   *observability.HealthChecker
}

// Server runs the gRPC API, its HTTP/JSON gateway and the ops endpoints.
type Server struct {
	grpcServer *grpc.Server
	grpcHealth *health.Server
	gateway    http.Handler
	ops        http.Handler
	logger     zerolog.Logger
}

func New(deps Deps) (*Server, error) {
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(metricsInterceptor(deps.Metrics)))
	RegisterLedgerServer(grpcServer, deps.Service)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	gw, err := NewGatewayMux(deps.Service, deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("gateway routes: %w", err)
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		grpcServer: grpcServer,
		grpcHealth: healthServer,
		gateway:    gw,
		ops:        NewOpsRouter(gatherer, deps.Health),
		logger:     observability.NewLogger("server"),
	}, nil
}

// StartGRPC serves gRPC on addr until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves gRPC on an existing listener until ctx is cancelled.
func (s *Server) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcHealth.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON gateway until ctx is cancelled.
func (s *Server) StartHTTPGateway(ctx context.Context, addr string) error {
	return s.serveHTTP(ctx, "gateway", addr, s.gateway)
}

// StartOps serves metrics and health probes until ctx is cancelled.
func (s *Server) StartOps(ctx context.Context, addr string) error {
	return s.serveHTTP(ctx, "ops", addr, s.ops)
}

func (s *Server) serveHTTP(ctx context.Context, name, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Str("listener", name).Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Str("listener", name).Msg("HTTP shutdown")
		}
	}()

	s.logger.Info().Str("listener", name).Str("addr", addr).Msg("HTTP server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Gateway exposes the HTTP/JSON handler, mostly for tests.
func (s *Server) Gateway() http.Handler { return s.gateway }
