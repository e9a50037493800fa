package handler

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-shop-accounts/pkg/logger"
)

// Pinger reports backing store reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// GRPCServer exposes the standard health service and reflection so
// orchestrators can probe the process without going through HTTP.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	store  Pinger
	log    *logger.Logger
}

// NewGRPCServer builds the server; status starts NOT_SERVING until the
// first successful probe.
func NewGRPCServer(store Pinger, log *logger.Logger) *GRPCServer {
	s := &GRPCServer{
		health: health.NewServer(),
		store:  store,
		log:    log,
	}

	s.server = grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.recoveryInterceptor, s.loggingInterceptor),
	)
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve blocks until Stop is called
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC server")
	return s.server.Serve(lis)
}

// Stop marks the service as not serving and drains in-flight calls
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// Probe pings the store once and publishes the result
func (s *GRPCServer) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Store unreachable")
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	return st
}

// WatchHealth probes every interval until ctx is done
func (s *GRPCServer) WatchHealth(ctx context.Context, interval time.Duration) {
	s.Probe(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

func (s *GRPCServer) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Debug().
		Str("method", info.FullMethod).
		Str("code", status.Code(err).String()).
		Dur("duration", time.Since(start)).
		Msg("grpc request")
	return resp, err
}

func (s *GRPCServer) recoveryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("method", info.FullMethod).Msg("Recovered from panic")
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}
