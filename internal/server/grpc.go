package server

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the delivery workers.
const ServiceName = "hookd.Delivery"

// NewGRPCServer creates a gRPC server with standard interceptors,
// registers the health service and reflection, and returns both.
func NewGRPCServer(authToken string, logger *zap.Logger) (*grpc.Server, *health.Server) {
	logger = logger.Named("grpc")
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			LoggingInterceptor(logger),
			AuthInterceptor(authToken),
		),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv, hs
}

// WatchHealth sets the serving status from check every interval until ctx
// is done, then reports NOT_SERVING.
func WatchHealth(ctx context.Context, hs *health.Server, interval time.Duration, check func(context.Context) bool) {
	set := func(ok bool) {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if ok {
			st = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus("", st)
		hs.SetServingStatus(ServiceName, st)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		set(check(ctx))
		select {
		case <-ctx.Done():
			set(false)
			return
		case <-ticker.C:
		}
	}
}
