package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/alfredjeanlab/hookd/internal/analytics"
	"github.com/alfredjeanlab/hookd/internal/archive"
	"github.com/alfredjeanlab/hookd/internal/config"
	"github.com/alfredjeanlab/hookd/internal/delivery"
	"github.com/alfredjeanlab/hookd/internal/enqueuer"
	"github.com/alfredjeanlab/hookd/internal/events"
	"github.com/alfredjeanlab/hookd/internal/logging"
	"github.com/alfredjeanlab/hookd/internal/metrics"
	"github.com/alfredjeanlab/hookd/internal/outbox"
	"github.com/alfredjeanlab/hookd/internal/server"
	"github.com/alfredjeanlab/hookd/internal/store/postgres"
)

const healthInterval = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the admin API, enqueuer and delivery workers",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.LogMode, cfg.LogLevel)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		return serve(cfg, logger)
	},
}

func backoffFromConfig(cfg *config.Config) (delivery.Backoff, error) {
	b := delivery.Backoff{
		Base:           cfg.BackoffBase,
		Max:            cfg.BackoffMax,
		JitterFraction: cfg.BackoffJitter,
		MaxAttempts:    cfg.MaxAttempts,
	}
	return b, b.Validate()
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	backoff, err := backoffFromConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.New(cfg.DatabaseURL, postgres.DefaultPoolOptions)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := metrics.NewPrometheusSink(reg, logger)

	// NATS only shortens latency; polling keeps everything correct without it.
	var (
		publisher  events.Publisher = events.NoopPublisher{}
		subscriber events.Subscriber
	)
	if cfg.NATSURL != "" {
		bus, err := events.Connect(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer bus.Close()
		publisher, subscriber = bus, bus
		logger.Info("events enabled", zap.String("nats_url", cfg.NATSURL))
	} else {
		logger.Info("events disabled (HOOKD_NATS_URL not set)")
	}

	var cache analytics.Cache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse HOOKD_REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, KPI cache will fall through", zap.Error(err))
		}
		cache = analytics.NewRedisCache(rdb, cfg.CacheTTL)
		logger.Info("KPI cache enabled", zap.Duration("ttl", cfg.CacheTTL))
	}

	enq := enqueuer.New(store, subscriber, enqueuer.Options{
		Interval:  cfg.EnqueueInterval,
		BatchSize: cfg.EnqueueBatch,
	}, sink, logger)

	pool := delivery.NewPool(store, delivery.NewHTTPSender(nil, cfg.RequestTimeout), publisher, delivery.Options{
		Workers:        cfg.Workers,
		BatchSize:      cfg.ClaimBatch,
		PollInterval:   cfg.PollInterval,
		PausePollDelay: cfg.PausePollDelay,
		Backoff:        backoff,
	}, sink, logger)

	reaper := delivery.NewReaper(store, delivery.ReaperOptions{
		StaleAfter: cfg.StaleAfter,
		Interval:   cfg.ReaperInterval,
	}, sink, logger)

	var archiver *archive.Scheduler
	if cfg.ArchiveEnabled() {
		dest, err := archive.NewS3Destination(ctx, cfg.ArchiveS3Bucket, cfg.ArchiveS3Prefix, cfg.ArchiveS3Region, cfg.ArchiveS3Endpoint)
		if err != nil {
			return err
		}
		archiver = archive.NewScheduler(store, dest, cfg.ArchiveInterval, sink, logger)
		logger.Info("event archive enabled", zap.Stringer("destination", dest), zap.Duration("interval", cfg.ArchiveInterval))
	}

	srv := server.New(store, outbox.NewRunner(store, publisher, sink, logger), analytics.New(store, cache, sink, logger), logger)
	srv.DevIngress = cfg.DevIngress
	srv.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	if cfg.DevIngress {
		logger.Warn("dev event ingress enabled at POST /v1/events")
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.NewHTTPHandler(cfg.AuthToken),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	var (
		grpcServer *grpc.Server
		healthDone = make(chan struct{})
	)
	if cfg.GRPCEnabled() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		gs, hs := server.NewGRPCServer(cfg.AuthToken, logger)
		grpcServer = gs
		go func() {
			logger.Info("gRPC health server listening", zap.String("addr", cfg.GRPCAddr))
			if err := gs.Serve(lis); err != nil {
				logger.Error("gRPC server error", zap.Error(err))
			}
		}()
		go func() {
			defer close(healthDone)
			server.WatchHealth(ctx, hs, healthInterval, func(ctx context.Context) bool {
				pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				defer cancel()
				return pool.Running() && store.Ping(pingCtx) == nil
			})
		}()
	} else {
		close(healthDone)
	}

	enq.Start()
	pool.Start()
	reaper.Start()
	if archiver != nil {
		archiver.Start()
	}
	logger.Info("hookd started",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Int("workers", cfg.Workers),
		zap.Int("max_attempts", backoff.MaxAttempts),
	)

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case err := <-httpErr:
		logger.Error("HTTP server error, shutting down", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	<-healthDone
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	enq.Stop()
	pool.Stop()
	reaper.Stop()
	if archiver != nil {
		archiver.Stop()
	}

	logger.Info("shutdown complete")
	return nil
}
