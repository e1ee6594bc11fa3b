package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/f1-relay/internal/cache"
	"github.com/adred-codev/f1-relay/internal/config"
	"github.com/adred-codev/f1-relay/internal/coordinator"
	"github.com/adred-codev/f1-relay/internal/driverstate"
	"github.com/adred-codev/f1-relay/internal/eventbus"
	"github.com/adred-codev/f1-relay/internal/health"
	"github.com/adred-codev/f1-relay/internal/hub"
	"github.com/adred-codev/f1-relay/internal/metrics"
	"github.com/adred-codev/f1-relay/internal/normalize"
	"github.com/adred-codev/f1-relay/internal/platform/logging"
	"github.com/adred-codev/f1-relay/internal/upstream"
)

func main() {
	bootstrap := logging.New(logging.Config{Level: "info", Format: "json"})

	cfg, err := config.Load(&bootstrap)
	if err != nil {
		bootstrap.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	var l2 *redis.Client
	if cfg.L2Addr != "" {
		l2 = redis.NewClient(&redis.Options{Addr: cfg.L2Addr})
	}

	tier, err := cache.New(cache.Config{
		L1MaxEntries:          cfg.L1MaxEntries,
		GlobalPrefix:          cfg.GlobalKeyPrefix,
		CompressionThresholdB: cfg.CompressionThresholdB,
		Algorithm:             cache.Algorithm(cfg.CompressionAlgorithm),
		FailoverEnabled:       cfg.FailoverEnabled,
		FallbackToMemory:      cfg.FailoverFallbackToMemory,
		HealthCheckInterval:   cfg.HealthCheckInterval,
	}, l2, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize cache tier")
	}

	h := hub.New(hub.Config{
		HeartbeatInterval:   cfg.HubHeartbeatInterval,
		MaxConnectionsPerIP: cfg.MaxConnectionsPerIP,
		MaxEventsPerMinute:  cfg.MaxEventsPerMinute,
		AllowedOrigins:      cfg.AllowedOrigins,
		RequireOriginCheck:  cfg.RequireOriginCheck,
		MinUserAgentLen:     cfg.MinUserAgentLen,
		ThrottlePositionMs:  cfg.ThrottlePositionMs,
		ThrottleCarDataMs:   cfg.ThrottleCarDataMs,

		ConnAttemptGlobalRate:  cfg.ConnAttemptGlobalRate,
		ConnAttemptGlobalBurst: cfg.ConnAttemptGlobalBurst,
		ConnAttemptIPRate:      cfg.ConnAttemptIPRate,
		ConnAttemptIPBurst:     cfg.ConnAttemptIPBurst,
	}, tier, logger)

	up := upstream.New(upstream.Config{
		BaseURL:               cfg.UpstreamBaseURL,
		Hub:                   cfg.UpstreamHub,
		Origin:                cfg.UpstreamOrigin,
		ReconnectBaseInterval: cfg.ReconnectBaseInterval,
		ReconnectMaxInterval:  cfg.ReconnectMaxInterval,
		ReconnectMaxAttempts:  cfg.ReconnectMaxAttempts,
		ConnectTimeout:        cfg.ConnectTimeout,
		KeepAliveOverride:     cfg.KeepAliveOverride,
	}, logger)

	norm := normalize.New()
	state := driverstate.New(nil)

	coord := coordinator.New(up, norm, state, tier, h, coordinator.ThrottleConfig{
		PositionMs: cfg.ThrottlePositionMs,
		CarDataMs:  cfg.ThrottleCarDataMs,
	}, logger)

	if cfg.NATSEnabled {
		bus, err := eventbus.Connect(eventbus.Config{URL: cfg.NATSURL}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("eventbus connect failed, continuing without it")
		} else {
			coord.SetEventBus(bus)
			defer bus.Close()
		}
	}

	reporter := health.New(up, h, tier, health.Limits{
		MaxGoroutines:  cfg.MaxGoroutines,
		MaxConnections: cfg.MaxConnections,
	})

	reg := metrics.NewRegistry()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", reporter.Handler)
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/stream", h.HandleUpgrade)

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go coord.Run(ctx)
	go up.Start(ctx)
	h.StartHeartbeat(ctx)
	tier.StartHealthCheck(ctx)

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down relay")
	h.Shutdown()
	up.Stop()
	tier.Close()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during http server shutdown")
	}
}
