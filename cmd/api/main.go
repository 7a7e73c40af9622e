package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atis/platform/internal/app"
	"github.com/atis/platform/internal/auth"
	"github.com/atis/platform/internal/guard"
	"github.com/atis/platform/internal/handler"
	"github.com/atis/platform/internal/infra"
	"github.com/atis/platform/internal/repository"
	"github.com/atis/platform/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Connect to Postgres
	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	if cfg.AutoMigrate {
		if err := infra.RunMigrations(cfg.DSN(), cfg.MigrationsDir, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// Durations were checked by Validate.
	serviceExpiry, _ := infra.ParseDuration("JWT_SERVICE_EXPIRY", cfg.JWTServiceExpiry)
	adminExpiry, _ := infra.ParseDuration("JWT_ADMIN_EXPIRY", cfg.JWTAdminExpiry)
	adminWindow, _ := infra.ParseDuration("ADMIN_RATE_WINDOW", cfg.AdminRateWindow)
	sweepInterval, _ := infra.ParseDuration("SWEEP_INTERVAL", cfg.SweepInterval)
	pollInterval, _ := infra.ParseDuration("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	regCfg, err := app.RegistryConfigFrom(cfg)
	if err != nil {
		return err
	}

	pol, err := app.LoadPolicy(cfg.RiskPolicyFile, logger)
	if err != nil {
		return fmt.Errorf("load risk policy: %w", err)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infra.NewMetrics(reg)

	// Statistics cache
	cache, closeCache := app.NewCache(ctx, cfg.RedisURL, logger)
	defer closeCache()

	// Services
	hub := infra.NewAlertHub(handler.AllowedOrigin(cfg.CORSAllowedOrigins), logger)
	repos := service.PostgresRepositories(repository.NewTransactor(pool))
	clock := service.NewSystemClock(cfg.Location())
	svcs := app.NewServices(repos, pol, cache, hub, clock, regCfg, metrics, logger)

	if cfg.SweepEnabled {
		service.NewSweeper(svcs.Registry, sweepInterval, logger).Start(ctx)
	}

	if cfg.KafkaEnabled {
		producer := infra.NewKafkaProducer(cfg.KafkaBrokers, true, logger)
		defer producer.Close()
		breaker := guard.NewCircuitBreaker(5, 30*time.Second)
		infra.NewOutboxRelay(repos.Outbox, pool, producer, breaker, metrics, logger, pollInterval, cfg.OutboxBatchSize).Start(ctx)
	}

	adminLimiter := guard.NewRateLimiter(cfg.AdminRateLimit, adminWindow)
	go pruneLimiter(ctx, adminLimiter, adminWindow)

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTServiceAudience, serviceExpiry, adminExpiry)
	r := app.NewRouter(app.RouterDeps{
		DB:           pool,
		JWTMgr:       jwtMgr,
		Logger:       logger,
		Metrics:      metrics,
		Registry:     svcs.Registry,
		Recorder:     svcs.Recorder,
		Stats:        svcs.Stats,
		Emitter:      svcs.Emitter,
		Hub:          hub,
		AdminLimiter: adminLimiter,
		CORSOrigins:  cfg.CORSAllowedOrigins,
	})

	// Start server. No WriteTimeout: alert streams are long-lived.
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

func pruneLimiter(ctx context.Context, limiter *guard.RateLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune()
		}
	}
}
