package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/atis/platform/internal/app"
	"github.com/atis/platform/internal/infra"
	"github.com/atis/platform/internal/projection"
	"github.com/atis/platform/internal/repository"
	"github.com/atis/platform/internal/service"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("sweeper failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	interval, err := infra.ParseDuration("SWEEP_INTERVAL", cfg.SweepInterval)
	if err != nil {
		return err
	}
	regCfg, err := app.RegistryConfigFrom(cfg)
	if err != nil {
		return err
	}
	pol, err := app.LoadPolicy(cfg.RiskPolicyFile, logger)
	if err != nil {
		return fmt.Errorf("load risk policy: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("sweeper connected to postgres")

	repos := service.PostgresRepositories(repository.NewTransactor(pool))
	clock := service.NewSystemClock(cfg.Location())
	svcs := app.NewServices(repos, pol, projection.NewInMemoryStore(), nil, clock, regCfg, nil, logger)

	service.NewSweeper(svcs.Registry, interval, logger).Run(ctx)
	return nil
}
