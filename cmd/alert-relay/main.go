package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atis/platform/internal/guard"
	"github.com/atis/platform/internal/infra"
	"github.com/atis/platform/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("alert relay failed", "error", err)
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
	pollInterval, err := infra.ParseDuration("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	if err != nil {
		return err
	}
	if cfg.OutboxBatchSize < 1 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive, got %d", cfg.OutboxBatchSize)
	}

	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()
	if !producer.Enabled() {
		return fmt.Errorf("alert relay needs KAFKA_ENABLED=true and KAFKA_BROKERS")
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("alert-relay connected to postgres")

	relay := infra.NewOutboxRelay(
		repository.NewOutboxRepository(),
		pool,
		producer,
		guard.NewCircuitBreaker(5, 30*time.Second),
		nil,
		logger,
		pollInterval,
		cfg.OutboxBatchSize,
	)
	relay.Run(ctx)
	return nil
}
