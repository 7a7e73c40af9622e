package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/atis/platform/internal/guard"
	"github.com/atis/platform/internal/repository"
)

// EventPublisher sends one message to a topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

const relayCircuit = "outbox.publish"

// OutboxRelay polls the event_outbox table and publishes events to Kafka.
// Events are relayed in insertion order; a publish failure stops the batch so
// later events never overtake it.
type OutboxRelay struct {
	outbox    repository.OutboxRepository
	db        repository.DBTX
	producer  EventPublisher
	breaker   *guard.CircuitBreaker
	metrics   *Metrics
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewOutboxRelay creates a relay. breaker and metrics may be nil.
func NewOutboxRelay(
	outbox repository.OutboxRepository,
	db repository.DBTX,
	producer EventPublisher,
	breaker *guard.CircuitBreaker,
	metrics *Metrics,
	logger *slog.Logger,
	interval time.Duration,
	batchSize int,
) *OutboxRelay {
	return &OutboxRelay{
		outbox:    outbox,
		db:        db,
		producer:  producer,
		breaker:   breaker,
		metrics:   metrics,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start begins polling in a goroutine. Stops when ctx is cancelled.
func (p *OutboxRelay) Start(ctx context.Context) {
	go p.Run(ctx)
}

// Run polls until ctx is cancelled.
func (p *OutboxRelay) Run(ctx context.Context) {
	p.logger.Info("outbox relay started", "interval", p.interval, "batch_size", p.batchSize)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := p.RelayOnce(ctx); err != nil {
				p.logger.Error("outbox relay error", "error", err)
			}
		}
	}
}

// RelayOnce publishes one batch and deletes what was published. It returns the
// number of events relayed.
func (p *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	if p.breaker != nil {
		if verdict := p.breaker.Check(ctx, relayCircuit); !verdict.Allowed {
			p.logger.Debug("outbox relay skipped", "reason", verdict.Reason)
			return 0, nil
		}
	}

	events, err := p.outbox.FetchUnpublished(ctx, p.db, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch outbox: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(events))
	for _, e := range events {
		msg, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("marshal event %s: %w", e.EventID, err)
		}
		key := e.PartitionKey
		if key == "" {
			key = e.AggregateID
		}
		if err := p.producer.Publish(ctx, e.Topic(), []byte(key), msg); err != nil {
			p.metrics.OutboxFailed()
			if p.breaker != nil {
				p.breaker.RecordFailure(relayCircuit)
			}
			p.logger.Error("kafka publish failed", "event_id", e.EventID, "topic", e.Topic(), "error", err)
			break
		}
		published = append(published, e.SeqID)
	}
	if p.breaker != nil && len(published) == len(events) {
		p.breaker.RecordSuccess(relayCircuit)
	}
	if len(published) == 0 {
		return 0, nil
	}

	if err := p.outbox.MarkPublished(ctx, p.db, published); err != nil {
		return 0, fmt.Errorf("mark published: %w", err)
	}
	p.metrics.OutboxRelayed(len(published))
	p.logger.Debug("outbox relay complete", "published", len(published))
	return len(published), nil
}
