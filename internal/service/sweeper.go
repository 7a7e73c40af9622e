package service

import (
	"context"
	"log/slog"
	"time"
)

// expirer is the slice of SessionRegistry the sweeper drives.
type expirer interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// Sweeper periodically expires stale sessions.
type Sweeper struct {
	registry expirer
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(registry *SessionRegistry, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{registry: registry, interval: interval, logger: logger}
}

// Start begins sweeping in a goroutine. Stops when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go s.Run(ctx)
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("session sweeper started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.registry.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("session sweep failed", "error", err)
		return
	}
	s.logger.Debug("session sweep complete", "expired", n)
}
