package service

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/infra"
	"github.com/atis/platform/internal/repository"
)

// Repositories bundles the stores the security services read and write.
type Repositories struct {
	Tx         repository.Transactor
	Sessions   repository.SessionRepository
	Activities repository.ActivityRepository
	Alerts     repository.AlertRepository
	Devices    repository.DeviceRepository
	Attempts   repository.LoginAttemptRepository
	Outbox     repository.OutboxRepository
}

// PostgresRepositories wires the pgx-backed repositories over one transactor.
func PostgresRepositories(tx repository.Transactor) Repositories {
	return Repositories{
		Tx:         tx,
		Sessions:   repository.NewSessionRepository(),
		Activities: repository.NewActivityRepository(),
		Alerts:     repository.NewAlertRepository(),
		Devices:    repository.NewDeviceRepository(),
		Attempts:   repository.NewLoginAttemptRepository(),
		Outbox:     repository.NewOutboxRepository(),
	}
}

// Clock supplies the current time. Scoring reads the hour of day from it, so
// its location decides what counts as off hours.
type Clock interface {
	Now() time.Time
}

type systemClock struct {
	loc *time.Location
}

// NewSystemClock returns the wall clock in loc (UTC when nil).
func NewSystemClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return systemClock{loc: loc}
}

func (c systemClock) Now() time.Time { return time.Now().In(c.loc) }

const maxConflictAttempts = 5

// retryOnConflict re-runs fn while it fails with a version conflict, backing
// off exponentially with jitter. fn must reload the row on every attempt.
func retryOnConflict(ctx context.Context, backoff time.Duration, metrics *infra.Metrics, fn func() error) error {
	delay := backoff
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !domain.IsConcurrencyConflict(err) || attempt == maxConflictAttempts {
			return err
		}
		metrics.ConflictRetried()
		wait := delay
		if delay > 0 {
			wait = delay/2 + rand.N(delay/2+1)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
}
