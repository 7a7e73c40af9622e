package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/repository"
	"github.com/google/uuid"
)

const (
	MaxAttempts   = 5
	LockoutWindow = 15 * time.Minute
)

// Lockout tracks the login attempts reported by the authentication service.
type Lockout struct {
	attempts repository.LoginAttemptRepository
	db       repository.DBTX
	logger   *slog.Logger
}

// NewLockout creates a Lockout over the given repository and connection.
func NewLockout(attempts repository.LoginAttemptRepository, db repository.DBTX, logger *slog.Logger) *Lockout {
	return &Lockout{attempts: attempts, db: db, logger: logger}
}

// RecentFailures counts failed logins inside the lockout window ending at now.
// It fails open: a query error counts as zero failures.
func (l *Lockout) RecentFailures(ctx context.Context, userID uuid.UUID, now time.Time) int {
	n, err := l.attempts.CountFailuresSince(ctx, l.db, userID, now.Add(-LockoutWindow))
	if err != nil {
		l.logger.Warn("failed login count unavailable", "user_id", userID, "error", err)
		return 0
	}
	return n
}

// Record stores one login attempt made at the given time.
func (l *Lockout) Record(ctx context.Context, userID uuid.UUID, ip string, success bool, at time.Time) error {
	if err := l.attempts.Record(ctx, l.db, userID, ip, success, at); err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

// Check blocks once the user reached MaxAttempts failures inside the window.
func (l *Lockout) Check(ctx context.Context, userID uuid.UUID, now time.Time) domain.GuardResult {
	return Evaluate(l.RecentFailures(ctx, userID, now))
}

// Evaluate turns a failure count into a lockout verdict.
func Evaluate(failures int) domain.GuardResult {
	if failures >= MaxAttempts {
		return domain.GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("%d failed logins within %s", failures, LockoutWindow),
			Guard:   "lockout",
		}
	}
	return domain.GuardResult{Allowed: true}
}
