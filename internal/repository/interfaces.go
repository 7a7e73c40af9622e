package repository

import (
	"context"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Transactor hands out the connection used for single statements and runs
// multi-statement work inside one transaction.
type Transactor interface {
	DB() DBTX
	InTx(ctx context.Context, fn func(tx DBTX) error) error
}

// SessionRepository provides access to user_sessions.
type SessionRepository interface {
	// Create inserts a new session. A duplicate token hash is a validation error.
	Create(ctx context.Context, db DBTX, s *domain.Session) error

	// FindByID returns a session by ID, or nil when it does not exist.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Session, error)

	// FindByTokenHash returns the session owning a token hash, or nil.
	FindByTokenHash(ctx context.Context, db DBTX, tokenHash string) (*domain.Session, error)

	// Update writes every mutable column if the stored version still equals
	// s.Version, then increments s.Version. A lost race returns
	// domain.ErrConcurrencyConflict.
	Update(ctx context.Context, db DBTX, s *domain.Session) error

	// ExpireIfStale marks the session expired with reason "timeout" only while it is
	// still active and past its deadline or idle since before idleCutoff. It
	// reports whether the row transitioned.
	ExpireIfStale(ctx context.Context, db DBTX, id uuid.UUID, now, idleCutoff time.Time) (bool, error)

	// ListExpirable returns active sessions past their deadline or idle since before idleCutoff.
	ListExpirable(ctx context.Context, db DBTX, now, idleCutoff time.Time, limit int) ([]domain.Session, error)

	// ListByUser returns the user's sessions, newest first. An empty status returns all.
	ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, status domain.SessionStatus) ([]domain.Session, error)
}

// ActivityRepository provides append-only access to session_activities.
type ActivityRepository interface {
	// Insert appends an activity. Rows are never updated.
	Insert(ctx context.Context, db DBTX, a *domain.Activity) error

	// CountSince counts a session's activities created at or after since.
	CountSince(ctx context.Context, db DBTX, sessionID uuid.UUID, since time.Time) (int, error)

	// ListBySession returns a session's activities in creation order.
	ListBySession(ctx context.Context, db DBTX, sessionID uuid.UUID) ([]domain.Activity, error)

	// ListByUserSince returns a user's activities created at or after since, in creation order.
	ListByUserSince(ctx context.Context, db DBTX, userID uuid.UUID, since time.Time) ([]domain.Activity, error)

	// CountByUserSince counts a user's activities created at or after since.
	CountByUserSince(ctx context.Context, db DBTX, userID uuid.UUID, since time.Time) (int, error)
}

// AlertRepository provides access to security_alerts.
type AlertRepository interface {
	// Insert persists an alert. Alerts are read-only afterwards.
	Insert(ctx context.Context, db DBTX, a *domain.SecurityAlert) error

	// List returns alerts matching the filter, newest first.
	List(ctx context.Context, db DBTX, f domain.AlertFilter) ([]domain.SecurityAlert, error)

	// CountOpenByUser counts a user's alerts still in status open.
	CountOpenByUser(ctx context.Context, db DBTX, userID uuid.UUID) (int, error)
}

// DeviceRepository reads user_devices, owned by the device registry.
type DeviceRepository interface {
	// FindByID returns a device by ID, or nil when it does not exist.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Device, error)

	// ListByUser returns the user's devices, most recently registered first.
	ListByUser(ctx context.Context, db DBTX, userID uuid.UUID) ([]domain.Device, error)

	// TouchActivity records the IP and time the device was last seen.
	TouchActivity(ctx context.Context, db DBTX, id uuid.UUID, ip string, at time.Time) error
}

// LoginAttemptRepository reads login_attempts, written by the authentication service.
type LoginAttemptRepository interface {
	// Record inserts a login attempt row.
	Record(ctx context.Context, db DBTX, userID uuid.UUID, ip string, success bool, at time.Time) error

	// CountFailuresSince counts a user's failed attempts created after since.
	CountFailuresSince(ctx context.Context, db DBTX, userID uuid.UUID, since time.Time) (int, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the state change).
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns unpublished events for the outbox poller, oldest first.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxDraft, error)

	// MarkPublished deletes relayed events.
	MarkPublished(ctx context.Context, db DBTX, ids []int64) error
}
