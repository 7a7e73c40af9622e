package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const sessionColumns = `
	id, user_id, device_id, token_hash, fingerprint, ip_address, user_agent,
	started_at, last_activity_at, expires_at, terminated_at, termination_reason,
	terminated_by, security_score, is_suspicious, status, security_context, version`

type sessionRepo struct{}

// NewSessionRepository returns a pgx-backed SessionRepository.
func NewSessionRepository() SessionRepository {
	return &sessionRepo{}
}

func (r *sessionRepo) Create(ctx context.Context, db DBTX, s *domain.Session) error {
	secCtx, err := json.Marshal(s.SecurityContext)
	if err != nil {
		return fmt.Errorf("marshal security context: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO user_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		s.ID, s.UserID, s.DeviceID, s.TokenHash, s.Fingerprint, s.IPAddress, s.UserAgent,
		s.StartedAt, s.LastActivityAt, s.ExpiresAt, s.TerminatedAt, s.TerminationReason,
		s.TerminatedBy, s.SecurityScore, s.IsSuspicious, string(s.Status), secCtx, s.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrValidation("session token already in use")
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *sessionRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Session, error) {
	row := db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (r *sessionRepo) FindByTokenHash(ctx context.Context, db DBTX, tokenHash string) (*domain.Session, error) {
	row := db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE token_hash = $1`, tokenHash)
	return scanSession(row)
}

// Update is a compare-and-swap on the version column.
func (r *sessionRepo) Update(ctx context.Context, db DBTX, s *domain.Session) error {
	secCtx, err := json.Marshal(s.SecurityContext)
	if err != nil {
		return fmt.Errorf("marshal security context: %w", err)
	}
	tag, err := db.Exec(ctx, `
		UPDATE user_sessions SET
		  ip_address = $3, user_agent = $4, last_activity_at = $5, expires_at = $6,
		  terminated_at = $7, termination_reason = $8, terminated_by = $9,
		  security_score = $10, is_suspicious = $11, status = $12, security_context = $13,
		  version = version + 1
		WHERE id = $1 AND version = $2`,
		s.ID, s.Version, s.IPAddress, s.UserAgent, s.LastActivityAt, s.ExpiresAt,
		s.TerminatedAt, s.TerminationReason, s.TerminatedBy,
		s.SecurityScore, s.IsSuspicious, string(s.Status), secCtx,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConcurrencyConflict(s.ID.String())
	}
	s.Version++
	return nil
}

func (r *sessionRepo) ExpireIfStale(ctx context.Context, db DBTX, id uuid.UUID, now, idleCutoff time.Time) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE user_sessions SET
		  status = 'expired', terminated_at = $2, termination_reason = $4, version = version + 1
		WHERE id = $1 AND status = 'active'
		  AND (expires_at <= $2 OR last_activity_at < $3)`,
		id, now, idleCutoff, domain.ReasonTimeout)
	if err != nil {
		return false, fmt.Errorf("expire session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *sessionRepo) ListExpirable(ctx context.Context, db DBTX, now, idleCutoff time.Time, limit int) ([]domain.Session, error) {
	rows, err := db.Query(ctx, `
		SELECT `+sessionColumns+` FROM user_sessions
		WHERE status = 'active' AND (expires_at <= $1 OR last_activity_at < $2)
		ORDER BY expires_at ASC
		LIMIT $3`, now, idleCutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expirable sessions: %w", err)
	}
	return collectSessions(rows)
}

func (r *sessionRepo) ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, status domain.SessionStatus) ([]domain.Session, error) {
	rows, err := db.Query(ctx, `
		SELECT `+sessionColumns+` FROM user_sessions
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY started_at DESC`, userID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}
	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]domain.Session, error) {
	defer rows.Close()
	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	var status string
	var secCtx []byte
	err := row.Scan(&s.ID, &s.UserID, &s.DeviceID, &s.TokenHash, &s.Fingerprint, &s.IPAddress, &s.UserAgent,
		&s.StartedAt, &s.LastActivityAt, &s.ExpiresAt, &s.TerminatedAt, &s.TerminationReason,
		&s.TerminatedBy, &s.SecurityScore, &s.IsSuspicious, &status, &secCtx, &s.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.Status = domain.SessionStatus(status)
	if len(secCtx) > 0 {
		if err := json.Unmarshal(secCtx, &s.SecurityContext); err != nil {
			return nil, fmt.Errorf("decode security context: %w", err)
		}
	}
	return &s, nil
}
