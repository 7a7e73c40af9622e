package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const activityColumns = `
	id, session_id, user_id, activity_type, description, endpoint, method, status,
	ip_address, user_agent, risk_score, risk_factors, is_suspicious, request_snapshot,
	response_time_ms, created_at`

type activityRepo struct{}

// NewActivityRepository returns a pgx-backed ActivityRepository.
func NewActivityRepository() ActivityRepository {
	return &activityRepo{}
}

func (r *activityRepo) Insert(ctx context.Context, db DBTX, a *domain.Activity) error {
	var snapshot []byte
	if len(a.RequestSnapshot) > 0 {
		snapshot = a.RequestSnapshot
	}
	factors := a.RiskFactors
	if factors == nil {
		factors = []string{}
	}
	_, err := db.Exec(ctx, `
		INSERT INTO session_activities (`+activityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.SessionID, a.UserID, string(a.Type), a.Description, a.Endpoint, a.Method, a.Status,
		a.IPAddress, a.UserAgent, a.RiskScore, factors, a.IsSuspicious, snapshot,
		a.ResponseTimeMs, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (r *activityRepo) CountSince(ctx context.Context, db DBTX, sessionID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := db.QueryRow(ctx, `
		SELECT COUNT(*) FROM session_activities
		WHERE session_id = $1 AND created_at >= $2`, sessionID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count session activities: %w", err)
	}
	return n, nil
}

func (r *activityRepo) ListBySession(ctx context.Context, db DBTX, sessionID uuid.UUID) ([]domain.Activity, error) {
	rows, err := db.Query(ctx, `
		SELECT `+activityColumns+` FROM session_activities
		WHERE session_id = $1
		ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session activities: %w", err)
	}
	return collectActivities(rows)
}

func (r *activityRepo) ListByUserSince(ctx context.Context, db DBTX, userID uuid.UUID, since time.Time) ([]domain.Activity, error) {
	rows, err := db.Query(ctx, `
		SELECT `+activityColumns+` FROM session_activities
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY id ASC`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list user activities: %w", err)
	}
	return collectActivities(rows)
}

func (r *activityRepo) CountByUserSince(ctx context.Context, db DBTX, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := db.QueryRow(ctx, `
		SELECT COUNT(*) FROM session_activities
		WHERE user_id = $1 AND created_at >= $2`, userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count user activities: %w", err)
	}
	return n, nil
}

func collectActivities(rows pgx.Rows) ([]domain.Activity, error) {
	defer rows.Close()
	var out []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var typ string
		var snapshot []byte
		err := rows.Scan(&a.ID, &a.SessionID, &a.UserID, &typ, &a.Description, &a.Endpoint, &a.Method, &a.Status,
			&a.IPAddress, &a.UserAgent, &a.RiskScore, &a.RiskFactors, &a.IsSuspicious, &snapshot,
			&a.ResponseTimeMs, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Type = domain.ParseActivityType(typ)
		a.RequestSnapshot = snapshot
		out = append(out, a)
	}
	return out, rows.Err()
}
