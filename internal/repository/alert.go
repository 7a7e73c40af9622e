package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/atis/platform/internal/domain"
	"github.com/google/uuid"
)

const defaultAlertLimit = 100

type alertRepo struct{}

// NewAlertRepository returns a pgx-backed AlertRepository.
func NewAlertRepository() AlertRepository {
	return &alertRepo{}
}

func (r *alertRepo) Insert(ctx context.Context, db DBTX, a *domain.SecurityAlert) error {
	_, err := db.Exec(ctx, `
		INSERT INTO security_alerts
		  (id, user_id, session_id, alert_type, severity, title, description, evidence,
		   source_ip, risk_score, detected_at, auto_generated, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.UserID, a.SessionID, string(a.Type), string(a.Severity), a.Title, a.Description,
		[]byte(a.Evidence), a.SourceIP, a.RiskScore, a.DetectedAt, a.AutoGenerated, a.Status,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// List builds its WHERE clause from the populated filter fields.
func (r *alertRepo) List(ctx context.Context, db DBTX, f domain.AlertFilter) ([]domain.SecurityAlert, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	argIdx := 1

	if f.UserID != nil {
		where = append(where, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, *f.UserID)
		argIdx++
	}
	if f.SessionID != nil {
		where = append(where, fmt.Sprintf("session_id = $%d", argIdx))
		args = append(args, *f.SessionID)
		argIdx++
	}
	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, f.Status)
		argIdx++
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, user_id, session_id, alert_type, severity, title, description, evidence,
		       source_ip, risk_score, detected_at, auto_generated, status
		FROM security_alerts
		WHERE %s
		ORDER BY detected_at DESC, id
		LIMIT $%d`, strings.Join(where, " AND "), argIdx)

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.SecurityAlert
	for rows.Next() {
		var a domain.SecurityAlert
		var typ, severity string
		var evidence []byte
		err := rows.Scan(&a.ID, &a.UserID, &a.SessionID, &typ, &severity, &a.Title, &a.Description, &evidence,
			&a.SourceIP, &a.RiskScore, &a.DetectedAt, &a.AutoGenerated, &a.Status)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = domain.AlertType(typ)
		a.Severity = domain.Severity(severity)
		a.Evidence = evidence
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (r *alertRepo) CountOpenByUser(ctx context.Context, db DBTX, userID uuid.UUID) (int, error) {
	var n int
	err := db.QueryRow(ctx, `
		SELECT COUNT(*) FROM security_alerts WHERE user_id = $1 AND status = $2`,
		userID, domain.AlertStatusOpen).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open alerts: %w", err)
	}
	return n, nil
}
