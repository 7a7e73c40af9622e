package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type loginAttemptRepo struct{}

// NewLoginAttemptRepository returns a pgx-backed LoginAttemptRepository.
func NewLoginAttemptRepository() LoginAttemptRepository {
	return &loginAttemptRepo{}
}

func (r *loginAttemptRepo) Record(ctx context.Context, db DBTX, userID uuid.UUID, ip string, success bool, at time.Time) error {
	_, err := db.Exec(ctx, `
		INSERT INTO login_attempts (user_id, ip_address, success, created_at)
		VALUES ($1, $2, $3, $4)`,
		userID, ip, success, at)
	if err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

func (r *loginAttemptRepo) CountFailuresSince(ctx context.Context, db DBTX, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := db.QueryRow(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE user_id = $1 AND success = false AND created_at > $2`,
		userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count failed logins: %w", err)
	}
	return n, nil
}
