package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type deviceRepo struct{}

// NewDeviceRepository returns a pgx-backed DeviceRepository.
func NewDeviceRepository() DeviceRepository {
	return &deviceRepo{}
}

func (r *deviceRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Device, error) {
	var d domain.Device
	err := db.QueryRow(ctx, `
		SELECT id, user_id, is_trusted, registered_at, last_ip, last_country, last_seen_at
		FROM user_devices WHERE id = $1`, id).
		Scan(&d.ID, &d.UserID, &d.IsTrusted, &d.RegisteredAt, &d.LastIP, &d.LastCountry, &d.LastSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan device: %w", err)
	}
	return &d, nil
}

func (r *deviceRepo) ListByUser(ctx context.Context, db DBTX, userID uuid.UUID) ([]domain.Device, error) {
	rows, err := db.Query(ctx, `
		SELECT id, user_id, is_trusted, registered_at, last_ip, last_country, last_seen_at
		FROM user_devices WHERE user_id = $1
		ORDER BY registered_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user devices: %w", err)
	}
	defer rows.Close()

	var out []domain.Device
	for rows.Next() {
		var d domain.Device
		if err := rows.Scan(&d.ID, &d.UserID, &d.IsTrusted, &d.RegisteredAt, &d.LastIP, &d.LastCountry, &d.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TouchActivity keeps the last known IP when ip is empty.
func (r *deviceRepo) TouchActivity(ctx context.Context, db DBTX, id uuid.UUID, ip string, at time.Time) error {
	_, err := db.Exec(ctx, `
		UPDATE user_devices SET
		  last_seen_at = $2,
		  last_ip = COALESCE(NULLIF($3, ''), last_ip)
		WHERE id = $1`, id, at, ip)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}
