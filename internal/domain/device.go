package domain

import (
	"time"

	"github.com/google/uuid"
)

// Device is the read model of a user_devices row, owned by the device registry.
type Device struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	IsTrusted    bool       `json:"is_trusted"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastIP       string     `json:"last_ip,omitempty"`
	LastCountry  string     `json:"last_country,omitempty"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
}

// Age returns how long the device has been registered as of now.
func (d *Device) Age(now time.Time) time.Duration {
	return now.Sub(d.RegisteredAt)
}
