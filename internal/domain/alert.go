package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AlertType classifies a security alert.
type AlertType string

const (
	AlertSuspiciousActivity AlertType = "suspicious_activity"
	AlertSessionHijacking   AlertType = "session_hijacking"
	AlertFailedLogin        AlertType = "failed_login"
	AlertAccountLockout     AlertType = "account_lockout"
)

// Severity ranks how urgent an alert is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertStatusOpen is the only status this service writes; downstream tooling resolves alerts.
const AlertStatusOpen = "open"

// SecurityAlert represents a security_alerts row.
type SecurityAlert struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	SessionID     *uuid.UUID      `json:"session_id,omitempty"`
	Type          AlertType       `json:"alert_type"`
	Severity      Severity        `json:"severity"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Evidence      json.RawMessage `json:"evidence"`
	SourceIP      string          `json:"source_ip,omitempty"`
	RiskScore     int             `json:"risk_score"`
	DetectedAt    time.Time       `json:"detected_at"`
	AutoGenerated bool            `json:"auto_generated"`
	Status        string          `json:"status"`
}

// AlertFilter narrows alert listings for dashboards.
type AlertFilter struct {
	UserID    *uuid.UUID
	SessionID *uuid.UUID
	Status    string
	Limit     int
}
