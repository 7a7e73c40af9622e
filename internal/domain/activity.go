package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActivityType is the closed set of tracked user actions.
type ActivityType string

const (
	ActivityLogin          ActivityType = "login"
	ActivityLogout         ActivityType = "logout"
	ActivityHeartbeat      ActivityType = "heartbeat"
	ActivityAPICall        ActivityType = "api_call"
	ActivityPageView       ActivityType = "page_view"
	ActivityDownload       ActivityType = "download"
	ActivityUpload         ActivityType = "upload"
	ActivityPasswordChange ActivityType = "password_change"
	ActivitySettingsChange ActivityType = "settings_change"
	ActivitySecurityEvent  ActivityType = "security_event"
	// ActivityUnknown carries the default base risk for unrecognised tags.
	ActivityUnknown ActivityType = "unknown"
)

// AllActivityTypes returns every known activity type except ActivityUnknown.
func AllActivityTypes() []ActivityType {
	return []ActivityType{
		ActivityLogin, ActivityLogout, ActivityHeartbeat, ActivityAPICall, ActivityPageView,
		ActivityDownload, ActivityUpload, ActivityPasswordChange, ActivitySettingsChange,
		ActivitySecurityEvent,
	}
}

// ParseActivityType maps a raw tag onto the closed set. Unrecognised tags become ActivityUnknown.
func ParseActivityType(raw string) ActivityType {
	t := ActivityType(raw)
	for _, known := range AllActivityTypes() {
		if t == known {
			return t
		}
	}
	return ActivityUnknown
}

// Activity represents an immutable session_activities row.
type Activity struct {
	ID              string          `json:"id"`
	SessionID       uuid.UUID       `json:"session_id"`
	UserID          uuid.UUID       `json:"user_id"`
	Type            ActivityType    `json:"activity_type"`
	Description     string          `json:"description,omitempty"`
	Endpoint        string          `json:"endpoint,omitempty"`
	Method          string          `json:"method,omitempty"`
	Status          *int            `json:"status,omitempty"`
	IPAddress       string          `json:"ip_address,omitempty"`
	UserAgent       string          `json:"user_agent,omitempty"`
	RiskScore       int             `json:"risk_score"`
	RiskFactors     []string        `json:"risk_factors,omitempty"`
	IsSuspicious    bool            `json:"is_suspicious"`
	RequestSnapshot json.RawMessage `json:"request_snapshot,omitempty"`
	ResponseTimeMs  *int            `json:"response_time_ms,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
