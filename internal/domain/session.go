package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionExpired    SessionStatus = "expired"
	SessionTerminated SessionStatus = "terminated"
	SessionHijacked   SessionStatus = "hijacked"
)

// Termination reasons recorded on the session row.
const (
	ReasonTimeout     = "timeout"
	ReasonLogout      = "logout"
	ReasonAdminAction = "admin_action"
	ReasonHijacked    = "hijacking_detected"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionExpired, SessionTerminated, SessionHijacked:
		return true
	}
	return false
}

// CanTransitionTo enforces the monotonic state machine: only active sessions move,
// and never back to active.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	return s == SessionActive && next != SessionActive && next.Valid()
}

// SecurityContext is the free-form key/value context stored with a session.
type SecurityContext map[string]any

// Merge copies every key of other into c, overwriting existing values.
func (c SecurityContext) Merge(other SecurityContext) SecurityContext {
	if c == nil {
		c = SecurityContext{}
	}
	maps.Copy(c, other)
	return c
}

// Session represents a user_sessions row.
type Session struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	DeviceID          uuid.UUID       `json:"device_id"`
	TokenHash         string          `json:"-"`
	Fingerprint       string          `json:"fingerprint"`
	IPAddress         string          `json:"ip_address,omitempty"`
	UserAgent         string          `json:"user_agent,omitempty"`
	StartedAt         time.Time       `json:"started_at"`
	LastActivityAt    time.Time       `json:"last_activity_at"`
	ExpiresAt         time.Time       `json:"expires_at"`
	TerminatedAt      *time.Time      `json:"terminated_at,omitempty"`
	TerminationReason string          `json:"termination_reason,omitempty"`
	TerminatedBy      *uuid.UUID      `json:"terminated_by,omitempty"`
	SecurityScore     int             `json:"security_score"`
	IsSuspicious      bool            `json:"is_suspicious"`
	Status            SessionStatus   `json:"status"`
	SecurityContext   SecurityContext `json:"security_context"`
	Version           int64           `json:"-"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s *Session) Clone() *Session {
	c := *s
	c.SecurityContext = maps.Clone(s.SecurityContext)
	if s.TerminatedAt != nil {
		t := *s.TerminatedAt
		c.TerminatedAt = &t
	}
	if s.TerminatedBy != nil {
		id := *s.TerminatedBy
		c.TerminatedBy = &id
	}
	return &c
}

// IsExpired is true once the absolute deadline passed or the inactivity window elapsed.
func (s *Session) IsExpired(now time.Time, inactivity time.Duration) bool {
	return !now.Before(s.ExpiresAt) || now.Sub(s.LastActivityAt) > inactivity
}

// IsActive is true for an active-status session that has not expired in time.
func (s *Session) IsActive(now time.Time, inactivity time.Duration) bool {
	return s.Status == SessionActive && !s.IsExpired(now, inactivity)
}

// IsHijacked is true for a hijacked-status session or one whose score fell under threshold.
func (s *Session) IsHijacked(threshold int) bool {
	return s.Status == SessionHijacked || s.SecurityScore < threshold
}

// AdjustScore applies delta and clamps the result to [0,100].
func (s *Session) AdjustScore(delta int) {
	s.SecurityScore = ClampScore(s.SecurityScore + delta)
}

// Transition moves the session out of active. It refuses anything the state machine forbids.
func (s *Session) Transition(to SessionStatus, at time.Time, reason string, actor *uuid.UUID) error {
	if !s.Status.CanTransitionTo(to) {
		return ErrInvalidTransition(s.Status, "transition to "+string(to))
	}
	s.Status = to
	s.TerminatedAt = &at
	s.TerminationReason = reason
	s.TerminatedBy = actor
	return nil
}

// ClampScore bounds a score to [0,100].
func ClampScore(score int) int {
	return max(0, min(100, score))
}

// HashToken returns the storage form of an opaque session token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
