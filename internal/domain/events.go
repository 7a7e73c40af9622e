package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewSessionCreatedEvent creates the lifecycle event for a fresh session.
func NewSessionCreatedEvent(s *Session) OutboxDraft {
	payload, _ := json.Marshal(map[string]interface{}{
		"session_id":     s.ID.String(),
		"user_id":        s.UserID.String(),
		"device_id":      s.DeviceID.String(),
		"security_score": s.SecurityScore,
		"expires_at":     s.ExpiresAt,
	})
	return sessionDraft(s, EventSessionCreated, payload, s.StartedAt)
}

// NewSessionClosedEvent creates the event for a session leaving the active state.
// The event type follows the target status.
func NewSessionClosedEvent(s *Session, at time.Time) OutboxDraft {
	evtType := EventSessionTerminated
	switch s.Status {
	case SessionExpired:
		evtType = EventSessionExpired
	case SessionHijacked:
		evtType = EventSessionHijacked
	}
	body := map[string]interface{}{
		"session_id": s.ID.String(),
		"user_id":    s.UserID.String(),
		"status":     s.Status,
		"reason":     s.TerminationReason,
	}
	if s.TerminatedBy != nil {
		body["terminated_by"] = s.TerminatedBy.String()
	}
	payload, _ := json.Marshal(body)
	return sessionDraft(s, evtType, payload, at)
}

// NewAlertRaisedEvent creates the event consumed by the notification pipeline.
func NewAlertRaisedEvent(a *SecurityAlert) OutboxDraft {
	payload, _ := json.Marshal(a)
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregateAlert,
		AggregateID:   a.ID.String(),
		EventType:     EventAlertRaised,
		PartitionKey:  a.UserID.String(),
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    a.DetectedAt,
	}
}

func sessionDraft(s *Session, evtType EventType, payload json.RawMessage, at time.Time) OutboxDraft {
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregateSession,
		AggregateID:   s.ID.String(),
		EventType:     evtType,
		PartitionKey:  s.UserID.String(),
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    at,
	}
}
