package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all domain event types.
type EventType string

const (
	EventSessionCreated    EventType = "security.session.created"
	EventSessionTerminated EventType = "security.session.terminated"
	EventSessionExpired    EventType = "security.session.expired"
	EventSessionHijacked   EventType = "security.session.hijacked"
	EventAlertRaised       EventType = "security.alert.raised"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateSession AggregateType = "session"
	AggregateAlert   AggregateType = "alert"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	SeqID         int64           `json:"-"`
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// Topic returns the Kafka topic an event is relayed to.
func (d OutboxDraft) Topic() string {
	return "atis." + string(d.EventType)
}

// GuardResult is the verdict of a guard (rate limiter, circuit breaker).
type GuardResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Guard   string `json:"guard,omitempty"` // which guard blocked
}
