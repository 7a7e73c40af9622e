package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/infra"
	"github.com/atis/platform/internal/repository"
	"github.com/google/uuid"
)

// AlertPublisher fans committed alerts out to live subscribers.
type AlertPublisher interface {
	Publish(alert domain.SecurityAlert)
}

// AlertInput describes an alert to raise.
type AlertInput struct {
	UserID      uuid.UUID
	SessionID   *uuid.UUID
	Type        domain.AlertType
	Severity    domain.Severity
	Title       string
	Description string
	Evidence    map[string]any
	SourceIP    string
	// RiskScore is usually 100 minus the session's security score.
	RiskScore int
}

// AlertEmitter persists security alerts with their outbox events and announces them.
type AlertEmitter struct {
	repos     Repositories
	clock     Clock
	publisher AlertPublisher
	metrics   *infra.Metrics
	logger    *slog.Logger
}

// NewAlertEmitter creates an AlertEmitter. publisher and metrics may be nil.
func NewAlertEmitter(repos Repositories, clock Clock, publisher AlertPublisher, metrics *infra.Metrics, logger *slog.Logger) *AlertEmitter {
	return &AlertEmitter{
		repos:     repos,
		clock:     clock,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Raise creates an immutable alert and its alert.raised event in one transaction.
func (e *AlertEmitter) Raise(ctx context.Context, in AlertInput) (*domain.SecurityAlert, error) {
	if err := domain.ValidateID("user_id", in.UserID); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if in.Type == "" || in.Severity == "" || in.Title == "" {
		return nil, domain.ErrValidation("alert type, severity and title are required")
	}

	alert := e.build(in)
	err := e.repos.Tx.InTx(ctx, func(tx repository.DBTX) error {
		return e.persist(ctx, tx, &alert)
	})
	if err != nil {
		return nil, domain.ErrInternal("persist alert", err)
	}
	e.announce(alert)
	return &alert, nil
}

// ListAlerts returns alerts for dashboards, newest first.
func (e *AlertEmitter) ListAlerts(ctx context.Context, f domain.AlertFilter) ([]domain.SecurityAlert, error) {
	if f.Limit < 0 || f.Limit > 500 {
		return nil, domain.ErrValidation("limit must be between 0 and 500")
	}
	alerts, err := e.repos.Alerts.List(ctx, e.repos.Tx.DB(), f)
	if err != nil {
		return nil, domain.ErrInternal("list alerts", err)
	}
	return alerts, nil
}

func (e *AlertEmitter) build(in AlertInput) domain.SecurityAlert {
	evidence, err := json.Marshal(in.Evidence)
	if err != nil || in.Evidence == nil {
		evidence = json.RawMessage(`{}`)
	}
	return domain.SecurityAlert{
		ID:            uuid.New(),
		UserID:        in.UserID,
		SessionID:     in.SessionID,
		Type:          in.Type,
		Severity:      in.Severity,
		Title:         in.Title,
		Description:   in.Description,
		Evidence:      evidence,
		SourceIP:      in.SourceIP,
		RiskScore:     domain.ClampScore(in.RiskScore),
		DetectedAt:    e.clock.Now(),
		AutoGenerated: true,
		Status:        domain.AlertStatusOpen,
	}
}

// persist writes the alert and its outbox event on tx.
func (e *AlertEmitter) persist(ctx context.Context, tx repository.DBTX, a *domain.SecurityAlert) error {
	if err := e.repos.Alerts.Insert(ctx, tx, a); err != nil {
		return err
	}
	return e.repos.Outbox.Insert(ctx, tx, domain.NewAlertRaisedEvent(a))
}

// announce runs after commit.
func (e *AlertEmitter) announce(alerts ...domain.SecurityAlert) {
	for _, a := range alerts {
		e.metrics.AlertRaised(string(a.Type), string(a.Severity))
		e.logger.Warn("security alert raised",
			"alert_id", a.ID,
			"type", a.Type,
			"severity", a.Severity,
			"user_id", a.UserID,
			"risk_score", a.RiskScore,
		)
		if e.publisher != nil {
			e.publisher.Publish(a)
		}
	}
}
