package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/infra"
	"github.com/atis/platform/internal/policy"
	"github.com/google/uuid"
)

// Flag reasons raised by this service.
const (
	ReasonIPChanged        = "ip_address_changed"
	ReasonHighRiskActivity = "high_risk_activity"
)

// AnomalyDetector degrades the trust of sessions showing suspicious signals and
// escalates them to hijacked once the score crosses the policy threshold.
type AnomalyDetector struct {
	repos   Repositories
	policy  *policy.Policy
	emitter *AlertEmitter
	clock   Clock
	backoff time.Duration
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewAnomalyDetector creates an AnomalyDetector.
func NewAnomalyDetector(
	repos Repositories,
	pol *policy.Policy,
	emitter *AlertEmitter,
	clock Clock,
	backoff time.Duration,
	metrics *infra.Metrics,
	logger *slog.Logger,
) *AnomalyDetector {
	return &AnomalyDetector{
		repos:   repos,
		policy:  pol,
		emitter: emitter,
		clock:   clock,
		backoff: backoff,
		metrics: metrics,
		logger:  logger,
	}
}

// Evaluate flags sess in memory: it marks it suspicious, applies the suspicion
// penalty and, while active, escalates to hijacked below the hijack threshold.
// It returns the alerts to persist with the session write.
func (d *AnomalyDetector) Evaluate(sess *domain.Session, reason string, details map[string]any, now time.Time) []domain.SecurityAlert {
	oldScore := sess.SecurityScore
	sess.IsSuspicious = true
	sess.AdjustScore(-d.policy.SuspicionPenalty)

	evidence := maps.Clone(details)
	if evidence == nil {
		evidence = map[string]any{}
	}
	evidence["reason"] = reason
	evidence["old_score"] = oldScore
	evidence["new_score"] = sess.SecurityScore
	evidence["fingerprint"] = sess.Fingerprint

	sourceIP := sess.IPAddress
	if ip, ok := details["new_ip"].(string); ok && ip != "" {
		sourceIP = ip
	}
	sessionID := sess.ID

	alerts := []domain.SecurityAlert{d.emitter.build(AlertInput{
		UserID:      sess.UserID,
		SessionID:   &sessionID,
		Type:        domain.AlertSuspiciousActivity,
		Severity:    domain.SeverityMedium,
		Title:       "Suspicious session activity",
		Description: fmt.Sprintf("Session flagged: %s", reason),
		Evidence:    evidence,
		SourceIP:    sourceIP,
		RiskScore:   100 - sess.SecurityScore,
	})}

	if sess.Status == domain.SessionActive && sess.SecurityScore < d.policy.HijackThreshold {
		// Transition cannot fail from active.
		_ = sess.Transition(domain.SessionHijacked, now, domain.ReasonHijacked, nil)
		alerts = append(alerts, d.emitter.build(AlertInput{
			UserID:    sess.UserID,
			SessionID: &sessionID,
			Type:      domain.AlertSessionHijacking,
			Severity:  domain.SeverityHigh,
			Title:     "Possible session hijacking",
			Description: fmt.Sprintf("Security score %d fell below the hijack threshold %d",
				sess.SecurityScore, d.policy.HijackThreshold),
			Evidence: map[string]any{
				"reason":      reason,
				"score":       sess.SecurityScore,
				"threshold":   d.policy.HijackThreshold,
				"fingerprint": sess.Fingerprint,
			},
			SourceIP:  sourceIP,
			RiskScore: 100 - sess.SecurityScore,
		}))
	}
	return alerts
}

// FlagSuspiciousActivity flags a stored session and persists the result with
// its alerts. Sessions that already left the active state are still flagged
// but never change status.
func (d *AnomalyDetector) FlagSuspiciousActivity(ctx context.Context, sessionID uuid.UUID, reason string, details map[string]any) (*domain.Session, error) {
	if err := domain.ValidateReason(reason); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	var (
		flagged *domain.Session
		prior   domain.SessionStatus
		raised  []domain.SecurityAlert
	)
	err := retryOnConflict(ctx, d.backoff, d.metrics, func() error {
		sess, err := d.repos.Sessions.FindByID(ctx, d.repos.Tx.DB(), sessionID)
		if err != nil {
			return err
		}
		if sess == nil {
			return domain.ErrNotFound("session", sessionID.String())
		}
		now := d.clock.Now()
		prev := sess.Status
		alerts := d.Evaluate(sess, reason, details, now)
		if err := commitSession(ctx, d.repos, d.emitter, sessionCommit{session: sess, prev: prev, alerts: alerts, at: now}); err != nil {
			return err
		}
		flagged, prior, raised = sess, prev, alerts
		return nil
	})
	if err != nil {
		return nil, asAppError("flag suspicious activity", err)
	}

	d.logger.Warn("session flagged suspicious",
		"session_id", flagged.ID,
		"user_id", flagged.UserID,
		"reason", reason,
		"security_score", flagged.SecurityScore,
		"status", flagged.Status,
	)
	d.afterCommit(flagged, prior, raised)
	return flagged, nil
}

func (d *AnomalyDetector) afterCommit(sess *domain.Session, prev domain.SessionStatus, alerts []domain.SecurityAlert) {
	if prev == domain.SessionActive && sess.Status != domain.SessionActive {
		d.metrics.SessionClosed(string(sess.Status))
	}
	d.emitter.announce(alerts...)
}
