package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/ids"
	"github.com/atis/platform/internal/infra"
	"github.com/atis/platform/internal/policy"
	"github.com/google/uuid"
)

// ActivityRecorder appends scored activity records and feeds their outcome
// back into the session.
type ActivityRecorder struct {
	repos    Repositories
	policy   *policy.Policy
	registry *SessionRegistry
	detector *AnomalyDetector
	clock    Clock
	metrics  *infra.Metrics
	logger   *slog.Logger
}

// NewActivityRecorder creates an ActivityRecorder.
func NewActivityRecorder(
	repos Repositories,
	pol *policy.Policy,
	registry *SessionRegistry,
	detector *AnomalyDetector,
	clock Clock,
	metrics *infra.Metrics,
	logger *slog.Logger,
) *ActivityRecorder {
	return &ActivityRecorder{
		repos:    repos,
		policy:   pol,
		registry: registry,
		detector: detector,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
	}
}

// RecordActivity scores and appends one activity for an active session, then
// touches the session. A suspicious activity flags the session afterwards.
func (r *ActivityRecorder) RecordActivity(ctx context.Context, sessionID uuid.UUID, activityType string, rc domain.RequestContext) (*domain.Activity, error) {
	if err := domain.ValidateID("session_id", sessionID); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if activityType == "" {
		return nil, domain.ErrValidation("activity_type is required")
	}
	if err := rc.Validate(); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	typ := domain.ParseActivityType(activityType)

	sess, err := r.registry.loadActive(ctx, sessionID, "record activity")
	if err != nil {
		return nil, asAppError("load session", err)
	}

	db := r.repos.Tx.DB()
	device, err := r.repos.Devices.FindByID(ctx, db, sess.DeviceID)
	if err != nil {
		return nil, domain.ErrInternal("find device", err)
	}

	now := r.clock.Now()
	recent, err := r.repos.Activities.CountSince(ctx, db, sess.ID, now.Add(-r.policy.FloodWindow))
	if err != nil {
		return nil, domain.ErrInternal("count recent activities", err)
	}

	risk := r.policy.ActivityRiskScore(policy.ActivityRiskInput{
		Type:                typ,
		Context:             rc,
		Session:             sess,
		Device:              device,
		RecentActivityCount: recent,
		Now:                 now,
	})

	activity := &domain.Activity{
		ID:             ids.NewActivityID(now),
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		Type:           typ,
		Description:    rc.Description,
		Endpoint:       rc.Endpoint,
		Method:         rc.Method,
		Status:         rc.Status,
		IPAddress:      rc.IP,
		UserAgent:      rc.UserAgent,
		RiskScore:      risk.Score,
		RiskFactors:    risk.Flags,
		IsSuspicious:   risk.Suspicious,
		ResponseTimeMs: rc.ResponseTimeMs,
		CreatedAt:      now,
	}
	if rc.Snapshot != nil {
		snapshot, err := json.Marshal(rc.Snapshot)
		if err != nil {
			return nil, domain.ErrValidation("request_snapshot is not serializable")
		}
		activity.RequestSnapshot = snapshot
	}

	if err := r.repos.Activities.Insert(ctx, db, activity); err != nil {
		return nil, domain.ErrInternal("insert activity", err)
	}
	r.metrics.ActivityRecorded(string(typ), risk.Score, risk.Suspicious)

	updated, err := r.registry.UpdateActivity(ctx, sess.ID, rc)
	if err != nil {
		return activity, err
	}

	if risk.Suspicious {
		r.logger.Warn("suspicious activity recorded",
			"activity_id", activity.ID,
			"session_id", sess.ID,
			"type", typ,
			"risk_score", risk.Score,
			"factors", risk.Flags,
		)
		details := map[string]any{
			"activity_id":   activity.ID,
			"activity_type": string(typ),
			"risk_score":    risk.Score,
			"risk_factors":  risk.Flags,
		}
		if _, err := r.detector.FlagSuspiciousActivity(ctx, updated.ID, ReasonHighRiskActivity, details); err != nil {
			return activity, err
		}
	}
	return activity, nil
}
