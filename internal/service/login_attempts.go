package service

import (
	"context"

	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/guard"
	"github.com/google/uuid"
)

// LoginAttemptInput is one authentication outcome reported by the login service.
type LoginAttemptInput struct {
	UserID  uuid.UUID `json:"user_id"`
	IP      string    `json:"ip"`
	Success bool      `json:"success"`
}

// RecordLoginAttempt stores an authentication outcome and returns the lockout
// verdict that applies to the user afterwards. The failure that first locks
// the account raises an account_lockout alert.
func (r *SessionRegistry) RecordLoginAttempt(ctx context.Context, in LoginAttemptInput) (domain.GuardResult, error) {
	if err := domain.ValidateID("user_id", in.UserID); err != nil {
		return domain.GuardResult{}, domain.ErrValidation(err.Error())
	}
	if err := (domain.RequestContext{IP: in.IP}).Validate(); err != nil {
		return domain.GuardResult{}, domain.ErrValidation(err.Error())
	}

	now := r.clock.Now()
	before := r.lockout.Check(ctx, in.UserID, now)
	if err := r.lockout.Record(ctx, in.UserID, in.IP, in.Success, now); err != nil {
		return domain.GuardResult{}, domain.ErrInternal("record login attempt", err)
	}
	after := r.lockout.Check(ctx, in.UserID, now)

	if !in.Success && before.Allowed && !after.Allowed {
		r.logger.Warn("account locked", "user_id", in.UserID, "ip", in.IP, "reason", after.Reason)
		_, err := r.emitter.Raise(ctx, AlertInput{
			UserID:      in.UserID,
			Type:        domain.AlertAccountLockout,
			Severity:    domain.SeverityHigh,
			Title:       "Account locked after repeated failed logins",
			Description: after.Reason,
			Evidence: map[string]any{
				"max_attempts": guard.MaxAttempts,
				"window":       guard.LockoutWindow.String(),
				"last_ip":      in.IP,
			},
			SourceIP:  in.IP,
			RiskScore: 100,
		})
		if err != nil {
			r.logger.Error("raise account lockout alert", "user_id", in.UserID, "error", err)
		}
	}
	return after, nil
}
