package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/guard"
	"github.com/atis/platform/internal/ids"
	"github.com/atis/platform/internal/infra"
	"github.com/atis/platform/internal/policy"
	"github.com/atis/platform/internal/repository"
	"github.com/google/uuid"
)

// RegistryConfig holds the session lifecycle tunables.
type RegistryConfig struct {
	SessionLifetime   time.Duration
	InactivityTimeout time.Duration
	RetryBackoff      time.Duration
	SweepBatchSize    int
}

// DefaultRegistryConfig returns an 8h lifetime and a 30 minute inactivity window.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		SessionLifetime:   8 * time.Hour,
		InactivityTimeout: 30 * time.Minute,
		RetryBackoff:      10 * time.Millisecond,
		SweepBatchSize:    500,
	}
}

// SessionRegistry owns the lifecycle of authenticated sessions.
type SessionRegistry struct {
	repos    Repositories
	policy   *policy.Policy
	detector *AnomalyDetector
	emitter  *AlertEmitter
	lockout  *guard.Lockout
	clock    Clock
	cfg      RegistryConfig
	metrics  *infra.Metrics
	logger   *slog.Logger
}

// NewSessionRegistry creates a SessionRegistry.
func NewSessionRegistry(
	repos Repositories,
	pol *policy.Policy,
	detector *AnomalyDetector,
	emitter *AlertEmitter,
	lockout *guard.Lockout,
	clock Clock,
	cfg RegistryConfig,
	metrics *infra.Metrics,
	logger *slog.Logger,
) *SessionRegistry {
	return &SessionRegistry{
		repos:    repos,
		policy:   pol,
		detector: detector,
		emitter:  emitter,
		lockout:  lockout,
		clock:    clock,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// CreateSessionInput holds what the authentication service hands over after a successful login.
type CreateSessionInput struct {
	UserID   uuid.UUID             `json:"user_id"`
	DeviceID uuid.UUID             `json:"device_id"`
	Token    string                `json:"token"`
	Context  domain.RequestContext `json:"context"`
}

// CreateSession opens an active session scored from the device and login context.
func (r *SessionRegistry) CreateSession(ctx context.Context, in CreateSessionInput) (*domain.Session, error) {
	if err := domain.ValidateToken(in.Token); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if err := domain.ValidateID("user_id", in.UserID); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if err := domain.ValidateID("device_id", in.DeviceID); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if err := in.Context.Validate(); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	db := r.repos.Tx.DB()
	device, err := r.repos.Devices.FindByID(ctx, db, in.DeviceID)
	if err != nil {
		return nil, domain.ErrInternal("find device", err)
	}
	if device == nil {
		return nil, domain.ErrNotFound("device", in.DeviceID.String())
	}
	if device.UserID != uuid.Nil && device.UserID != in.UserID {
		return nil, domain.ErrValidation("device does not belong to user")
	}

	now := r.clock.Now()
	failures := r.lockout.RecentFailures(ctx, in.UserID, now)
	score := r.policy.InitialSecurityScore(policy.InitialScoreInput{
		Device:             device,
		Context:            in.Context,
		RecentFailedLogins: failures,
		Now:                now,
	})

	ua := policy.ClassifyUserAgent(in.Context.UserAgent)
	secCtx := in.Context.SecurityKeys()
	secCtx["device_trusted"] = device.IsTrusted
	secCtx["browser"] = ua.Browser
	secCtx["os"] = ua.OS
	secCtx["device_type"] = ua.DeviceType
	if len(score.Flags) > 0 {
		secCtx["risk_flags"] = score.Flags
	}

	sess := &domain.Session{
		ID:              uuid.New(),
		UserID:          in.UserID,
		DeviceID:        in.DeviceID,
		TokenHash:       domain.HashToken(in.Token),
		Fingerprint:     policy.Fingerprint(in.Context),
		IPAddress:       in.Context.IP,
		UserAgent:       in.Context.UserAgent,
		StartedAt:       now,
		LastActivityAt:  now,
		ExpiresAt:       now.Add(r.cfg.SessionLifetime),
		SecurityScore:   score.Score,
		Status:          domain.SessionActive,
		SecurityContext: secCtx,
	}

	err = r.repos.Tx.InTx(ctx, func(tx repository.DBTX) error {
		if err := r.repos.Sessions.Create(ctx, tx, sess); err != nil {
			return err
		}
		if err := r.repos.Outbox.Insert(ctx, tx, domain.NewSessionCreatedEvent(sess)); err != nil {
			return err
		}
		return r.repos.Devices.TouchActivity(ctx, tx, sess.DeviceID, sess.IPAddress, now)
	})
	if err != nil {
		return nil, asAppError("create session", err)
	}

	r.metrics.SessionCreated()
	r.logger.Info("session created",
		"session_id", sess.ID,
		"user_id", sess.UserID,
		"device_id", sess.DeviceID,
		"security_score", sess.SecurityScore,
		"trust_level", policy.TrustLevel(sess.SecurityScore),
	)

	if verdict := guard.Evaluate(failures); !verdict.Allowed {
		sessionID := sess.ID
		_, err := r.emitter.Raise(ctx, AlertInput{
			UserID:      sess.UserID,
			SessionID:   &sessionID,
			Type:        domain.AlertFailedLogin,
			Severity:    domain.SeverityHigh,
			Title:       "Login after repeated failures",
			Description: verdict.Reason,
			Evidence:    map[string]any{"recent_failed_logins": failures, "fingerprint": sess.Fingerprint},
			SourceIP:    sess.IPAddress,
			RiskScore:   100 - sess.SecurityScore,
		})
		if err != nil {
			r.logger.Error("raise failed login alert", "session_id", sess.ID, "error", err)
		}
	}
	return sess, nil
}

// Get returns a session by ID.
func (r *SessionRegistry) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	sess, err := r.repos.Sessions.FindByID(ctx, r.repos.Tx.DB(), id)
	if err != nil {
		return nil, domain.ErrInternal("find session", err)
	}
	if sess == nil {
		return nil, domain.ErrNotFound("session", id.String())
	}
	return sess, nil
}

// UpdateActivity refreshes last activity, merges context keys and touches the
// device. An IP change flags the session before the new IP is stored.
func (r *SessionRegistry) UpdateActivity(ctx context.Context, id uuid.UUID, rc domain.RequestContext) (*domain.Session, error) {
	if err := rc.Validate(); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	var (
		updated *domain.Session
		alerts  []domain.SecurityAlert
	)
	err := retryOnConflict(ctx, r.cfg.RetryBackoff, r.metrics, func() error {
		sess, err := r.loadActive(ctx, id, "update activity")
		if err != nil {
			return err
		}
		now := r.clock.Now()
		var raised []domain.SecurityAlert
		if rc.IP != "" && sess.IPAddress != "" && rc.IP != sess.IPAddress {
			raised = r.detector.Evaluate(sess, ReasonIPChanged, map[string]any{
				"old_ip": sess.IPAddress,
				"new_ip": rc.IP,
			}, now)
		}
		if rc.IP != "" {
			sess.IPAddress = rc.IP
		}
		if rc.UserAgent != "" {
			sess.UserAgent = rc.UserAgent
		}
		sess.LastActivityAt = now
		sess.SecurityContext = sess.SecurityContext.Merge(rc.SecurityKeys())

		err = commitSession(ctx, r.repos, r.emitter, sessionCommit{
			session: sess,
			prev:    domain.SessionActive,
			alerts:  raised,
			touch:   &deviceTouch{deviceID: sess.DeviceID, ip: rc.IP},
			at:      now,
		})
		if err != nil {
			return err
		}
		updated, alerts = sess, raised
		return nil
	})
	if err != nil {
		return nil, asAppError("update activity", err)
	}

	if len(alerts) > 0 {
		r.logger.Warn("session ip changed", "session_id", updated.ID, "ip", updated.IPAddress, "security_score", updated.SecurityScore)
	}
	r.detector.afterCommit(updated, domain.SessionActive, alerts)
	return updated, nil
}

// Extend pushes the deadline of an active session forward by hours, or by the
// configured lifetime when hours is nil.
func (r *SessionRegistry) Extend(ctx context.Context, id uuid.UUID, hours *int) (*domain.Session, error) {
	ext := r.cfg.SessionLifetime
	if hours != nil {
		if err := domain.ValidateExtension(*hours); err != nil {
			return nil, domain.ErrValidation(err.Error())
		}
		ext = time.Duration(*hours) * time.Hour
	}

	var extended *domain.Session
	err := retryOnConflict(ctx, r.cfg.RetryBackoff, r.metrics, func() error {
		sess, err := r.loadActive(ctx, id, "extend")
		if err != nil {
			return err
		}
		sess.ExpiresAt = sess.ExpiresAt.Add(ext)
		if err := commitSession(ctx, r.repos, r.emitter, sessionCommit{session: sess, prev: domain.SessionActive, at: r.clock.Now()}); err != nil {
			return err
		}
		extended = sess
		return nil
	})
	if err != nil {
		return nil, asAppError("extend session", err)
	}
	r.logger.Info("session extended", "session_id", extended.ID, "expires_at", extended.ExpiresAt)
	return extended, nil
}

// Terminate ends an active session. A logout also appends a logout activity in
// the same transaction. Terminating a session that is no longer active fails
// with INVALID_STATE_TRANSITION and changes nothing.
func (r *SessionRegistry) Terminate(ctx context.Context, id uuid.UUID, reason string, actor *uuid.UUID) (*domain.Session, error) {
	if err := domain.ValidateReason(reason); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	var (
		terminated *domain.Session
		logged     *domain.Activity
	)
	err := retryOnConflict(ctx, r.cfg.RetryBackoff, r.metrics, func() error {
		sess, err := r.loadActive(ctx, id, "terminate")
		if err != nil {
			return err
		}
		now := r.clock.Now()
		var logout *domain.Activity
		if reason == domain.ReasonLogout {
			logout = r.logoutActivity(sess, now)
		}
		if err := sess.Transition(domain.SessionTerminated, now, reason, actor); err != nil {
			return err
		}
		err = commitSession(ctx, r.repos, r.emitter, sessionCommit{
			session:  sess,
			prev:     domain.SessionActive,
			activity: logout,
			at:       now,
		})
		if err != nil {
			return err
		}
		terminated, logged = sess, logout
		return nil
	})
	if err != nil {
		return nil, asAppError("terminate session", err)
	}
	if logged != nil {
		r.metrics.ActivityRecorded(string(logged.Type), logged.RiskScore, logged.IsSuspicious)
	}

	r.metrics.SessionClosed(string(domain.SessionTerminated))
	r.logger.Info("session terminated", "session_id", terminated.ID, "user_id", terminated.UserID, "reason", reason)
	return terminated, nil
}

// logoutActivity is the activity row a user-initiated logout leaves behind,
// scored against the session before it closes.
func (r *SessionRegistry) logoutActivity(sess *domain.Session, now time.Time) *domain.Activity {
	risk := r.policy.ActivityRiskScore(policy.ActivityRiskInput{
		Type:    domain.ActivityLogout,
		Session: sess,
		Now:     now,
	})
	return &domain.Activity{
		ID:           ids.NewActivityID(now),
		SessionID:    sess.ID,
		UserID:       sess.UserID,
		Type:         domain.ActivityLogout,
		Description:  "User logged out",
		IPAddress:    sess.IPAddress,
		UserAgent:    sess.UserAgent,
		RiskScore:    risk.Score,
		RiskFactors:  risk.Flags,
		IsSuspicious: risk.Suspicious,
		CreatedAt:    now,
	}
}

// TerminateAllForUser ends every active session of a user and returns how many it ended.
// Sessions that close concurrently are skipped.
func (r *SessionRegistry) TerminateAllForUser(ctx context.Context, userID uuid.UUID, reason string, actor *uuid.UUID) (int, error) {
	if err := domain.ValidateID("user_id", userID); err != nil {
		return 0, domain.ErrValidation(err.Error())
	}
	if err := domain.ValidateReason(reason); err != nil {
		return 0, domain.ErrValidation(err.Error())
	}
	sessions, err := r.repos.Sessions.ListByUser(ctx, r.repos.Tx.DB(), userID, domain.SessionActive)
	if err != nil {
		return 0, domain.ErrInternal("list user sessions", err)
	}

	count := 0
	for _, s := range sessions {
		_, err := r.Terminate(ctx, s.ID, reason, actor)
		switch {
		case err == nil:
			count++
		case domain.IsInvalidTransition(err) || domain.IsNotFound(err):
			continue
		default:
			return count, err
		}
	}
	return count, nil
}

// IsActive reports whether s is active and within both deadlines right now.
func (r *SessionRegistry) IsActive(s *domain.Session) bool {
	return s.IsActive(r.clock.Now(), r.cfg.InactivityTimeout)
}

// IsExpired reports whether s passed its deadline or inactivity window.
func (r *SessionRegistry) IsExpired(s *domain.Session) bool {
	return s.IsExpired(r.clock.Now(), r.cfg.InactivityTimeout)
}

// IsHijacked reports whether s is hijacked or scores below the hijack threshold.
func (r *SessionRegistry) IsHijacked(s *domain.Session) bool {
	return s.IsHijacked(r.policy.HijackThreshold)
}

// CleanupExpired expires every active session past a deadline and returns how
// many rows it transitioned. Candidates are read in batches until a short batch
// comes back. Rows that changed state concurrently or failed to update are
// skipped, and a batch that moves nothing ends the sweep.
func (r *SessionRegistry) CleanupExpired(ctx context.Context) (int, error) {
	now := r.clock.Now()
	idleCutoff := now.Add(-r.cfg.InactivityTimeout)
	batchSize := r.cfg.SweepBatchSize
	if batchSize <= 0 {
		batchSize = DefaultRegistryConfig().SweepBatchSize
	}

	count := 0
	for {
		candidates, err := r.repos.Sessions.ListExpirable(ctx, r.repos.Tx.DB(), now, idleCutoff, batchSize)
		if err != nil {
			r.reportSwept(count)
			return count, domain.ErrInternal("list expirable sessions", err)
		}

		moved := 0
		for i := range candidates {
			ok, err := r.expire(ctx, &candidates[i], now)
			if err != nil {
				r.logger.Error("expire session failed", "session_id", candidates[i].ID, "error", err)
				continue
			}
			if ok {
				moved++
			}
		}
		count += moved

		if len(candidates) < batchSize || moved == 0 || ctx.Err() != nil {
			break
		}
	}
	r.reportSwept(count)
	return count, nil
}

func (r *SessionRegistry) reportSwept(count int) {
	if count > 0 {
		r.metrics.SessionsSwept(count)
		r.logger.Info("expired sessions cleaned up", "count", count)
	}
}

// SessionCheck is the security verdict for a presented token.
type SessionCheck struct {
	Status           string     `json:"status"`
	SessionID        *uuid.UUID `json:"session_id,omitempty"`
	SecurityScore    *int       `json:"security_score,omitempty"`
	TrustLevel       string     `json:"trust_level,omitempty"`
	ExpiresInMinutes *int       `json:"expires_in_minutes,omitempty"`
}

// Check statuses.
const (
	CheckInvalid  = "invalid_session"
	CheckExpired  = "expired_session"
	CheckHijacked = "hijacked_session"
	CheckHealthy  = "healthy"
)

// CheckSession classifies the session owning token. Sessions found past a
// deadline are expired on the spot.
func (r *SessionRegistry) CheckSession(ctx context.Context, token string) (*SessionCheck, error) {
	if err := domain.ValidateToken(token); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	sess, err := r.repos.Sessions.FindByTokenHash(ctx, r.repos.Tx.DB(), domain.HashToken(token))
	if err != nil {
		return nil, domain.ErrInternal("find session", err)
	}
	if sess == nil {
		return &SessionCheck{Status: CheckInvalid}, nil
	}

	id := sess.ID
	check := &SessionCheck{SessionID: &id}
	now := r.clock.Now()
	switch {
	case sess.Status == domain.SessionHijacked:
		check.Status = CheckHijacked
	case sess.Status == domain.SessionActive && sess.IsExpired(now, r.cfg.InactivityTimeout):
		if _, err := r.expire(ctx, sess, now); err != nil {
			return nil, asAppError("expire session", err)
		}
		check.Status = CheckExpired
	case sess.Status != domain.SessionActive:
		check.Status = CheckExpired
	case r.IsHijacked(sess):
		check.Status = CheckHijacked
	default:
		score := sess.SecurityScore
		minutes := int(sess.ExpiresAt.Sub(now).Minutes())
		check.Status = CheckHealthy
		check.SecurityScore = &score
		check.TrustLevel = policy.TrustLevel(score)
		check.ExpiresInMinutes = &minutes
	}
	return check, nil
}

// loadActive returns the session if it may still be mutated. A session found
// past a deadline is expired first.
func (r *SessionRegistry) loadActive(ctx context.Context, id uuid.UUID, action string) (*domain.Session, error) {
	sess, err := r.repos.Sessions.FindByID(ctx, r.repos.Tx.DB(), id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, domain.ErrNotFound("session", id.String())
	}
	if sess.Status != domain.SessionActive {
		return nil, domain.ErrInvalidTransition(sess.Status, action)
	}
	now := r.clock.Now()
	if sess.IsExpired(now, r.cfg.InactivityTimeout) {
		if _, err := r.expire(ctx, sess, now); err != nil {
			return nil, err
		}
		return nil, domain.ErrInvalidTransition(domain.SessionExpired, action)
	}
	return sess, nil
}

// expire runs the conditional active-to-expired update and records the event.
// It reports false when another writer moved the row first.
func (r *SessionRegistry) expire(ctx context.Context, sess *domain.Session, now time.Time) (bool, error) {
	var expired bool
	err := r.repos.Tx.InTx(ctx, func(tx repository.DBTX) error {
		ok, err := r.repos.Sessions.ExpireIfStale(ctx, tx, sess.ID, now, now.Add(-r.cfg.InactivityTimeout))
		if err != nil || !ok {
			return err
		}
		closed := sess.Clone()
		closed.Status = domain.SessionExpired
		closed.TerminatedAt = &now
		closed.TerminationReason = domain.ReasonTimeout
		closed.TerminatedBy = nil
		if err := r.repos.Outbox.Insert(ctx, tx, domain.NewSessionClosedEvent(closed, now)); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired {
		r.metrics.SessionClosed(string(domain.SessionExpired))
	}
	return expired, nil
}
