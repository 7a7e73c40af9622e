package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/guard"
	"github.com/atis/platform/internal/policy"
	"github.com/atis/platform/internal/projection"
	"github.com/google/uuid"
)

// SessionStats summarizes the activity recorded for one session.
type SessionStats struct {
	SessionID        uuid.UUID                   `json:"session_id"`
	Status           domain.SessionStatus        `json:"status"`
	DurationMinutes  int                         `json:"duration_minutes"`
	TotalActivities  int                         `json:"total_activities"`
	ActivityCounts   map[domain.ActivityType]int `json:"activity_counts"`
	SuspiciousCount  int                         `json:"suspicious_count"`
	AverageRiskScore float64                     `json:"avg_risk_score"`
	SecurityScore    int                         `json:"security_score"`
	TrustLevel       string                      `json:"trust_level"`
}

// RiskDistribution counts activities per risk bucket.
type RiskDistribution struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// ActivityPatterns describes a user's behavior over a look-back window.
type ActivityPatterns struct {
	UserID           uuid.UUID                   `json:"user_id"`
	Days             int                         `json:"days"`
	TotalActivities  int                         `json:"total_activities"`
	DailyAverage     float64                     `json:"daily_average"`
	MostActiveHour   *int                        `json:"most_active_hour"`
	ActivityByType   map[domain.ActivityType]int `json:"activity_by_type"`
	RiskDistribution RiskDistribution            `json:"risk_distribution"`
	SuspiciousRate   float64                     `json:"suspicious_rate"`
}

// deviceActiveWindow is how recently a device must have been seen to count as active.
const deviceActiveWindow = 30 * 24 * time.Hour

// SecurityOverview is the per-user security dashboard.
type SecurityOverview struct {
	UserID  uuid.UUID `json:"user_id"`
	Devices struct {
		Total   int `json:"total"`
		Active  int `json:"active"`
		Trusted int `json:"trusted"`
		Online  int `json:"online"`
	} `json:"devices"`
	Sessions struct {
		Total      int `json:"total"`
		Active     int `json:"active"`
		Suspicious int `json:"suspicious"`
	} `json:"sessions"`
	Security struct {
		OpenAlerts     int  `json:"open_alerts"`
		FailedAttempts int  `json:"failed_attempts"`
		LockedOut      bool `json:"locked_out"`
	} `json:"security"`
	Activity struct {
		Today    int `json:"today"`
		ThisWeek int `json:"this_week"`
	} `json:"activity"`
}

// Statistics builds read-only reports over sessions, activities and alerts.
type Statistics struct {
	repos    Repositories
	registry *SessionRegistry
	cache    projection.Store
	clock    Clock
	logger   *slog.Logger
}

// NewStatistics creates a Statistics reader. cache may be nil.
func NewStatistics(repos Repositories, registry *SessionRegistry, cache projection.Store, clock Clock, logger *slog.Logger) *Statistics {
	return &Statistics{repos: repos, registry: registry, cache: cache, clock: clock, logger: logger}
}

// SessionStatistics reports activity totals for one session.
func (s *Statistics) SessionStatistics(ctx context.Context, sessionID uuid.UUID) (*SessionStats, error) {
	sess, err := s.registry.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	activities, err := s.repos.Activities.ListBySession(ctx, s.repos.Tx.DB(), sessionID)
	if err != nil {
		return nil, domain.ErrInternal("list session activities", err)
	}

	end := sess.LastActivityAt
	if sess.TerminatedAt != nil {
		end = *sess.TerminatedAt
	}
	stats := &SessionStats{
		SessionID:       sess.ID,
		Status:          sess.Status,
		DurationMinutes: int(end.Sub(sess.StartedAt).Minutes()),
		TotalActivities: len(activities),
		ActivityCounts:  map[domain.ActivityType]int{},
		SecurityScore:   sess.SecurityScore,
		TrustLevel:      policy.TrustLevel(sess.SecurityScore),
	}
	riskSum := 0
	for _, a := range activities {
		stats.ActivityCounts[a.Type]++
		riskSum += a.RiskScore
		if a.IsSuspicious {
			stats.SuspiciousCount++
		}
	}
	if len(activities) > 0 {
		stats.AverageRiskScore = round2(float64(riskSum) / float64(len(activities)))
	}
	return stats, nil
}

// UserActivityPatterns reports a user's activity over the trailing days. Reports
// are cached for projection.PatternsTTL.
func (s *Statistics) UserActivityPatterns(ctx context.Context, userID uuid.UUID, days int) (*ActivityPatterns, error) {
	if err := domain.ValidateID("user_id", userID); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if err := domain.ValidateWindowDays(days); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	if s.cache != nil {
		var cached ActivityPatterns
		err := projection.GetActivityPatterns(ctx, s.cache, userID.String(), days, &cached)
		switch {
		case err == nil:
			return &cached, nil
		case !errors.Is(err, projection.ErrMiss):
			s.logger.Warn("activity patterns cache read failed", "user_id", userID, "error", err)
		}
	}

	now := s.clock.Now()
	since := now.AddDate(0, 0, -days)
	activities, err := s.repos.Activities.ListByUserSince(ctx, s.repos.Tx.DB(), userID, since)
	if err != nil {
		return nil, domain.ErrInternal("list user activities", err)
	}
	report := buildPatterns(userID, days, activities, now.Location())

	if s.cache != nil {
		if err := projection.PutActivityPatterns(ctx, s.cache, userID.String(), days, report); err != nil {
			s.logger.Warn("activity patterns cache write failed", "user_id", userID, "error", err)
		}
	}
	return report, nil
}

// buildPatterns buckets hours in loc. Ties for the most active hour go to the earliest.
func buildPatterns(userID uuid.UUID, days int, activities []domain.Activity, loc *time.Location) *ActivityPatterns {
	report := &ActivityPatterns{
		UserID:          userID,
		Days:            days,
		TotalActivities: len(activities),
		DailyAverage:    round2(float64(len(activities)) / float64(days)),
		ActivityByType:  map[domain.ActivityType]int{},
	}

	var hours [24]int
	suspicious := 0
	for _, a := range activities {
		report.ActivityByType[a.Type]++
		hours[a.CreatedAt.In(loc).Hour()]++
		if a.IsSuspicious {
			suspicious++
		}
		switch policy.ClassifyRisk(a.RiskScore) {
		case policy.RiskHigh:
			report.RiskDistribution.High++
		case policy.RiskMedium:
			report.RiskDistribution.Medium++
		default:
			report.RiskDistribution.Low++
		}
	}
	if len(activities) == 0 {
		return report
	}

	best := 0
	for h := 1; h < len(hours); h++ {
		if hours[h] > hours[best] {
			best = h
		}
	}
	report.MostActiveHour = &best
	report.SuspiciousRate = round2(float64(suspicious) / float64(len(activities)))
	return report
}

// SecurityOverview reports a user's device, session, alert and activity totals.
func (s *Statistics) SecurityOverview(ctx context.Context, userID uuid.UUID) (*SecurityOverview, error) {
	if err := domain.ValidateID("user_id", userID); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	db := s.repos.Tx.DB()
	now := s.clock.Now()

	sessions, err := s.repos.Sessions.ListByUser(ctx, db, userID, "")
	if err != nil {
		return nil, domain.ErrInternal("list user sessions", err)
	}
	out := &SecurityOverview{UserID: userID}
	out.Sessions.Total = len(sessions)
	online := map[uuid.UUID]bool{}
	for i := range sessions {
		if s.registry.IsActive(&sessions[i]) {
			out.Sessions.Active++
			online[sessions[i].DeviceID] = true
		}
		if sessions[i].IsSuspicious {
			out.Sessions.Suspicious++
		}
	}

	devices, err := s.repos.Devices.ListByUser(ctx, db, userID)
	if err != nil {
		return nil, domain.ErrInternal("list user devices", err)
	}
	out.Devices.Total = len(devices)
	for _, d := range devices {
		if d.LastSeenAt != nil && now.Sub(*d.LastSeenAt) <= deviceActiveWindow {
			out.Devices.Active++
		}
		if d.IsTrusted {
			out.Devices.Trusted++
		}
		if online[d.ID] {
			out.Devices.Online++
		}
	}

	if out.Security.OpenAlerts, err = s.repos.Alerts.CountOpenByUser(ctx, db, userID); err != nil {
		return nil, domain.ErrInternal("count open alerts", err)
	}
	if out.Security.FailedAttempts, err = s.repos.Attempts.CountFailuresSince(ctx, db, userID, now.Add(-guard.LockoutWindow)); err != nil {
		return nil, domain.ErrInternal("count failed logins", err)
	}
	out.Security.LockedOut = !guard.Evaluate(out.Security.FailedAttempts).Allowed
	if out.Activity.Today, err = s.repos.Activities.CountByUserSince(ctx, db, userID, startOfDay(now)); err != nil {
		return nil, domain.ErrInternal("count activities today", err)
	}
	if out.Activity.ThisWeek, err = s.repos.Activities.CountByUserSince(ctx, db, userID, startOfWeek(now)); err != nil {
		return nil, domain.ErrInternal("count activities this week", err)
	}
	return out, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// startOfWeek returns Monday 00:00 of t's week.
func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return startOfDay(t).AddDate(0, 0, -offset)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
