package service

import (
	"testing"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusCode(v int) *int { return &v }

func TestRecordActivity_Heartbeat(t *testing.T) {
	f := newFixture(t)
	sess := f.openSession(t)
	f.clock.Advance(2 * time.Minute)

	activity, err := f.recorder.RecordActivity(t.Context(), sess.ID, "heartbeat", domain.RequestContext{IP: "10.0.0.1"})
	require.NoError(t, err)

	assert.Len(t, activity.ID, 26)
	assert.Equal(t, domain.ActivityHeartbeat, activity.Type)
	assert.Equal(t, sess.UserID, activity.UserID)
	assert.Zero(t, activity.RiskScore)
	assert.False(t, activity.IsSuspicious)
	assert.Equal(t, baseTime.Add(2*time.Minute), activity.CreatedAt)

	assert.Len(t, f.store.Activities(), 1)
	assert.Equal(t, baseTime.Add(2*time.Minute), f.store.Session(sess.ID).LastActivityAt)
	assert.Empty(t, f.store.Alerts())
}

func TestRecordActivity_UnknownTypeUsesDefaultRisk(t *testing.T) {
	f := newFixture(t)
	sess := f.openSession(t)

	activity, err := f.recorder.RecordActivity(t.Context(), sess.ID, "teleport", domain.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.ActivityUnknown, activity.Type)
	assert.Equal(t, 10, activity.RiskScore)
}

func TestRecordActivity_Rejects(t *testing.T) {
	f := newFixture(t)
	sess := f.openSession(t)

	t.Run("empty type", func(t *testing.T) {
		_, err := f.recorder.RecordActivity(t.Context(), sess.ID, "", domain.RequestContext{})
		assert.True(t, domain.HasCode(err, domain.CodeValidation))
	})

	t.Run("bad status", func(t *testing.T) {
		_, err := f.recorder.RecordActivity(t.Context(), sess.ID, "api_call", domain.RequestContext{Status: statusCode(42)})
		assert.True(t, domain.HasCode(err, domain.CodeValidation))
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := f.recorder.RecordActivity(t.Context(), uuid.New(), "api_call", domain.RequestContext{})
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("terminated session", func(t *testing.T) {
		_, err := f.registry.Terminate(t.Context(), sess.ID, domain.ReasonAdminAction, nil)
		require.NoError(t, err)
		_, err = f.recorder.RecordActivity(t.Context(), sess.ID, "api_call", domain.RequestContext{})
		assert.True(t, domain.IsInvalidTransition(err))
	})

	assert.Empty(t, f.store.Activities())
}

func TestRecordActivity_ExpiresStaleSessionFirst(t *testing.T) {
	f := newFixture(t)
	sess := f.openSession(t)
	f.clock.Advance(8*time.Hour + time.Minute)

	_, err := f.recorder.RecordActivity(t.Context(), sess.ID, "page_view", domain.RequestContext{})
	assert.True(t, domain.IsInvalidTransition(err))
	assert.Equal(t, domain.SessionExpired, f.store.Session(sess.ID).Status)
	assert.Empty(t, f.store.Activities())
}

func TestRecordActivity_FloodingAtFiftyFirst(t *testing.T) {
	f := newFixture(t)
	sess := f.openSession(t)

	for i := range 50 {
		a, err := f.recorder.RecordActivity(t.Context(), sess.ID, "api_call", domain.RequestContext{})
		require.NoError(t, err)
		require.Equal(t, 5, a.RiskScore, "activity %d", i+1)
	}

	a, err := f.recorder.RecordActivity(t.Context(), sess.ID, "api_call", domain.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, 35, a.RiskScore)
	assert.Contains(t, a.RiskFactors, "flooding")
	assert.False(t, a.IsSuspicious)

	// Outside the window the count starts over.
	f.clock.Advance(6 * time.Minute)
	a, err = f.recorder.RecordActivity(t.Context(), sess.ID, "api_call", domain.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, 5, a.RiskScore)
}

func TestRecordActivity_IDsFollowCreationOrder(t *testing.T) {
	f := newFixture(t)
	sess := f.openSession(t)

	var recorded []string
	for range 5 {
		a, err := f.recorder.RecordActivity(t.Context(), sess.ID, "page_view", domain.RequestContext{})
		require.NoError(t, err)
		recorded = append(recorded, a.ID)
	}

	listed, err := f.repos.Activities.ListBySession(t.Context(), nil, sess.ID)
	require.NoError(t, err)
	require.Len(t, listed, 5)
	for i, a := range listed {
		assert.Equal(t, recorded[i], a.ID)
	}
}

func TestRecordActivity_SuspiciousFlagsSession(t *testing.T) {
	f := newFixture(t)
	sess := f.openSession(t)

	activity, err := f.recorder.RecordActivity(t.Context(), sess.ID, "security_event", domain.RequestContext{
		IP:       "10.0.0.1",
		Endpoint: "/api/admin/users",
		Method:   "DELETE",
		Status:   statusCode(403),
		Snapshot: map[string]any{"id": 7},
	})
	require.NoError(t, err)
	assert.Equal(t, 90, activity.RiskScore)
	assert.True(t, activity.IsSuspicious)
	assert.Equal(t, []string{"error_status", "auth_failure"}, activity.RiskFactors)
	assert.JSONEq(t, `{"id":7}`, string(activity.RequestSnapshot))

	stored := f.store.Session(sess.ID)
	assert.Equal(t, 80, stored.SecurityScore)
	assert.True(t, stored.IsSuspicious)
	assert.Equal(t, domain.SessionActive, stored.Status)

	alerts := f.store.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertSuspiciousActivity, alerts[0].Type)
	assert.Contains(t, string(alerts[0].Evidence), `"reason":"high_risk_activity"`)
	assert.Contains(t, string(alerts[0].Evidence), activity.ID)
}

func TestRecordActivity_IPChangeAndHighRisk(t *testing.T) {
	f := newFixture(t)
	sess := f.openSession(t)

	activity, err := f.recorder.RecordActivity(t.Context(), sess.ID, "security_event", domain.RequestContext{IP: "10.0.0.7"})
	require.NoError(t, err)
	assert.Equal(t, 70, activity.RiskScore)
	assert.Contains(t, activity.RiskFactors, "ip_mismatch")

	stored := f.store.Session(sess.ID)
	assert.Equal(t, 60, stored.SecurityScore)
	assert.Equal(t, "10.0.0.7", stored.IPAddress)
	assert.Equal(t, domain.SessionActive, stored.Status)
	assert.Len(t, alertsOfType(f.store.Alerts(), domain.AlertSuspiciousActivity), 2)
}
