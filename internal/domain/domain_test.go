package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Validator Tests ---

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
		errMsg  string
	}{
		{"valid", "tok_abc123", false, ""},
		{"empty", "", true, "token is required"},
		{"whitespace", "   ", true, "token is required"},
		{"too long", strings.Repeat("a", 513), true, "exceeds 512"},
		{"max length", strings.Repeat("a", 512), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateToken(tt.token)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	require.NoError(t, ValidateID("user_id", uuid.New()))
	err := ValidateID("user_id", uuid.Nil)
	require.Error(t, err)
	assert.Equal(t, "user_id is required", err.Error())
}

func TestValidateReason(t *testing.T) {
	tests := []struct {
		reason  string
		wantErr bool
	}{
		{"logout", false},
		{"admin_action", false},
		{"ip_address_changed", false},
		{"", true},
		{"x", true},
		{"Logout", true},
		{"1st_reason", true},
		{"has space", true},
		{strings.Repeat("a", 65), true},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			if tt.wantErr {
				assert.Error(t, ValidateReason(tt.reason))
			} else {
				assert.NoError(t, ValidateReason(tt.reason))
			}
		})
	}
}

func TestValidateExtension(t *testing.T) {
	assert.NoError(t, ValidateExtension(1))
	assert.NoError(t, ValidateExtension(72))
	assert.Error(t, ValidateExtension(0))
	assert.Error(t, ValidateExtension(-3))
	assert.Error(t, ValidateExtension(73))
}

func TestValidateWindowDays(t *testing.T) {
	assert.NoError(t, ValidateWindowDays(7))
	assert.NoError(t, ValidateWindowDays(365))
	assert.Error(t, ValidateWindowDays(0))
	assert.Error(t, ValidateWindowDays(366))
}

func TestRequestContext_Validate(t *testing.T) {
	status := func(v int) *int { return &v }
	tests := []struct {
		name    string
		ctx     RequestContext
		wantErr string
	}{
		{"empty", RequestContext{}, ""},
		{"ipv4", RequestContext{IP: "192.168.1.10"}, ""},
		{"ipv6", RequestContext{IP: "2001:db8::1"}, ""},
		{"bad ip", RequestContext{IP: "999.1.1.1"}, "invalid ip address"},
		{"status too low", RequestContext{Status: status(42)}, "valid HTTP status"},
		{"status ok", RequestContext{Status: status(204)}, ""},
		{"negative response time", RequestContext{ResponseTimeMs: status(-1)}, "must not be negative"},
		{"long country", RequestContext{Country: "AZE"}, "alpha-2"},
		{"long user agent", RequestContext{UserAgent: strings.Repeat("x", 1025)}, "user_agent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ctx.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRequestContext_SecurityKeys(t *testing.T) {
	twoFA := true
	keys := RequestContext{
		Country:       "AZ",
		City:          "Baku",
		LoginMethod:   "password",
		TwoFactorUsed: &twoFA,
		IP:            "10.0.0.1",
	}.SecurityKeys()

	assert.Equal(t, SecurityContext{
		"country":         "AZ",
		"city":            "Baku",
		"login_method":    "password",
		"two_factor_used": true,
	}, keys)
}

func TestSecurityContext_Merge(t *testing.T) {
	var empty SecurityContext
	merged := empty.Merge(SecurityContext{"country": "AZ"})
	assert.Equal(t, "AZ", merged["country"])

	base := SecurityContext{"country": "AZ", "city": "Baku"}
	base = base.Merge(SecurityContext{"country": "TR"})
	assert.Equal(t, SecurityContext{"country": "TR", "city": "Baku"}, base)
}

// --- Session Tests ---

func newTestSession(now time.Time) *Session {
	return &Session{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		DeviceID:       uuid.New(),
		StartedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(8 * time.Hour),
		SecurityScore:  80,
		Status:         SessionActive,
	}
}

func TestSessionStatus_CanTransitionTo(t *testing.T) {
	all := []SessionStatus{SessionActive, SessionExpired, SessionTerminated, SessionHijacked}
	for _, from := range all {
		for _, to := range all {
			want := from == SessionActive && to != SessionActive
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.False(t, SessionActive.CanTransitionTo("paused"))
}

func TestSession_Transition(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	admin := uuid.New()

	s := newTestSession(now)
	require.NoError(t, s.Transition(SessionTerminated, now, ReasonAdminAction, &admin))
	assert.Equal(t, SessionTerminated, s.Status)
	assert.Equal(t, ReasonAdminAction, s.TerminationReason)
	require.NotNil(t, s.TerminatedAt)
	assert.True(t, s.TerminatedAt.Equal(now))
	assert.Equal(t, admin, *s.TerminatedBy)

	err := s.Transition(SessionExpired, now, ReasonTimeout, nil)
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))
	assert.Equal(t, SessionTerminated, s.Status)
	assert.Equal(t, ReasonAdminAction, s.TerminationReason)
}

func TestSession_IsExpired(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	inactivity := 30 * time.Minute

	s := newTestSession(now)
	assert.False(t, s.IsExpired(now.Add(29*time.Minute), inactivity))
	assert.False(t, s.IsExpired(now.Add(30*time.Minute), inactivity))
	assert.True(t, s.IsExpired(now.Add(31*time.Minute), inactivity))

	s.LastActivityAt = now.Add(8*time.Hour - time.Minute)
	assert.True(t, s.IsExpired(now.Add(8*time.Hour), inactivity), "absolute deadline reached")
	assert.False(t, s.IsExpired(now.Add(8*time.Hour-time.Second), inactivity))
}

func TestSession_IsActive(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := newTestSession(now)
	assert.True(t, s.IsActive(now, 30*time.Minute))
	assert.False(t, s.IsActive(now.Add(time.Hour), 30*time.Minute))

	s.Status = SessionTerminated
	assert.False(t, s.IsActive(now, 30*time.Minute))
}

func TestSession_IsHijacked(t *testing.T) {
	s := newTestSession(time.Now())
	assert.False(t, s.IsHijacked(50))
	s.SecurityScore = 49
	assert.True(t, s.IsHijacked(50))
	s.SecurityScore = 90
	s.Status = SessionHijacked
	assert.True(t, s.IsHijacked(50))
}

func TestSession_AdjustScoreClamps(t *testing.T) {
	s := newTestSession(time.Now())
	s.AdjustScore(-20)
	assert.Equal(t, 60, s.SecurityScore)
	s.AdjustScore(-500)
	assert.Equal(t, 0, s.SecurityScore)
	s.AdjustScore(500)
	assert.Equal(t, 100, s.SecurityScore)
}

func TestSession_CloneDoesNotAlias(t *testing.T) {
	now := time.Now()
	s := newTestSession(now)
	s.SecurityContext = SecurityContext{"country": "AZ"}
	s.TerminatedAt = &now

	c := s.Clone()
	c.SecurityContext["country"] = "TR"
	*c.TerminatedAt = now.Add(time.Hour)

	assert.Equal(t, "AZ", s.SecurityContext["country"])
	assert.True(t, s.TerminatedAt.Equal(now))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, ClampScore(-5))
	assert.Equal(t, 42, ClampScore(42))
	assert.Equal(t, 100, ClampScore(150))
}

func TestHashToken(t *testing.T) {
	h := HashToken("secret-token")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashToken("secret-token"))
	assert.NotEqual(t, h, HashToken("other-token"))
	assert.NotContains(t, h, "secret")
}

func TestSessionJSONHidesTokenAndVersion(t *testing.T) {
	s := newTestSession(time.Now())
	s.TokenHash = "abc"
	s.Version = 7
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "abc")
	assert.NotContains(t, string(data), "version")
}

// --- Activity Tests ---

func TestParseActivityType(t *testing.T) {
	for _, typ := range AllActivityTypes() {
		assert.Equal(t, typ, ParseActivityType(string(typ)))
	}
	assert.Equal(t, ActivityUnknown, ParseActivityType("file_share"))
	assert.Equal(t, ActivityUnknown, ParseActivityType(""))
	assert.NotContains(t, AllActivityTypes(), ActivityUnknown)
}

// --- Error Tests ---

func TestAppError(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		code   string
		status int
	}{
		{"not found", ErrNotFound("session", "abc"), CodeNotFound, 404},
		{"validation", ErrValidation("bad"), CodeValidation, 400},
		{"transition", ErrInvalidTransition(SessionExpired, "extend"), CodeInvalidState, 409},
		{"conflict", ErrConcurrencyConflict("abc"), CodeConcurrency, 409},
		{"unauthorized", ErrUnauthorized("no token"), CodeUnauthorized, 401},
		{"forbidden", ErrForbidden("no"), CodeForbidden, 403},
		{"rate limited", ErrRateLimited("slow down"), CodeRateLimited, 429},
		{"internal", ErrInternal("boom", errors.New("db down")), CodeInternal, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.True(t, HasCode(tt.err, tt.code))
		})
	}
}

func TestAppError_MessagesAndUnwrap(t *testing.T) {
	assert.Equal(t, "NOT_FOUND: session abc not found", ErrNotFound("session", "abc").Error())
	assert.Equal(t, "INVALID_STATE_TRANSITION: cannot extend: session is expired",
		ErrInvalidTransition(SessionExpired, "extend").Error())

	cause := errors.New("connection refused")
	err := ErrInternal("query failed", cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestErrorPredicatesSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("update activity: %w", ErrConcurrencyConflict("abc"))
	assert.True(t, IsConcurrencyConflict(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.False(t, IsInvalidTransition(errors.New("plain")))
}

// --- Event Tests ---

func TestNewSessionCreatedEvent(t *testing.T) {
	s := newTestSession(time.Now().UTC())
	evt := NewSessionCreatedEvent(s)

	assert.Equal(t, EventSessionCreated, evt.EventType)
	assert.Equal(t, AggregateSession, evt.AggregateType)
	assert.Equal(t, s.ID.String(), evt.AggregateID)
	assert.Equal(t, s.UserID.String(), evt.PartitionKey)
	assert.Equal(t, "atis.security.session.created", evt.Topic())

	var body map[string]any
	require.NoError(t, json.Unmarshal(evt.Payload, &body))
	assert.Equal(t, float64(80), body["security_score"])
}

func TestNewSessionClosedEvent_TypeFollowsStatus(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		status SessionStatus
		want   EventType
	}{
		{SessionTerminated, EventSessionTerminated},
		{SessionExpired, EventSessionExpired},
		{SessionHijacked, EventSessionHijacked},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			s := newTestSession(now)
			require.NoError(t, s.Transition(tt.status, now, "some_reason", nil))
			evt := NewSessionClosedEvent(s, now)
			assert.Equal(t, tt.want, evt.EventType)

			var body map[string]any
			require.NoError(t, json.Unmarshal(evt.Payload, &body))
			assert.Equal(t, "some_reason", body["reason"])
			assert.NotContains(t, body, "terminated_by")
		})
	}
}

func TestNewAlertRaisedEvent(t *testing.T) {
	a := &SecurityAlert{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		Type:       AlertSessionHijacking,
		Severity:   SeverityHigh,
		Evidence:   json.RawMessage(`{"score":10}`),
		DetectedAt: time.Now().UTC(),
		Status:     AlertStatusOpen,
	}
	evt := NewAlertRaisedEvent(a)
	assert.Equal(t, EventAlertRaised, evt.EventType)
	assert.Equal(t, AggregateAlert, evt.AggregateType)
	assert.Equal(t, a.UserID.String(), evt.PartitionKey)

	var decoded SecurityAlert
	require.NoError(t, json.Unmarshal(evt.Payload, &decoded))
	assert.Equal(t, a.ID, decoded.ID)
	assert.Equal(t, SeverityHigh, decoded.Severity)
}

func TestDevice_Age(t *testing.T) {
	now := time.Now()
	d := &Device{RegisteredAt: now.Add(-36 * time.Hour)}
	assert.Equal(t, 36*time.Hour, d.Age(now))
}
