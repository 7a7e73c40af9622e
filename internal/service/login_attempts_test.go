package service

import (
	"testing"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLoginAttempt_LocksOnFifthFailure(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	failed := LoginAttemptInput{UserID: userID, IP: "198.51.100.7"}

	for i := range 4 {
		verdict, err := f.registry.RecordLoginAttempt(t.Context(), failed)
		require.NoError(t, err, "attempt %d", i)
		assert.True(t, verdict.Allowed)
		f.clock.Advance(time.Second)
	}
	assert.Empty(t, f.store.Alerts())

	verdict, err := f.registry.RecordLoginAttempt(t.Context(), failed)
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, "lockout", verdict.Guard)

	lockouts := alertsOfType(f.store.Alerts(), domain.AlertAccountLockout)
	require.Len(t, lockouts, 1)
	assert.Equal(t, userID, lockouts[0].UserID)
	assert.Equal(t, domain.SeverityHigh, lockouts[0].Severity)
	assert.Equal(t, "198.51.100.7", lockouts[0].SourceIP)
	assert.Nil(t, lockouts[0].SessionID)
	assert.Len(t, f.publisher.Published(), 1)

	// Further failures while locked do not raise again.
	verdict, err = f.registry.RecordLoginAttempt(t.Context(), failed)
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Len(t, alertsOfType(f.store.Alerts(), domain.AlertAccountLockout), 1)
}

func TestRecordLoginAttempt_WindowSlides(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	for range 5 {
		_, err := f.registry.RecordLoginAttempt(t.Context(), LoginAttemptInput{UserID: userID, IP: "10.0.0.1"})
		require.NoError(t, err)
	}

	f.clock.Advance(16 * time.Minute)
	verdict, err := f.registry.RecordLoginAttempt(t.Context(), LoginAttemptInput{UserID: userID, IP: "10.0.0.1", Success: true})
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
}

func TestRecordLoginAttempt_FeedsSessionScore(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	device := f.trustedDevice(userID)
	for range 2 {
		_, err := f.registry.RecordLoginAttempt(t.Context(), LoginAttemptInput{UserID: userID, IP: "10.0.0.1"})
		require.NoError(t, err)
	}
	f.clock.Advance(time.Minute)

	sess, err := f.registry.CreateSession(t.Context(), CreateSessionInput{
		UserID: userID, DeviceID: device.ID, Token: "after-failures", Context: loginContext(),
	})
	require.NoError(t, err)
	assert.Equal(t, 90, sess.SecurityScore)
}

func TestRecordLoginAttempt_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.registry.RecordLoginAttempt(t.Context(), LoginAttemptInput{IP: "10.0.0.1"})
	assert.True(t, domain.HasCode(err, domain.CodeValidation))

	_, err = f.registry.RecordLoginAttempt(t.Context(), LoginAttemptInput{UserID: uuid.New(), IP: "not-an-ip"})
	assert.True(t, domain.HasCode(err, domain.CodeValidation))
}
