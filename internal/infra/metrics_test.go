package infra

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionCreated()
		m.SessionClosed("expired")
		m.ActivityRecorded("api_call", 45, false)
		m.AlertRaised("suspicious_activity", "medium")
		m.ConflictRetried()
		m.SessionsSwept(3)
		m.OutboxRelayed(2)
		m.OutboxFailed()
		m.ObserveHTTP("GET", "/health", "200", 0.01)
		m.InFlight(1)
	})
}

func TestMetrics_Counts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.AlertRaised("session_hijacking", "high")
	m.AlertRaised("session_hijacking", "high")
	m.SessionsSwept(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.alertsRaised.WithLabelValues("session_hijacking", "high")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.sessionsSwept))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SessionCreated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "atis_sessions_created_total 1")
}
