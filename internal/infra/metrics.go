package infra

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	sessionsCreated    prometheus.Counter
	sessionsClosed     *prometheus.CounterVec
	activitiesRecorded *prometheus.CounterVec
	activityRisk       prometheus.Histogram
	alertsRaised       *prometheus.CounterVec
	conflictRetries    prometheus.Counter
	sessionsSwept      prometheus.Counter
	outboxRelayed      prometheus.Counter
	outboxFailures     prometheus.Counter
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	httpInFlight       prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atis_sessions_created_total",
			Help: "Sessions created.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atis_sessions_closed_total",
			Help: "Sessions that left the active state, by final status.",
		}, []string{"status"}),
		activitiesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atis_activities_recorded_total",
			Help: "Activities recorded, by type and suspicion.",
		}, []string{"type", "suspicious"}),
		activityRisk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "atis_activity_risk_score",
			Help:    "Distribution of activity risk scores.",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atis_security_alerts_total",
			Help: "Security alerts raised, by type and severity.",
		}, []string{"type", "severity"}),
		conflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atis_session_conflict_retries_total",
			Help: "Session writes retried after a version conflict.",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atis_sessions_swept_total",
			Help: "Sessions expired by the cleanup sweep.",
		}),
		outboxRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atis_outbox_relayed_total",
			Help: "Outbox events published to Kafka.",
		}),
		outboxFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atis_outbox_failures_total",
			Help: "Outbox events that failed to publish.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.sessionsCreated, m.sessionsClosed, m.activitiesRecorded, m.activityRisk,
		m.alertsRaised, m.conflictRetries, m.sessionsSwept, m.outboxRelayed,
		m.outboxFailures, m.httpRequests, m.httpDuration, m.httpInFlight,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionCreated() {
	if m != nil {
		m.sessionsCreated.Inc()
	}
}

func (m *Metrics) SessionClosed(status string) {
	if m != nil {
		m.sessionsClosed.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) ActivityRecorded(activityType string, risk int, suspicious bool) {
	if m == nil {
		return
	}
	label := "false"
	if suspicious {
		label = "true"
	}
	m.activitiesRecorded.WithLabelValues(activityType, label).Inc()
	m.activityRisk.Observe(float64(risk))
}

func (m *Metrics) AlertRaised(alertType, severity string) {
	if m != nil {
		m.alertsRaised.WithLabelValues(alertType, severity).Inc()
	}
}

func (m *Metrics) ConflictRetried() {
	if m != nil {
		m.conflictRetries.Inc()
	}
}

func (m *Metrics) SessionsSwept(n int) {
	if m != nil {
		m.sessionsSwept.Add(float64(n))
	}
}

func (m *Metrics) OutboxRelayed(n int) {
	if m != nil {
		m.outboxRelayed.Add(float64(n))
	}
}

func (m *Metrics) OutboxFailed() {
	if m != nil {
		m.outboxFailures.Inc()
	}
}

// ObserveHTTP records one finished request. route is the chi route pattern.
func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route, status).Observe(seconds)
}

// InFlight adjusts the in-flight request gauge by delta.
func (m *Metrics) InFlight(delta float64) {
	if m != nil {
		m.httpInFlight.Add(delta)
	}
}
