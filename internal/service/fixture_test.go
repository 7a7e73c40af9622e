package service

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/guard"
	"github.com/atis/platform/internal/infra"
	"github.com/atis/platform/internal/policy"
	"github.com/atis/platform/internal/projection"
	"github.com/atis/platform/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingPublisher struct {
	mu     sync.Mutex
	alerts []domain.SecurityAlert
}

func (p *recordingPublisher) Publish(a domain.SecurityAlert) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, a)
}

func (p *recordingPublisher) Published() []domain.SecurityAlert {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SecurityAlert(nil), p.alerts...)
}

type fixture struct {
	store     *memory.Store
	repos     Repositories
	clock     *fixedClock
	publisher *recordingPublisher
	metrics   *infra.Metrics
	emitter   *AlertEmitter
	detector  *AnomalyDetector
	registry  *SessionRegistry
	recorder  *ActivityRecorder
	stats     *Statistics
	cache     *projection.InMemoryStore
}

// Monday 14:00 UTC.
var baseTime = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func memoryRepos(store *memory.Store) Repositories {
	return Repositories{
		Tx:         store,
		Sessions:   store.SessionRepo(),
		Activities: store.ActivityRepo(),
		Alerts:     store.AlertRepo(),
		Devices:    store.DeviceRepo(),
		Attempts:   store.LoginAttemptRepo(),
		Outbox:     store.OutboxRepo(),
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		store:     memory.New(),
		clock:     &fixedClock{now: baseTime},
		publisher: &recordingPublisher{},
		metrics:   infra.NewMetrics(prometheus.NewRegistry()),
	}
	f.repos = memoryRepos(f.store)
	f.cache = projection.NewInMemoryStore().WithClock(f.clock.Now)

	pol := policy.DefaultPolicy()
	cfg := DefaultRegistryConfig()
	cfg.RetryBackoff = time.Millisecond

	f.emitter = NewAlertEmitter(f.repos, f.clock, f.publisher, f.metrics, logger)
	f.detector = NewAnomalyDetector(f.repos, pol, f.emitter, f.clock, cfg.RetryBackoff, f.metrics, logger)
	lockout := guard.NewLockout(f.repos.Attempts, f.store.DB(), logger)
	f.registry = NewSessionRegistry(f.repos, pol, f.detector, f.emitter, lockout, f.clock, cfg, f.metrics, logger)
	f.recorder = NewActivityRecorder(f.repos, pol, f.registry, f.detector, f.clock, f.metrics, logger)
	f.stats = NewStatistics(f.repos, f.registry, f.cache, f.clock, logger)
	return f
}

// trustedDevice seeds a trusted month-old device last seen from 10.0.0.1 in AZ.
func (f *fixture) trustedDevice(userID uuid.UUID) domain.Device {
	d := domain.Device{
		ID:           uuid.New(),
		UserID:       userID,
		IsTrusted:    true,
		RegisteredAt: baseTime.Add(-30 * 24 * time.Hour),
		LastIP:       "10.0.0.1",
		LastCountry:  "AZ",
	}
	f.store.PutDevice(d)
	return d
}

// newDevice seeds an untrusted device registered two hours ago.
func (f *fixture) newDevice(userID uuid.UUID) domain.Device {
	d := domain.Device{
		ID:           uuid.New(),
		UserID:       userID,
		RegisteredAt: f.clock.Now().Add(-2 * time.Hour),
	}
	f.store.PutDevice(d)
	return d
}

func loginContext() domain.RequestContext {
	return domain.RequestContext{
		IP:          "10.0.0.1",
		Country:     "AZ",
		City:        "Baku",
		UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		LoginMethod: "password",
	}
}

// openSession creates a score-100 session on a trusted device.
func (f *fixture) openSession(t *testing.T) *domain.Session {
	t.Helper()
	userID := uuid.New()
	device := f.trustedDevice(userID)
	sess, err := f.registry.CreateSession(t.Context(), CreateSessionInput{
		UserID:   userID,
		DeviceID: device.ID,
		Token:    uuid.NewString(),
		Context:  loginContext(),
	})
	require.NoError(t, err)
	require.Equal(t, 100, sess.SecurityScore)
	return sess
}

func alertsOfType(alerts []domain.SecurityAlert, typ domain.AlertType) []domain.SecurityAlert {
	var out []domain.SecurityAlert
	for _, a := range alerts {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func eventsOfType(events []domain.OutboxDraft, typ domain.EventType) int {
	n := 0
	for _, e := range events {
		if e.EventType == typ {
			n++
		}
	}
	return n
}
