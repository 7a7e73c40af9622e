package app

import (
	"context"
	"log/slog"

	"github.com/atis/platform/internal/guard"
	"github.com/atis/platform/internal/infra"
	"github.com/atis/platform/internal/policy"
	"github.com/atis/platform/internal/projection"
	"github.com/atis/platform/internal/service"
)

// Services is the wired set of session-security services shared by the binaries.
type Services struct {
	Emitter  *service.AlertEmitter
	Detector *service.AnomalyDetector
	Registry *service.SessionRegistry
	Recorder *service.ActivityRecorder
	Stats    *service.Statistics
}

// NewServices wires the services over one set of repositories. publisher may be
// nil when no live subscribers exist (sweeper).
func NewServices(
	repos service.Repositories,
	pol *policy.Policy,
	cache projection.Store,
	publisher service.AlertPublisher,
	clock service.Clock,
	cfg service.RegistryConfig,
	metrics *infra.Metrics,
	logger *slog.Logger,
) *Services {
	emitter := service.NewAlertEmitter(repos, clock, publisher, metrics, logger)
	detector := service.NewAnomalyDetector(repos, pol, emitter, clock, cfg.RetryBackoff, metrics, logger)
	lockout := guard.NewLockout(repos.Attempts, repos.Tx.DB(), logger)
	registry := service.NewSessionRegistry(repos, pol, detector, emitter, lockout, clock, cfg, metrics, logger)
	return &Services{
		Emitter:  emitter,
		Detector: detector,
		Registry: registry,
		Recorder: service.NewActivityRecorder(repos, pol, registry, detector, clock, metrics, logger),
		Stats:    service.NewStatistics(repos, registry, cache, clock, logger),
	}
}

// RegistryConfigFrom reads session lifetimes from the environment config.
func RegistryConfigFrom(cfg *infra.Config) (service.RegistryConfig, error) {
	out := service.DefaultRegistryConfig()
	lifetime, err := infra.ParseDuration("SESSION_LIFETIME", cfg.SessionLifetime)
	if err != nil {
		return out, err
	}
	idle, err := infra.ParseDuration("INACTIVITY_TIMEOUT", cfg.InactivityTimeout)
	if err != nil {
		return out, err
	}
	out.SessionLifetime = lifetime
	out.InactivityTimeout = idle
	return out, nil
}

// NewCache connects the statistics cache. An empty URL or an unreachable Redis
// falls back to a process-local store.
func NewCache(ctx context.Context, redisURL string, logger *slog.Logger) (projection.Store, func()) {
	if redisURL == "" {
		logger.Info("statistics cache: in-memory")
		return projection.NewInMemoryStore(), func() {}
	}
	store, err := projection.NewRedisStore(ctx, redisURL, "atis:")
	if err != nil {
		logger.Warn("statistics cache: redis unavailable, using in-memory store", "error", err)
		return projection.NewInMemoryStore(), func() {}
	}
	logger.Info("statistics cache: redis")
	return store, func() { _ = store.Close() }
}

// LoadPolicy reads the risk policy file, or the built-in defaults when path is empty.
func LoadPolicy(path string, logger *slog.Logger) (*policy.Policy, error) {
	pol, err := policy.LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	logger.Info("risk policy loaded",
		"file", path,
		"suspicious_threshold", pol.SuspiciousThreshold,
		"hijack_threshold", pol.HijackThreshold,
		"flood_window", pol.FloodWindow.String(),
	)
	return pol, nil
}
