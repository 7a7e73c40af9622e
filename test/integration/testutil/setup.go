//go:build integration

package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/atis/platform/internal/app"
	"github.com/atis/platform/internal/auth"
	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/guard"
	"github.com/atis/platform/internal/infra"
	"github.com/atis/platform/internal/policy"
	"github.com/atis/platform/internal/projection"
	"github.com/atis/platform/internal/repository"
	"github.com/atis/platform/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	TestJWTSecret = "integration-test-secret-at-least-32-chars"
	TestAudience  = "atis-session-security"
	TestDBHost    = "localhost"
	TestDBPort    = 5435
	TestDBUser    = "atis"
	TestDBPass    = "atis"
	TestDBName    = "atis_test"
)

// TestEnv holds all resources for an integration test.
type TestEnv struct {
	Server   *httptest.Server
	Pool     *pgxpool.Pool
	JWTMgr   *auth.JWTManager
	Repos    service.Repositories
	Services *app.Services
	t        *testing.T
}

var (
	sharedPool *pgxpool.Pool
	poolOnce   sync.Once
	poolErr    error
)

func testDSN() string {
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, TestDBName)
}

func bootstrapDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, "atis")
}

func ensureTestDB() error {
	if os.Getenv("TEST_DATABASE_URL") != "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bPool, err := pgxpool.New(ctx, bootstrapDSN())
	if err != nil {
		return fmt.Errorf("connect bootstrap db: %w", err)
	}
	defer bPool.Close()

	var exists bool
	err = bPool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", TestDBName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check db exists: %w", err)
	}
	if !exists {
		if _, err := bPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", TestDBName)); err != nil {
			return fmt.Errorf("create test db: %w", err)
		}
	}
	return nil
}

// findProjectRoot walks up from the working directory to the directory holding go.mod.
func findProjectRoot() string {
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}

func getSharedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	poolOnce.Do(func() {
		if err := ensureTestDB(); err != nil {
			poolErr = err
			return
		}

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		migrations := filepath.Join(findProjectRoot(), "db", "migrations")
		if err := infra.RunMigrations(testDSN(), migrations, logger); err != nil {
			poolErr = fmt.Errorf("run migrations: %w", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		poolCfg, err := pgxpool.ParseConfig(testDSN())
		if err != nil {
			poolErr = fmt.Errorf("parse pool config: %w", err)
			return
		}
		poolCfg.MaxConns = 10
		poolCfg.MinConns = 1

		sharedPool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			poolErr = fmt.Errorf("create pool: %w", err)
		}
	})

	if poolErr != nil {
		t.Fatalf("failed to initialize test pool: %v", poolErr)
	}
	return sharedPool
}

// NewTestEnv creates a test environment with an httptest.Server backed by the real router and test DB.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	pool := getSharedPool(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	jwtMgr := auth.NewJWTManager(TestJWTSecret, TestAudience, time.Hour, time.Hour)
	repos := service.PostgresRepositories(repository.NewTransactor(pool))
	cfg := service.DefaultRegistryConfig()
	cfg.RetryBackoff = time.Millisecond
	hub := infra.NewAlertHub(nil, logger)
	svcs := app.NewServices(repos, policy.DefaultPolicy(), projection.NewInMemoryStore(), hub,
		service.NewSystemClock(time.UTC), cfg, nil, logger)

	router := app.NewRouter(app.RouterDeps{
		DB:           pool,
		JWTMgr:       jwtMgr,
		Logger:       logger,
		Registry:     svcs.Registry,
		Recorder:     svcs.Recorder,
		Stats:        svcs.Stats,
		Emitter:      svcs.Emitter,
		Hub:          hub,
		AdminLimiter: guard.NewRateLimiter(1000, time.Minute),
		CORSOrigins:  "*",
	})

	env := &TestEnv{
		Server:   httptest.NewServer(router),
		Pool:     pool,
		JWTMgr:   jwtMgr,
		Repos:    repos,
		Services: svcs,
		t:        t,
	}
	env.CleanAll()
	t.Cleanup(func() {
		env.Server.Close()
		hub.Shutdown(context.Background())
	})
	return env
}

// SeedDevice inserts a device row for userID.
func (env *TestEnv) SeedDevice(userID uuid.UUID, trusted bool, lastIP string) domain.Device {
	env.t.Helper()
	d := domain.Device{
		ID:           uuid.New(),
		UserID:       userID,
		IsTrusted:    trusted,
		RegisteredAt: time.Now().Add(-30 * 24 * time.Hour),
		LastIP:       lastIP,
		LastCountry:  "AZ",
	}
	_, err := env.Pool.Exec(context.Background(), `
		INSERT INTO user_devices (id, user_id, is_trusted, registered_at, last_ip, last_country)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.UserID, d.IsTrusted, d.RegisteredAt, d.LastIP, d.LastCountry)
	if err != nil {
		env.t.Fatalf("SeedDevice: %v", err)
	}
	return d
}

// ServiceToken returns a service-realm bearer token.
func (env *TestEnv) ServiceToken() string {
	env.t.Helper()
	token, err := env.JWTMgr.GenerateServiceToken("integration")
	if err != nil {
		env.t.Fatalf("ServiceToken: %v", err)
	}
	return token
}

// AdminToken returns an admin-realm bearer token with the given role.
func (env *TestEnv) AdminToken(role string) string {
	env.t.Helper()
	token, err := env.JWTMgr.GenerateAdminToken(uuid.New(), "ops@atis.az", role)
	if err != nil {
		env.t.Fatalf("AdminToken: %v", err)
	}
	return token
}
