package infra

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5432"`
	PGUser      string `env:"PGUSER" envDefault:"atis"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"atis"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"atis"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	// MigrationsDir overrides the search for db/migrations upward from the working directory.
	MigrationsDir string `env:"MIGRATIONS_DIR"`

	// Redis (statistics cache). Empty disables caching.
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	// JWT
	JWTSecret          string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTServiceAudience string `env:"JWT_SERVICE_AUDIENCE" envDefault:"atis-session-security"`
	JWTServiceExpiry   string `env:"JWT_SERVICE_EXPIRY" envDefault:"1h"`
	JWTAdminExpiry     string `env:"JWT_ADMIN_EXPIRY" envDefault:"8h"`

	// Server
	APIPort            int    `env:"API_PORT" envDefault:"3100"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
	AdminRateLimit     int    `env:"ADMIN_RATE_LIMIT" envDefault:"120"`
	AdminRateWindow    string `env:"ADMIN_RATE_WINDOW" envDefault:"1m"`

	// Sessions
	SessionLifetime   string `env:"SESSION_LIFETIME" envDefault:"8h"`
	InactivityTimeout string `env:"INACTIVITY_TIMEOUT" envDefault:"30m"`
	RiskPolicyFile    string `env:"RISK_POLICY_FILE"`
	Timezone          string `env:"TIMEZONE" envDefault:"UTC"`
	SweepEnabled      bool   `env:"SWEEP_ENABLED" envDefault:"true"`
	SweepInterval     string `env:"SWEEP_INTERVAL" envDefault:"1m"`

	// Kafka
	KafkaBrokers       string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled       bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	OutboxPollInterval string `env:"OUTBOX_POLL_INTERVAL" envDefault:"500ms"`
	OutboxBatchSize    int    `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for insecure or malformed configuration.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass the secret checks (local dev only).
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"SESSION_LIFETIME":     c.SessionLifetime,
		"INACTIVITY_TIMEOUT":   c.InactivityTimeout,
		"SWEEP_INTERVAL":       c.SweepInterval,
		"ADMIN_RATE_WINDOW":    c.AdminRateWindow,
		"OUTBOX_POLL_INTERVAL": c.OutboxPollInterval,
		"JWT_SERVICE_EXPIRY":   c.JWTServiceExpiry,
		"JWT_ADMIN_EXPIRY":     c.JWTAdminExpiry,
	} {
		if _, err := ParseDuration(name, raw); err != nil {
			return err
		}
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 1 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) must satisfy 0 <= min <= max, max >= 1", c.DBMinConns, c.DBMaxConns)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	return nil
}

// ParseDuration parses a positive duration setting.
func ParseDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, raw)
	}
	return d, nil
}

// Location returns the time zone used for off-hours scoring.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
