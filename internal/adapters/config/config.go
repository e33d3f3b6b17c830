package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"casino/pkg/errors"
)

type Config struct {
	App           AppConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Ledger        LedgerConfig
	Session       SessionConfig
	Metrics       MetricsConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"casino"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"casino"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB" default:"casino"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"casino"`
}

// LedgerConfig selects the balance ledger backend
type LedgerConfig struct {
	Backend string `envconfig:"LEDGER_BACKEND" default:"postgres"` // postgres|redis
	Scope   string `envconfig:"LEDGER_DEFAULT_SCOPE" default:"global"`
}

// SessionConfig contains the tunable knobs of the session core.
// Values are heuristics for liveness/UX, not correctness; tests override
// them with much shorter windows.
type SessionConfig struct {
	RateLimitWindow   time.Duration `envconfig:"SESSION_RATE_LIMIT_WINDOW" default:"1s"`
	LockStaleness     time.Duration `envconfig:"SESSION_LOCK_STALENESS" default:"5s"`
	InactivityTimeout time.Duration `envconfig:"SESSION_INACTIVITY_TIMEOUT" default:"10m"`
	GraceWindow       time.Duration `envconfig:"SESSION_GRACE_WINDOW" default:"60s"`
	CleanupInterval   time.Duration `envconfig:"SESSION_CLEANUP_INTERVAL" default:"60s"`
	DefaultTimeout    time.Duration `envconfig:"SESSION_DEFAULT_TIMEOUT" default:"5m"`
	MaxPerUser        int           `envconfig:"SESSION_MAX_PER_USER" default:"1"`
	RefundRatePerSec  int           `envconfig:"SESSION_REFUND_RATE_PER_SEC" default:"20"`
}

type MetricsConfig struct {
	Enabled bool `envconfig:"METRICS_ENABLED" default:"true"`
	Port    int  `envconfig:"METRICS_PORT" default:"9090"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
