package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers accepted by STORAGE_DRIVER.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Storage      StorageConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Upload       UploadConfig
	RateLimit    RateLimitConfig
	Events       EventsConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// StorageConfig selects where tickets, refunds and idempotency keys live.
type StorageConfig struct {
	Driver   string
	BoltPath string
	SeedFile string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level    string
	Encoding string
	Service  string
}

// AuthConfig defines how bearer tokens are verified.
type AuthConfig struct {
	JWTSecret       string
	Issuer          string
	TokenTTLMinutes int
}

// UploadConfig controls attachment storage.
type UploadConfig struct {
	Dir   string
	MaxMB int
}

// RateLimitConfig bounds requests per client IP.
type RateLimitConfig struct {
	Requests      int64
	PeriodSeconds int
}

// EventsConfig controls fan-out of domain events.
type EventsConfig struct {
	RedisChannel string
	QueueSize    int
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "marketplace-support"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Storage: StorageConfig{
			Driver:   strings.ToLower(getEnv("STORAGE_DRIVER", StorageMemory)),
			BoltPath: getEnv("BOLT_PATH", "data/idempotency.db"),
			SeedFile: os.Getenv("SEED_FILE"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
			Service:  getEnv("APP_NAME", "marketplace-support"),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("AUTH_JWT_SECRET", "dev-secret"),
			Issuer:          os.Getenv("AUTH_JWT_ISSUER"),
			TokenTTLMinutes: getEnvAsInt("AUTH_TOKEN_TTL_MINUTES", 60),
		},
		Upload: UploadConfig{
			Dir:   getEnv("UPLOAD_DIR", "data/uploads"),
			MaxMB: getEnvAsInt("UPLOAD_MAX_MB", 10),
		},
		RateLimit: RateLimitConfig{
			Requests:      int64(getEnvAsInt("RATE_LIMIT_REQUESTS", 120)),
			PeriodSeconds: getEnvAsInt("RATE_LIMIT_PERIOD_SECONDS", 60),
		},
		Events: EventsConfig{
			RedisChannel: getEnv("EVENTS_REDIS_CHANNEL", "marketplace-support.events"),
			QueueSize:    getEnvAsInt("EVENTS_QUEUE_SIZE", 256),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("STORAGE_DRIVER=postgres requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("AUTH_JWT_SECRET must not be empty")
	}
	if c.Upload.MaxMB <= 0 {
		return fmt.Errorf("UPLOAD_MAX_MB must be positive")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.PeriodSeconds <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_PERIOD_SECONDS must be positive")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// TokenTTL is the lifetime of locally issued development tokens.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

// MaxBytes returns the upload size limit in bytes.
func (u UploadConfig) MaxBytes() int64 {
	return int64(u.MaxMB) << 20
}

// Period returns the rate limit window.
func (r RateLimitConfig) Period() time.Duration {
	return time.Duration(r.PeriodSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
