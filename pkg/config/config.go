package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv    string
	LogLevel  string
	LogFormat string

	// Database. An empty DatabaseURL selects local mode on SQLite.
	DatabaseURL    string
	DatabaseDriver string
	SQLitePath     string
	LocalMode      bool

	// Redis
	RedisURL string

	// RabbitMQ
	RabbitMQURL      string
	RabbitMQExchange string

	// Outbox
	OutboxPollInterval     time.Duration
	OutboxBatchSize        int
	OutboxMaxRetries       int
	OutboxRetentionDays    int
	OutboxCleanupInterval  time.Duration
	OutboxProcessorEnabled bool

	// Listeners
	APIAddr          string
	WorkerHealthAddr string
	MCPAddr          string
	MCPAuthToken     string

	// Gateway
	StripeAPIKey           string
	StripeWebhookSecret    string
	GenericWebhookSecret   string
	GatewayTimeout         time.Duration
	GatewayMaxAttempts     int
	GatewayBreakerFailures int
	GatewayBreakerTimeout  time.Duration

	// Billing rules
	DunningThreshold     int
	DunningRetryInterval time.Duration
	StaleWriteMaxRetries int

	// Webhook dedup window
	DedupBackend     string
	DedupWindow      time.Duration
	DedupCapacity    int
	DedupInflightTTL time.Duration

	// Lifecycle sweep
	SweepSchedule    string
	SweepBatchSize   int
	SweepConcurrency int
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	databaseURL := getEnv("DATABASE_URL", "")

	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", ""),

		DatabaseURL:    databaseURL,
		DatabaseDriver: getEnv("DATABASE_DRIVER", detectDriver(databaseURL)),
		SQLitePath:     getEnv("SQLITE_PATH", getDefaultSQLitePath()),
		LocalMode:      getBoolEnv("CADENCE_LOCAL_MODE", databaseURL == ""),

		RedisURL:         getEnv("REDIS_URL", ""),
		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "cadence.billing.events"),

		OutboxPollInterval:     getDurationEnv("OUTBOX_POLL_INTERVAL", 100*time.Millisecond),
		OutboxBatchSize:        getIntEnv("OUTBOX_BATCH_SIZE", 100),
		OutboxMaxRetries:       getIntEnv("OUTBOX_MAX_RETRIES", 5),
		OutboxRetentionDays:    getIntEnv("OUTBOX_RETENTION_DAYS", 14),
		OutboxCleanupInterval:  getDurationEnv("OUTBOX_CLEANUP_INTERVAL", 24*time.Hour),
		OutboxProcessorEnabled: getBoolEnv("OUTBOX_PROCESSOR_ENABLED", true),

		APIAddr:          getEnv("API_ADDR", "0.0.0.0:8080"),
		WorkerHealthAddr: getEnv("WORKER_HEALTH_ADDR", "0.0.0.0:8081"),
		MCPAddr:          getEnv("MCP_ADDR", "0.0.0.0:8082"),
		MCPAuthToken:     getEnv("MCP_AUTH_TOKEN", ""),

		StripeAPIKey:           getEnv("STRIPE_API_KEY", ""),
		StripeWebhookSecret:    getEnv("STRIPE_WEBHOOK_SECRET", ""),
		GenericWebhookSecret:   getEnv("GENERIC_WEBHOOK_SECRET", ""),
		GatewayTimeout:         getDurationEnv("GATEWAY_TIMEOUT", 10*time.Second),
		GatewayMaxAttempts:     getIntEnv("GATEWAY_MAX_ATTEMPTS", 3),
		GatewayBreakerFailures: getIntEnv("GATEWAY_BREAKER_FAILURES", 5),
		GatewayBreakerTimeout:  getDurationEnv("GATEWAY_BREAKER_TIMEOUT", 30*time.Second),

		DunningThreshold:     getIntEnv("DUNNING_THRESHOLD", 5),
		DunningRetryInterval: getDurationEnv("DUNNING_RETRY_INTERVAL", 24*time.Hour),
		StaleWriteMaxRetries: getIntEnv("STALE_WRITE_MAX_RETRIES", 5),

		DedupBackend:     getEnv("DEDUP_BACKEND", "memory"),
		DedupWindow:      getDurationEnv("DEDUP_WINDOW", 72*time.Hour),
		DedupCapacity:    getIntEnv("DEDUP_CAPACITY", 10000),
		DedupInflightTTL: getDurationEnv("DEDUP_INFLIGHT_TTL", 5*time.Minute),

		SweepSchedule:    getEnv("SWEEP_SCHEDULE", "@every 1m"),
		SweepBatchSize:   getIntEnv("SWEEP_BATCH_SIZE", 100),
		SweepConcurrency: getIntEnv("SWEEP_CONCURRENCY", 4),
	}

	if cfg.LocalMode && os.Getenv("DATABASE_DRIVER") == "" {
		cfg.DatabaseDriver = "sqlite"
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// IsSQLite reports whether the SQLite backend is selected.
func (c *Config) IsSQLite() bool {
	return c.DatabaseDriver == "sqlite"
}

// IsPostgres reports whether the PostgreSQL backend is selected.
func (c *Config) IsPostgres() bool {
	return c.DatabaseDriver == "postgres"
}

// UsesRedisDedup reports whether webhook dedup should be shared through Redis.
func (c *Config) UsesRedisDedup() bool {
	return c.DedupBackend == "redis" && c.RedisURL != ""
}

func detectDriver(url string) string {
	if url == "" {
		return "sqlite"
	}
	return "postgres"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cadence/cadence.db"
	}
	return home + "/.cadence/cadence.db"
}
