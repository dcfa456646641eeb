package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnvVars clears all Cadence-related environment variables.
func clearEnvVars() {
	envVars := []string{
		"APP_ENV", "LOG_LEVEL", "LOG_FORMAT",
		"DATABASE_URL", "DATABASE_DRIVER", "SQLITE_PATH", "CADENCE_LOCAL_MODE",
		"REDIS_URL", "RABBITMQ_URL", "RABBITMQ_EXCHANGE",
		"OUTBOX_POLL_INTERVAL", "OUTBOX_BATCH_SIZE", "OUTBOX_MAX_RETRIES",
		"OUTBOX_RETENTION_DAYS", "OUTBOX_CLEANUP_INTERVAL", "OUTBOX_PROCESSOR_ENABLED",
		"API_ADDR", "WORKER_HEALTH_ADDR", "MCP_ADDR", "MCP_AUTH_TOKEN",
		"STRIPE_API_KEY", "STRIPE_WEBHOOK_SECRET", "GENERIC_WEBHOOK_SECRET",
		"GATEWAY_TIMEOUT", "GATEWAY_MAX_ATTEMPTS", "GATEWAY_BREAKER_FAILURES", "GATEWAY_BREAKER_TIMEOUT",
		"DUNNING_THRESHOLD", "DUNNING_RETRY_INTERVAL", "STALE_WRITE_MAX_RETRIES",
		"DEDUP_BACKEND", "DEDUP_WINDOW", "DEDUP_CAPACITY", "DEDUP_INFLIGHT_TTL",
		"SWEEP_SCHEDULE", "SWEEP_BATCH_SIZE", "SWEEP_CONCURRENCY",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "info", cfg.LogLevel)

	// Local mode is enabled by default when no DATABASE_URL is set
	assert.True(t, cfg.LocalMode)
	assert.True(t, cfg.IsSQLite())

	assert.Equal(t, 100*time.Millisecond, cfg.OutboxPollInterval)
	assert.Equal(t, 5, cfg.OutboxMaxRetries)
	assert.Equal(t, "cadence.billing.events", cfg.RabbitMQExchange)

	assert.Equal(t, 5, cfg.DunningThreshold)
	assert.Equal(t, 24*time.Hour, cfg.DunningRetryInterval)
	assert.Equal(t, 5, cfg.StaleWriteMaxRetries)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 3, cfg.GatewayMaxAttempts)
	assert.Equal(t, 5, cfg.GatewayBreakerFailures)
	assert.Equal(t, 30*time.Second, cfg.GatewayBreakerTimeout)

	assert.Equal(t, "memory", cfg.DedupBackend)
	assert.Equal(t, 72*time.Hour, cfg.DedupWindow)
	assert.Equal(t, 10000, cfg.DedupCapacity)
	assert.Equal(t, 5*time.Minute, cfg.DedupInflightTTL)

	assert.Equal(t, "@every 1m", cfg.SweepSchedule)
	assert.Equal(t, 100, cfg.SweepBatchSize)
	assert.Equal(t, 4, cfg.SweepConcurrency)
}

func TestLoad_WithDatabaseURL(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	os.Setenv("DATABASE_URL", "postgres://cadence@localhost:5432/cadence")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.LocalMode)
	assert.True(t, cfg.IsPostgres())
}

func TestLoad_WithCustomEnvVars(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	os.Setenv("APP_ENV", "production")
	os.Setenv("DUNNING_THRESHOLD", "3")
	os.Setenv("DUNNING_RETRY_INTERVAL", "6h")
	os.Setenv("DEDUP_WINDOW", "24h")
	os.Setenv("SWEEP_CONCURRENCY", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, 3, cfg.DunningThreshold)
	assert.Equal(t, 6*time.Hour, cfg.DunningRetryInterval)
	assert.Equal(t, 24*time.Hour, cfg.DedupWindow)
	assert.Equal(t, 4, cfg.SweepConcurrency, "invalid values fall back to defaults")
}

func TestConfig_UsesRedisDedup(t *testing.T) {
	cfg := &Config{DedupBackend: "redis"}
	assert.False(t, cfg.UsesRedisDedup(), "redis backend needs a URL")

	cfg.RedisURL = "redis://localhost:6379/0"
	assert.True(t, cfg.UsesRedisDedup())
}

func TestGetBoolEnv(t *testing.T) {
	os.Setenv("CADENCE_TEST_BOOL", "true")
	defer os.Unsetenv("CADENCE_TEST_BOOL")

	assert.True(t, getBoolEnv("CADENCE_TEST_BOOL", false))
	assert.True(t, getBoolEnv("CADENCE_TEST_MISSING", true))
}
