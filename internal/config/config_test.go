package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "CORS_ALLOWED_ORIGINS", "DEFAULT_DOMAIN",
		"QUEUE_TTL", "PENDING_MATCH_TTL", "ACCESS_TOKEN_TTL", "MATCHMAKING_JANITOR_INTERVAL",
		"MATCHMAKING_DISTRIBUTED_LOCK", "STATE_BACKEND", "STATS_BACKEND", "TELEMETRY_MODE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "global", cfg.DefaultDomain)
	assert.Equal(t, time.Minute, cfg.QueueTTL)
	assert.Equal(t, time.Minute, cfg.PendingMatchTTL)
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 30*time.Second, cfg.JanitorInterval)
	assert.Equal(t, BackendMemory, cfg.StateBackend)
	assert.Equal(t, BackendMemory, cfg.StatsBackend)
	assert.Equal(t, TelemetryDirect, cfg.TelemetryMode)
	assert.False(t, cfg.DistributedLock)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORSAllowedOrigins)
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEFAULT_DOMAIN", "eu")
	t.Setenv("QUEUE_TTL", "90s")
	t.Setenv("PENDING_MATCH_TTL", "not-a-duration")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("STATE_BACKEND", BackendRedis)
	t.Setenv("MATCHMAKING_DISTRIBUTED_LOCK", "true")
	t.Setenv("TELEMETRY_MODE", TelemetryRedis)
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://play.rl-arena.dev , ,https://rl-arena.dev")
	t.Setenv("RATE_LIMIT_CAPACITY", "50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "eu", cfg.DefaultDomain)
	assert.Equal(t, 90*time.Second, cfg.QueueTTL)
	assert.Equal(t, time.Minute, cfg.PendingMatchTTL)
	assert.True(t, cfg.DistributedLock)
	assert.Equal(t, []string{"https://play.rl-arena.dev", "https://rl-arena.dev"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, int64(50), cfg.RateLimitCapacity)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			StateBackend:  BackendMemory,
			StatsBackend:  BackendMemory,
			TelemetryMode: TelemetryDirect,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"memory defaults", func(c *Config) {}, ""},
		{"redis state without url", func(c *Config) { c.StateBackend = BackendRedis }, "requires REDIS_URL"},
		{"postgres state without url", func(c *Config) { c.StateBackend = BackendPostgres }, "requires DATABASE_URL"},
		{"unknown state backend", func(c *Config) { c.StateBackend = "etcd" }, "unknown STATE_BACKEND"},
		{"postgres stats without url", func(c *Config) { c.StatsBackend = BackendPostgres }, "requires DATABASE_URL"},
		{"redis stats unsupported", func(c *Config) { c.StatsBackend = BackendRedis }, "unknown STATS_BACKEND"},
		{"redis telemetry without url", func(c *Config) { c.TelemetryMode = TelemetryRedis }, "requires REDIS_URL"},
		{"unknown telemetry", func(c *Config) { c.TelemetryMode = "kafka" }, "unknown TELEMETRY_MODE"},
		{"lock without redis", func(c *Config) { c.DistributedLock = true }, "requires REDIS_URL"},
		{"lock with memory state", func(c *Config) {
			c.DistributedLock = true
			c.RedisURL = "redis://localhost:6379"
		}, "shared STATE_BACKEND"},
		{"lock with postgres state", func(c *Config) {
			c.DistributedLock = true
			c.RedisURL = "redis://localhost:6379"
			c.DatabaseURL = "postgres://localhost/matchmaker"
			c.StateBackend = BackendPostgres
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)

			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
