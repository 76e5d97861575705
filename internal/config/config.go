package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 저장소 백엔드
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// 텔레메트리 전달 방식
const (
	TelemetryDirect = "direct"
	TelemetryRedis  = "redis"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// CORS
	CORSAllowedOrigins []string

	// Matchmaking
	DefaultDomain     string
	QueueTTL          time.Duration
	PendingMatchTTL   time.Duration
	AccessTokenTTL    time.Duration
	PublicOrigin      string
	JanitorInterval   time.Duration
	DistributedLock   bool
	StateBackend      string
	StatsBackend      string
	TelemetryMode     string
	TelemetryMaxRetry int

	// Rate limit (token bucket)
	RateLimitCapacity int64
	RateLimitRefill   int64
}

func Load() (*Config, error) {
	// .env 파일 로드 (있는 경우)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		DefaultDomain:      getEnv("DEFAULT_DOMAIN", "global"),
		QueueTTL:           parseDuration(getEnv("QUEUE_TTL", "60s"), time.Minute),
		PendingMatchTTL:    parseDuration(getEnv("PENDING_MATCH_TTL", "60s"), time.Minute),
		AccessTokenTTL:     parseDuration(getEnv("ACCESS_TOKEN_TTL", "1h"), time.Hour),
		PublicOrigin:       getEnv("PUBLIC_ORIGIN", "https://play.rl-arena.dev"),
		JanitorInterval:    parseDuration(getEnv("MATCHMAKING_JANITOR_INTERVAL", "30s"), 30*time.Second),
		DistributedLock:    parseBool(getEnv("MATCHMAKING_DISTRIBUTED_LOCK", "false")),
		StateBackend:       getEnv("STATE_BACKEND", BackendMemory),
		StatsBackend:       getEnv("STATS_BACKEND", BackendMemory),
		TelemetryMode:      getEnv("TELEMETRY_MODE", TelemetryDirect),
		TelemetryMaxRetry:  parseInt(getEnv("TELEMETRY_MAX_RETRIES", "5"), 5),
		RateLimitCapacity:  int64(parseInt(getEnv("RATE_LIMIT_CAPACITY", "20"), 20)),
		RateLimitRefill:    int64(parseInt(getEnv("RATE_LIMIT_REFILL", "5"), 5)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 백엔드 조합 검증
func (c *Config) Validate() error {
	switch c.StateBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("STATE_BACKEND=redis requires REDIS_URL")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("STATE_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown STATE_BACKEND %q", c.StateBackend)
	}

	switch c.StatsBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("STATS_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown STATS_BACKEND %q", c.StatsBackend)
	}

	switch c.TelemetryMode {
	case TelemetryDirect:
	case TelemetryRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("TELEMETRY_MODE=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown TELEMETRY_MODE %q", c.TelemetryMode)
	}

	if c.DistributedLock && c.RedisURL == "" {
		return fmt.Errorf("MATCHMAKING_DISTRIBUTED_LOCK requires REDIS_URL")
	}
	if c.DistributedLock && c.StateBackend == BackendMemory {
		return fmt.Errorf("MATCHMAKING_DISTRIBUTED_LOCK requires a shared STATE_BACKEND")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
