package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter Redis 기반 분산 Rate Limiter (Token Bucket 알고리즘)
type RedisRateLimiter struct {
	client       *redis.Client
	keyPrefix    string
	defaultLimit int
	defaultTTL   time.Duration
	now          func() time.Time
}

// RedisRateLimiterConfig Redis Rate Limiter 설정
type RedisRateLimiterConfig struct {
	KeyPrefix    string        // 키 접두사 (예: "ratelimit:")
	DefaultLimit int           // 기본 요청 제한
	DefaultTTL   time.Duration // 기본 윈도우 크기
}

// 토큰과 마지막 갱신 시각(ms)을 하나의 Hash에 저장한다
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])

	local tokens = tonumber(redis.call('HGET', key, 'tokens'))
	local last_update = tonumber(redis.call('HGET', key, 'ts'))

	if tokens == nil or last_update == nil then
		tokens = limit
		last_update = now
	end

	local elapsed = math.max(0, now - last_update)
	local new_tokens = math.min(limit, tokens + (elapsed * limit / window_ms))

	local allowed = 0
	if new_tokens >= 1 then
		new_tokens = new_tokens - 1
		allowed = 1
	end

	redis.call('HSET', key, 'tokens', tostring(new_tokens), 'ts', tostring(now))
	redis.call('PEXPIRE', key, window_ms * 2)

	return {allowed, math.floor(new_tokens), math.floor(now + window_ms)}
`)

// NewRedisRateLimiter 공유 Redis 클라이언트로 Rate Limiter 생성
func NewRedisRateLimiter(client *redis.Client, config RedisRateLimiterConfig) *RedisRateLimiter {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "ratelimit:"
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 60
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Minute
	}

	return &RedisRateLimiter{
		client:       client,
		keyPrefix:    config.KeyPrefix,
		defaultLimit: config.DefaultLimit,
		defaultTTL:   config.DefaultTTL,
		now:          time.Now,
	}
}

// Allow 요청 허용 여부 확인
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	allowed, _, err := r.AllowWithInfo(ctx, key, limit, window)
	return allowed, err
}

// AllowWithInfo 요청 허용 여부와 상세 정보 반환
func (r *RedisRateLimiter) AllowWithInfo(ctx context.Context, key string, limit int, window time.Duration) (bool, *RateLimitInfo, error) {
	if limit <= 0 {
		limit = r.defaultLimit
	}
	if window <= 0 {
		window = r.defaultTTL
	}

	result, err := tokenBucketScript.Run(ctx, r.client,
		[]string{r.keyPrefix + key},
		limit, window.Milliseconds(), r.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return false, nil, fmt.Errorf("redis script execution failed: %w", err)
	}
	if len(result) < 3 {
		return false, nil, fmt.Errorf("invalid script result")
	}

	info := &RateLimitInfo{
		Limit:     limit,
		Remaining: int(result[1]),
		ResetTime: time.UnixMilli(result[2]),
	}

	return result[0] == 1, info, nil
}

// Take Limiter 구현 (기본 limit/window 사용)
func (r *RedisRateLimiter) Take(ctx context.Context, key string) (bool, *RateLimitInfo, error) {
	return r.AllowWithInfo(ctx, key, 0, 0)
}

// Reset 특정 키의 Rate Limit 초기화
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

// Ping Redis 연결 확인
func (r *RedisRateLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
