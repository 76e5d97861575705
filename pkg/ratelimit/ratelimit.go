package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter HTTP 미들웨어가 사용하는 공통 인터페이스
type Limiter interface {
	Take(ctx context.Context, key string) (bool, *RateLimitInfo, error)
}

// RateLimitInfo Rate Limit 상세 정보
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// TokenBucket implements the token bucket algorithm for rate limiting
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int64 // Maximum number of tokens
	tokens     int64 // Current number of tokens
	refillRate int64 // Tokens added per second
	lastRefill time.Time
	lastUsed   time.Time
	now        func() time.Time
}

// NewTokenBucket creates a new token bucket
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	t := now()
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: t,
		lastUsed:   t,
		now:        now,
	}
}

// Allow checks if a request is allowed and consumes a token if so
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN checks if n requests are allowed and consumes n tokens if so
func (tb *TokenBucket) AllowN(n int64) bool {
	allowed, _ := tb.take(n)
	return allowed
}

func (tb *TokenBucket) take(n int64) (bool, int64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	tb.lastUsed = tb.now()

	if tb.tokens >= n {
		tb.tokens -= n
		return true, tb.tokens
	}

	return false, tb.tokens
}

// refill adds tokens for every whole second elapsed
func (tb *TokenBucket) refill() {
	now := tb.now()
	seconds := int64(now.Sub(tb.lastRefill) / time.Second)
	if seconds <= 0 {
		return
	}

	tb.tokens += seconds * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	// 남은 소수 초는 다음 리필로 이월
	tb.lastRefill = tb.lastRefill.Add(time.Duration(seconds) * time.Second)
}

// RateLimiter manages rate limits for multiple keys (e.g., player IDs, IP addresses)
type RateLimiter struct {
	mu              sync.RWMutex
	buckets         map[string]*TokenBucket
	capacity        int64
	refillRate      int64
	cleanupInterval time.Duration
	lastCleanup     time.Time
	now             func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewRateLimiter creates a new rate limiter with a background cleanup loop.
// Call Stop to release it.
func NewRateLimiter(capacity, refillRate int64) *RateLimiter {
	rl := newRateLimiter(capacity, refillRate, time.Now)
	go rl.cleanupLoop()
	return rl
}

func newRateLimiter(capacity, refillRate int64, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		buckets:         make(map[string]*TokenBucket),
		capacity:        capacity,
		refillRate:      refillRate,
		cleanupInterval: 10 * time.Minute,
		lastCleanup:     now(),
		now:             now,
		stopChan:        make(chan struct{}),
	}
}

// Allow checks if a request from the given key is allowed
func (rl *RateLimiter) Allow(key string) bool {
	return rl.AllowN(key, 1)
}

// AllowN checks if n requests from the given key are allowed
func (rl *RateLimiter) AllowN(key string, n int64) bool {
	return rl.getBucket(key).AllowN(n)
}

// Take Limiter 구현
func (rl *RateLimiter) Take(_ context.Context, key string) (bool, *RateLimitInfo, error) {
	allowed, remaining := rl.getBucket(key).take(1)
	return allowed, &RateLimitInfo{
		Limit:     int(rl.capacity),
		Remaining: int(remaining),
		ResetTime: rl.now().Add(time.Second),
	}, nil
}

// getBucket gets or creates a token bucket for the given key
func (rl *RateLimiter) getBucket(key string) *TokenBucket {
	rl.mu.RLock()
	bucket, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if exists {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if bucket, exists = rl.buckets[key]; exists {
		return bucket
	}

	bucket = newTokenBucket(rl.capacity, rl.refillRate, rl.now)
	rl.buckets[key] = bucket
	return bucket
}

// cleanupLoop periodically removes inactive buckets to prevent memory leaks
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopChan:
			return
		}
	}
}

// cleanup removes buckets that haven't been used for a full interval
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, bucket := range rl.buckets {
		bucket.mu.Lock()
		if now.Sub(bucket.lastUsed) > rl.cleanupInterval {
			delete(rl.buckets, key)
		}
		bucket.mu.Unlock()
	}

	rl.lastCleanup = now
}

// Stop cleanup 루프 종료
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

// Reset resets the rate limit for a given key
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

// GetStats returns statistics about the rate limiter
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return map[string]interface{}{
		"active_buckets": len(rl.buckets),
		"capacity":       rl.capacity,
		"refill_rate":    rl.refillRate,
		"last_cleanup":   rl.lastCleanup,
	}
}
