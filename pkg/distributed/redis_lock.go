package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`)

	extendScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// RedisLock Redis 기반 분산 락
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// RedisLockManager Redis 분산 락 관리자
type RedisLockManager struct {
	client *redis.Client
}

// NewRedisLockManager Redis Lock Manager 생성
func NewRedisLockManager(client *redis.Client) *RedisLockManager {
	return &RedisLockManager{
		client: client,
	}
}

// AcquireLock 분산 락 획득 시도
func (m *RedisLockManager) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (*RedisLock, error) {
	// SET NX 로 원자적 획득
	success, err := m.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, err
	}

	if !success {
		return nil, ErrLockNotAcquired
	}

	return &RedisLock{
		client: m.client,
		key:    key,
		value:  value,
		ttl:    ttl,
	}, nil
}

// TryLockWithRetry 재시도를 통한 락 획득
func (m *RedisLockManager) TryLockWithRetry(
	ctx context.Context,
	key, value string,
	ttl time.Duration,
	maxRetries int,
	retryInterval time.Duration,
) (*RedisLock, error) {
	for i := 0; i < maxRetries; i++ {
		lock, err := m.AcquireLock(ctx, key, value, ttl)
		if err == nil {
			return lock, nil
		}

		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}

		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryInterval):
			}
		}
	}

	return nil, ErrLockNotAcquired
}

// Release 락 해제 (자신이 획득한 락만)
func (l *RedisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}

	if result == 0 {
		return ErrLockNotHeld
	}

	return nil
}

// Extend 락 TTL 연장
func (l *RedisLock) Extend(ctx context.Context, extension time.Duration) error {
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, extension.Milliseconds()).Int()
	if err != nil {
		return err
	}

	if result == 0 {
		return ErrLockNotHeld
	}

	l.ttl = extension
	return nil
}

// IsHeld 락이 현재 유효한지 확인
func (l *RedisLock) IsHeld(ctx context.Context) (bool, error) {
	value, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return value == l.value, nil
}

// DomainLockerOptions 도메인 락 설정
type DomainLockerOptions struct {
	KeyPrefix     string
	TTL           time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// DomainLocker 매칭 도메인별 단일 writer 보장
type DomainLocker struct {
	manager    *RedisLockManager
	instanceID string
	opts       DomainLockerOptions
}

// NewDomainLocker 도메인 락 생성
func NewDomainLocker(client *redis.Client, opts DomainLockerOptions) *DomainLocker {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "matchmaking:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 20
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 25 * time.Millisecond
	}

	return &DomainLocker{
		manager:    NewRedisLockManager(client),
		instanceID: uuid.New().String(),
		opts:       opts,
	}
}

// InstanceID 이 프로세스의 락 소유자 ID
func (d *DomainLocker) InstanceID() string {
	return d.instanceID
}

// Lock 도메인 락 획득. 락을 쥔 동안 TTL/3 간격으로 Extend 한다.
// 반환된 lease 컨텍스트는 연장에 실패하거나 해제되면 취소된다.
// 재시도 후에도 획득하지 못하면 ErrLockNotAcquired.
func (d *DomainLocker) Lock(ctx context.Context, domain string) (context.Context, func(), error) {
	// 같은 인스턴스 안의 호출도 서로 구분되도록 획득마다 고유 값 사용
	value := fmt.Sprintf("%s:%s", d.instanceID, uuid.New().String())

	lock, err := d.manager.TryLockWithRetry(ctx, d.opts.KeyPrefix+domain, value,
		d.opts.TTL, d.opts.MaxRetries, d.opts.RetryInterval)
	if err != nil {
		return nil, nil, err
	}

	lease, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go d.keepAlive(lease, cancel, lock, done)

	var once sync.Once
	return lease, func() {
		once.Do(func() {
			cancel()
			<-done
			// 만료 후 다른 소유자가 잡은 경우 ErrLockNotHeld, 무시한다
			_ = lock.Release(context.Background())
		})
	}, nil
}

func (d *DomainLocker) keepAlive(lease context.Context, cancel context.CancelFunc, lock *RedisLock, done chan<- struct{}) {
	defer close(done)

	interval := d.opts.TTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-lease.Done():
			return
		case <-ticker.C:
			extendCtx, stop := context.WithTimeout(context.Background(), interval)
			err := lock.Extend(extendCtx, d.opts.TTL)
			stop()
			if err != nil {
				// 락을 잃었거나 확인할 수 없으면 lease 종료
				cancel()
				return
			}
		}
	}
}
