package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrQueueEmpty = errors.New("queue is empty")
	ErrQueueFull  = errors.New("queue is full")
)

// QueueItem Redis Queue의 아이템
type QueueItem struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Priority   int             `json:"priority"` // 높을수록 먼저 처리
	Retries    int             `json:"retries"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// DeadLetter DLQ로 이동된 아이템
type DeadLetter struct {
	Item    QueueItem `json:"item"`
	Reason  string    `json:"reason"`
	MovedAt time.Time `json:"moved_at"`
}

// RedisQueue Redis 기반 우선순위 작업 큐
//
// 순서는 Sorted Set(id, score=-priority), 본문은 Hash(id → JSON)에 저장한다.
// 처리 중 아이템은 processing Hash(id → 시작 unix 초)로 추적한다.
type RedisQueue struct {
	client        *redis.Client
	queueKey      string
	itemsKey      string
	processingKey string
	dlqKey        string
	maxSize       int // 0 = 무제한
}

// NewRedisQueue Redis Queue 생성
func NewRedisQueue(client *redis.Client, queueName string, maxSize int) *RedisQueue {
	return &RedisQueue{
		client:        client,
		queueKey:      fmt.Sprintf("queue:%s", queueName),
		itemsKey:      fmt.Sprintf("queue:%s:items", queueName),
		processingKey: fmt.Sprintf("queue:%s:processing", queueName),
		dlqKey:        fmt.Sprintf("queue:%s:dlq", queueName),
		maxSize:       maxSize,
	}
}

var dequeueScript = redis.NewScript(`
	local popped = redis.call('ZPOPMIN', KEYS[1], 1)
	if #popped == 0 then
		return false
	end

	local id = popped[1]
	local body = redis.call('HGET', KEYS[2], id)
	if not body then
		return false
	end

	redis.call('HSET', KEYS[3], id, ARGV[1])
	return body
`)

// Enqueue 큐에 아이템 추가
func (q *RedisQueue) Enqueue(ctx context.Context, item *QueueItem) error {
	if item.ID == "" {
		return fmt.Errorf("queue item id is required")
	}

	if q.maxSize > 0 {
		size, err := q.client.ZCard(ctx, q.queueKey).Result()
		if err != nil {
			return fmt.Errorf("failed to get queue size: %w", err)
		}
		if int(size) >= q.maxSize {
			return ErrQueueFull
		}
	}

	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.itemsKey, item.ID, data)
	pipe.ZAdd(ctx, q.queueKey, redis.Z{Score: float64(-item.Priority), Member: item.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}

	return nil
}

// Dequeue 우선순위가 가장 높은 아이템을 processing으로 옮기고 반환
func (q *RedisQueue) Dequeue(ctx context.Context) (*QueueItem, error) {
	result, err := dequeueScript.Run(ctx, q.client,
		[]string{q.queueKey, q.itemsKey, q.processingKey},
		time.Now().Unix(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	var item QueueItem
	if err := json.Unmarshal([]byte(result), &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}

	return &item, nil
}

// Complete 처리 완료된 아이템 제거
func (q *RedisQueue) Complete(ctx context.Context, itemID string) error {
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.processingKey, itemID)
	pipe.HDel(ctx, q.itemsKey, itemID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to complete item: %w", err)
	}
	return nil
}

// Retry 실패한 아이템 재시도. 최대 재시도 초과 시 DLQ로 이동
func (q *RedisQueue) Retry(ctx context.Context, item *QueueItem, cause error) error {
	item.Retries++
	if cause != nil {
		item.LastError = cause.Error()
	}

	if item.Retries >= item.MaxRetries {
		return q.MoveToDLQ(ctx, item, "max retries exceeded")
	}

	if err := q.client.HDel(ctx, q.processingKey, item.ID).Err(); err != nil {
		return fmt.Errorf("failed to release item: %w", err)
	}

	// 재시도 시 우선순위 낮춤
	item.Priority -= 10
	return q.Enqueue(ctx, item)
}

// MoveToDLQ Dead Letter Queue로 이동
func (q *RedisQueue) MoveToDLQ(ctx context.Context, item *QueueItem, reason string) error {
	data, err := json.Marshal(DeadLetter{
		Item:    *item,
		Reason:  reason,
		MovedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ item: %w", err)
	}

	if err := q.client.LPush(ctx, q.dlqKey, data).Err(); err != nil {
		return fmt.Errorf("failed to move to DLQ: %w", err)
	}

	return q.Complete(ctx, item.ID)
}

// RecoverStale 일정 시간 이상 처리 중인 아이템 복구
func (q *RedisQueue) RecoverStale(ctx context.Context, staleTimeout time.Duration) (int, error) {
	processing, err := q.client.HGetAll(ctx, q.processingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get processing items: %w", err)
	}

	recovered := 0
	now := time.Now().Unix()

	for id, startedAt := range processing {
		ts, err := strconv.ParseInt(startedAt, 10, 64)
		if err != nil || now-ts <= int64(staleTimeout.Seconds()) {
			continue
		}

		body, err := q.client.HGet(ctx, q.itemsKey, id).Result()
		if err != nil {
			continue
		}

		var item QueueItem
		if err := json.Unmarshal([]byte(body), &item); err != nil {
			continue
		}

		if err := q.Retry(ctx, &item, errors.New("processing timed out")); err != nil {
			continue
		}
		recovered++
	}

	return recovered, nil
}

// Size 대기 중 아이템 수
func (q *RedisQueue) Size(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueKey).Result()
}

// ProcessingCount 처리 중 아이템 수
func (q *RedisQueue) ProcessingCount(ctx context.Context) (int64, error) {
	return q.client.HLen(ctx, q.processingKey).Result()
}

// DLQSize DLQ 크기
func (q *RedisQueue) DLQSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.dlqKey).Result()
}

// PeekDLQ DLQ 아이템 확인 (제거하지 않음)
func (q *RedisQueue) PeekDLQ(ctx context.Context, count int64) ([]DeadLetter, error) {
	items, err := q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]DeadLetter, 0, len(items))
	for _, raw := range items {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(raw), &dl); err != nil {
			continue
		}
		result = append(result, dl)
	}

	return result, nil
}

// ClearDLQ DLQ 비우기
func (q *RedisQueue) ClearDLQ(ctx context.Context) error {
	return q.client.Del(ctx, q.dlqKey).Err()
}

// QueueStats 큐 통계
type QueueStats struct {
	QueueSize       int64 `json:"queue_size"`
	ProcessingCount int64 `json:"processing_count"`
	DLQSize         int64 `json:"dlq_size"`
}

// GetStats 큐 통계 조회
func (q *RedisQueue) GetStats(ctx context.Context) (*QueueStats, error) {
	queueSize, err := q.Size(ctx)
	if err != nil {
		return nil, err
	}

	processingCount, err := q.ProcessingCount(ctx)
	if err != nil {
		return nil, err
	}

	dlqSize, err := q.DLQSize(ctx)
	if err != nil {
		return nil, err
	}

	return &QueueStats{
		QueueSize:       queueSize,
		ProcessingCount: processingCount,
		DLQSize:         dlqSize,
	}, nil
}
