package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisQueue(t *testing.T) (*miniredis.Miniredis, *RedisQueue) {
	mr, client := setupRedisClient(t)
	return mr, NewRedisQueue(client, "test_queue", 0)
}

func TestRedisQueue_EnqueueDequeue(t *testing.T) {
	_, queue := setupRedisQueue(t)
	ctx := context.Background()

	item := &QueueItem{
		ID:         uuid.New().String(),
		Kind:       "game_created",
		Payload:    json.RawMessage(`{"gameId":"room-1"}`),
		Priority:   100,
		MaxRetries: 3,
	}
	require.NoError(t, queue.Enqueue(ctx, item))

	size, err := queue.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	dequeued, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, item.ID, dequeued.ID)
	assert.Equal(t, "game_created", dequeued.Kind)
	assert.JSONEq(t, `{"gameId":"room-1"}`, string(dequeued.Payload))

	size, err = queue.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	processingCount, err := queue.ProcessingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), processingCount)
}

func TestRedisQueue_DequeueEmpty(t *testing.T) {
	_, queue := setupRedisQueue(t)

	_, err := queue.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestRedisQueue_EnqueueRequiresID(t *testing.T) {
	_, queue := setupRedisQueue(t)

	assert.Error(t, queue.Enqueue(context.Background(), &QueueItem{Priority: 1}))
}

func TestRedisQueue_Priority(t *testing.T) {
	_, queue := setupRedisQueue(t)
	ctx := context.Background()

	items := []*QueueItem{
		{ID: "item1", Priority: 50, MaxRetries: 3},
		{ID: "item2", Priority: 100, MaxRetries: 3},
		{ID: "item3", Priority: 10, MaxRetries: 3},
		{ID: "item4", Priority: 75, MaxRetries: 3},
	}
	for _, item := range items {
		require.NoError(t, queue.Enqueue(ctx, item))
	}

	for _, expectedID := range []string{"item2", "item4", "item1", "item3"} {
		dequeued, err := queue.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, expectedID, dequeued.ID, "Priority order incorrect")
	}
}

func TestRedisQueue_Complete(t *testing.T) {
	mr, queue := setupRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, &QueueItem{ID: "item", Priority: 100, MaxRetries: 3}))

	dequeued, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, queue.Complete(ctx, dequeued.ID))

	processingCount, err := queue.ProcessingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processingCount)

	// 본문도 함께 제거
	assert.False(t, mr.Exists("queue:test_queue:items"))
}

func TestRedisQueue_Retry(t *testing.T) {
	_, queue := setupRedisQueue(t)
	ctx := context.Background()

	item := &QueueItem{ID: uuid.New().String(), Priority: 100, MaxRetries: 3}
	require.NoError(t, queue.Enqueue(ctx, item))

	dequeued, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, queue.Retry(ctx, dequeued, errors.New("stats unavailable")))

	size, err := queue.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	retried, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, item.ID, retried.ID)
	assert.Equal(t, 1, retried.Retries)
	assert.Equal(t, 90, retried.Priority)
	assert.Equal(t, "stats unavailable", retried.LastError)
}

func TestRedisQueue_MaxRetries_MoveToDLQ(t *testing.T) {
	_, queue := setupRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, &QueueItem{ID: "item", Priority: 100, MaxRetries: 2}))

	dequeued, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, queue.Retry(ctx, dequeued, nil))

	retried, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, retried.Retries)

	// 두 번째 재시도에서 MaxRetries 도달
	require.NoError(t, queue.Retry(ctx, retried, errors.New("boom")))

	stats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.QueueSize)
	assert.Equal(t, int64(0), stats.ProcessingCount)
	assert.Equal(t, int64(1), stats.DLQSize)

	dlqItems, err := queue.PeekDLQ(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dlqItems, 1)
	assert.Equal(t, "max retries exceeded", dlqItems[0].Reason)
	assert.Equal(t, "item", dlqItems[0].Item.ID)
	assert.Equal(t, "boom", dlqItems[0].Item.LastError)

	require.NoError(t, queue.ClearDLQ(ctx))
	dlqSize, err := queue.DLQSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), dlqSize)
}

func TestRedisQueue_RecoverStale(t *testing.T) {
	mr, queue := setupRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, &QueueItem{ID: "stale", Priority: 100, MaxRetries: 3}))
	require.NoError(t, queue.Enqueue(ctx, &QueueItem{ID: "fresh", Priority: 50, MaxRetries: 3}))

	_, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	_, err = queue.Dequeue(ctx)
	require.NoError(t, err)

	// stale 아이템의 시작 시각을 과거로 조정
	old := strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10)
	mr.HSet("queue:test_queue:processing", "stale", old)

	recovered, err := queue.RecoverStale(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	stats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.QueueSize)
	assert.Equal(t, int64(1), stats.ProcessingCount)

	item, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stale", item.ID)
	assert.Equal(t, 1, item.Retries)
}

func TestRedisQueue_MaxSize(t *testing.T) {
	_, client := setupRedisClient(t)
	ctx := context.Background()

	queue := NewRedisQueue(client, "limited_queue", 3)

	for i := 0; i < 3; i++ {
		assert.NoError(t, queue.Enqueue(ctx, &QueueItem{ID: fmt.Sprintf("item%d", i), Priority: 100, MaxRetries: 3}))
	}

	err := queue.Enqueue(ctx, &QueueItem{ID: "item4", Priority: 100, MaxRetries: 3})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func BenchmarkRedisQueue_EnqueueDequeue(b *testing.B) {
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		b.Fatal(err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	queue := NewRedisQueue(client, "bench_queue", 0)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := queue.Enqueue(ctx, &QueueItem{ID: uuid.New().String(), Priority: 100, MaxRetries: 3}); err != nil {
			b.Fatal(err)
		}
		if _, err := queue.Dequeue(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
