package service

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/distributed"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/metrics"
)

// flakyRecorder 처음 failures번은 실패한다
type flakyRecorder struct {
	failures atomic.Int32
	inner    GameRecorder
}

func (r *flakyRecorder) RecordGameCreated(ctx context.Context, gameID string) (bool, error) {
	if r.failures.Add(-1) >= 0 {
		return false, errStatsDown
	}
	return r.inner.RecordGameCreated(ctx, gameID)
}

func matchCreated(roomID string) models.MatchCreated {
	return models.MatchCreated{
		Domain:    "global",
		RoomID:    roomID,
		GameMode:  models.GameModeBlitz,
		Caller:    models.QueueEntry{PlayerID: "Y"},
		Opponent:  models.QueueEntry{PlayerID: "X"},
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDirectTelemetry_RecordsGame(t *testing.T) {
	stats, _ := newTestStatsService()
	telemetry := NewDirectTelemetry(stats, nil, nil)

	telemetry.OnMatchCreated(matchCreated("room-1"))
	telemetry.OnMatchCreated(matchCreated("room-1"))
	telemetry.Flush()

	count, err := stats.Games24h(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDirectTelemetry_FailureIsLoggedAndCounted(t *testing.T) {
	registry := prometheus.NewRegistry()
	core, logs := observer.New(zap.WarnLevel)

	telemetry := NewDirectTelemetry(failingRecorder{}, metrics.NewMetrics(registry), zap.New(core))
	telemetry.OnMatchCreated(matchCreated("room-1"))
	telemetry.Flush()

	assert.Equal(t, 1, logs.FilterMessage("Failed to record game creation").Len())

	count, err := testutil.GatherAndCount(registry, "matchmaker_telemetry_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func setupOutbox(t *testing.T, recorder GameRecorder, maxRetries int) (*OutboxTelemetry, *distributed.RedisQueue) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	queue := distributed.NewRedisQueue(client, "telemetry", 0)
	outbox := NewOutboxTelemetry(queue, recorder, nil, OutboxTelemetryConfig{
		MaxRetries:   maxRetries,
		PollInterval: 10 * time.Millisecond,
	}, nil)
	return outbox, queue
}

func TestOutboxTelemetry_EnqueueAndProcess(t *testing.T) {
	stats, _ := newTestStatsService()
	outbox, queue := setupOutbox(t, stats, 3)
	ctx := context.Background()

	outbox.OnMatchCreated(matchCreated("room-1"))
	outbox.OnMatchCreated(matchCreated("room-2"))
	outbox.Flush()

	size, err := queue.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	processed, err := outbox.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	count, err := stats.Games24h(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	queueStats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &distributed.QueueStats{}, queueStats)
}

func TestOutboxTelemetry_RetriesThenSucceeds(t *testing.T) {
	stats, _ := newTestStatsService()
	recorder := &flakyRecorder{inner: stats}
	recorder.failures.Store(1)

	outbox, _ := setupOutbox(t, recorder, 3)
	ctx := context.Background()

	outbox.OnMatchCreated(matchCreated("room-1"))
	outbox.Flush()

	processed, err := outbox.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	processed, err = outbox.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	count, err := stats.Games24h(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOutboxTelemetry_DeadLetterAfterMaxRetries(t *testing.T) {
	outbox, queue := setupOutbox(t, failingRecorder{}, 2)
	ctx := context.Background()

	outbox.OnMatchCreated(matchCreated("room-1"))
	outbox.Flush()

	for i := 0; i < 2; i++ {
		_, err := outbox.ProcessOnce(ctx)
		require.NoError(t, err)
	}

	queueStats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), queueStats.QueueSize)
	assert.Equal(t, int64(1), queueStats.DLQSize)

	dead, err := queue.PeekDLQ(ctx, 1)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "room-1", dead[0].Item.ID)
	assert.Equal(t, "stats backend down", dead[0].Item.LastError)
}

// silentServer 연결은 받지만 응답하지 않는 서버
func silentServer(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	return ln.Addr().String()
}

func TestOutboxTelemetry_EnqueueDoesNotBlockCaller(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: silentServer(t), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	core, logs := observer.New(zap.WarnLevel)
	outbox := NewOutboxTelemetry(distributed.NewRedisQueue(client, "telemetry", 0), failingRecorder{}, nil,
		OutboxTelemetryConfig{EnqueueTimeout: 200 * time.Millisecond}, zap.New(core))

	start := time.Now()
	outbox.OnMatchCreated(matchCreated("room-1"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	outbox.Flush()
	assert.Equal(t, 1, logs.FilterMessage("Failed to enqueue game creation").Len())
}

func TestOutboxTelemetry_WorkerDrainsQueue(t *testing.T) {
	stats, _ := newTestStatsService()
	outbox, _ := setupOutbox(t, stats, 3)

	outbox.Start()
	defer outbox.Stop()

	outbox.OnMatchCreated(matchCreated("room-1"))

	require.Eventually(t, func() bool {
		count, err := stats.Games24h(context.Background())
		return err == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)
}
