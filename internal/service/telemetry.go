package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/distributed"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/metrics"
)

const (
	telemetryKindGameCreated = "game_created"
	defaultTelemetryTimeout  = 5 * time.Second
)

// GameRecorder 게임 생성 이벤트 수신자 (StatsService)
type GameRecorder interface {
	RecordGameCreated(ctx context.Context, gameID string) (bool, error)
}

// DirectTelemetry 매칭마다 goroutine에서 바로 기록한다. 실패는 로그와 지표로만 남긴다.
type DirectTelemetry struct {
	recorder GameRecorder
	metrics  metrics.QueueMetrics
	logger   *zap.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDirectTelemetry(recorder GameRecorder, m metrics.QueueMetrics, logger *zap.Logger) *DirectTelemetry {
	if m == nil {
		m = metrics.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectTelemetry{
		recorder: recorder,
		metrics:  m,
		logger:   logger,
		timeout:  defaultTelemetryTimeout,
	}
}

// OnMatchCreated MatchListener 구현
func (t *DirectTelemetry) OnMatchCreated(match models.MatchCreated) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		if _, err := t.recorder.RecordGameCreated(ctx, match.RoomID); err != nil {
			t.metrics.IncTelemetryFailure(telemetryKindGameCreated)
			t.logger.Warn("Failed to record game creation",
				zap.String("room_id", match.RoomID),
				zap.Error(err))
		}
	}()
}

// Flush 진행 중인 기록이 끝날 때까지 대기 (종료/테스트용)
func (t *DirectTelemetry) Flush() {
	t.wg.Wait()
}

type gameCreatedPayload struct {
	GameID string `json:"gameId"`
	Domain string `json:"domain"`
}

// OutboxTelemetryConfig Redis outbox 설정
type OutboxTelemetryConfig struct {
	MaxRetries     int
	PollInterval   time.Duration
	StaleTimeout   time.Duration
	EnqueueTimeout time.Duration
}

// OutboxTelemetry 게임 생성 이벤트를 Redis 작업 큐에 넣고 worker가 재시도하며 기록한다
type OutboxTelemetry struct {
	queue    *distributed.RedisQueue
	recorder GameRecorder
	metrics  metrics.QueueMetrics
	logger   *zap.Logger
	cfg      OutboxTelemetryConfig

	stopChan chan struct{}
	wg       sync.WaitGroup
	inflight sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewOutboxTelemetry(
	queue *distributed.RedisQueue,
	recorder GameRecorder,
	m metrics.QueueMetrics,
	cfg OutboxTelemetryConfig,
	logger *zap.Logger,
) *OutboxTelemetry {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = time.Minute
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultTelemetryTimeout
	}
	if m == nil {
		m = metrics.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OutboxTelemetry{
		queue:    queue,
		recorder: recorder,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// OnMatchCreated MatchListener 구현. goroutine에서 큐에 넣으며, 실패해도 매칭에는 영향이 없다.
func (t *OutboxTelemetry) OnMatchCreated(match models.MatchCreated) {
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.EnqueueTimeout)
		defer cancel()

		if err := t.enqueue(ctx, match); err != nil {
			t.metrics.IncTelemetryFailure(telemetryKindGameCreated)
			t.logger.Warn("Failed to enqueue game creation",
				zap.String("room_id", match.RoomID),
				zap.Error(err))
		}
	}()
}

// Flush 진행 중인 enqueue가 끝날 때까지 대기
func (t *OutboxTelemetry) Flush() {
	t.inflight.Wait()
}

func (t *OutboxTelemetry) enqueue(ctx context.Context, match models.MatchCreated) error {
	payload, err := json.Marshal(gameCreatedPayload{GameID: match.RoomID, Domain: match.Domain})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	return t.queue.Enqueue(ctx, &distributed.QueueItem{
		ID:         match.RoomID,
		Kind:       telemetryKindGameCreated,
		Payload:    payload,
		Priority:   100,
		MaxRetries: t.cfg.MaxRetries,
	})
}

// Start outbox worker 시작
func (t *OutboxTelemetry) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()

	t.logger.Info("Starting telemetry outbox worker",
		zap.Duration("poll_interval", t.cfg.PollInterval),
		zap.Int("max_retries", t.cfg.MaxRetries))

	t.wg.Add(1)
	go t.workerLoop()
}

// Stop 남은 enqueue를 기다린 뒤 outbox worker 중지
func (t *OutboxTelemetry) Stop() {
	t.Flush()

	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.mu.Unlock()

	close(t.stopChan)
	t.wg.Wait()
	t.logger.Info("Telemetry outbox worker stopped")
}

func (t *OutboxTelemetry) workerLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	recoverTicker := time.NewTicker(t.cfg.StaleTimeout)
	defer recoverTicker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := t.ProcessOnce(context.Background()); err != nil {
				t.logger.Error("Telemetry outbox processing failed", zap.Error(err))
			}
		case <-recoverTicker.C:
			recovered, err := t.queue.RecoverStale(context.Background(), t.cfg.StaleTimeout)
			if err != nil {
				t.logger.Error("Failed to recover stale telemetry items", zap.Error(err))
			} else if recovered > 0 {
				t.logger.Info("Recovered stale telemetry items", zap.Int("count", recovered))
			}
		case <-t.stopChan:
			return
		}
	}
}

// ProcessOnce 호출 시점에 쌓여 있던 아이템까지만 처리하고 성공적으로 기록한 수를 반환.
// 재시도로 다시 들어간 아이템은 다음 주기에 처리된다.
func (t *OutboxTelemetry) ProcessOnce(ctx context.Context) (int, error) {
	pending, err := t.queue.Size(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for ; pending > 0; pending-- {
		item, err := t.queue.Dequeue(ctx)
		if errors.Is(err, distributed.ErrQueueEmpty) {
			return processed, nil
		}
		if err != nil {
			return processed, err
		}

		if err := t.handle(ctx, item); err != nil {
			t.metrics.IncTelemetryFailure(telemetryKindGameCreated)
			t.logger.Warn("Failed to record game creation, will retry",
				zap.String("item_id", item.ID),
				zap.Int("retries", item.Retries),
				zap.Error(err))

			if err := t.queue.Retry(ctx, item, err); err != nil {
				return processed, err
			}
			continue
		}

		if err := t.queue.Complete(ctx, item.ID); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

func (t *OutboxTelemetry) handle(ctx context.Context, item *distributed.QueueItem) error {
	if item.Kind != telemetryKindGameCreated {
		return fmt.Errorf("unknown telemetry kind %q", item.Kind)
	}

	var payload gameCreatedPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	_, err := t.recorder.RecordGameCreated(ctx, payload.GameID)
	return err
}
