package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultMatchEventChannel = "matchmaking:match_found"

// MatchFoundEvent 매칭 성사 알림. 대기 중이던 플레이어에게 즉시 poll 하도록 알리는 힌트일 뿐
// 매칭 정보 자체는 담지 않는다.
type MatchFoundEvent struct {
	Domain    string    `json:"domain"`
	PlayerID  string    `json:"playerId"`
	RoomID    string    `json:"roomId"`
	Origin    string    `json:"origin,omitempty"` // 발행 인스턴스 ID
	Timestamp time.Time `json:"timestamp"`
}

// MatchEventBus Redis Pub/Sub 기반 인스턴스 간 매칭 이벤트 전달
type MatchEventBus struct {
	client     *redis.Client
	logger     *zap.Logger
	instanceID string
	channel    string

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewMatchEventBus 이벤트 버스 생성
func NewMatchEventBus(client *redis.Client, channel string, logger *zap.Logger) *MatchEventBus {
	if channel == "" {
		channel = DefaultMatchEventChannel
	}
	return &MatchEventBus{
		client:     client,
		logger:     logger,
		instanceID: uuid.New().String(),
		channel:    channel,
		stopChan:   make(chan struct{}),
	}
}

// Start 이벤트 수신 시작. Stop 또는 ctx 취소까지 블록된다.
func (b *MatchEventBus) Start(ctx context.Context, handler func(event MatchFoundEvent)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// 구독 확인
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	b.logger.Info("Match event bus started",
		zap.String("instance_id", b.instanceID),
		zap.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event MatchFoundEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Error("Failed to unmarshal match event", zap.Error(err))
				continue
			}

			b.logger.Debug("Received match event",
				zap.String("domain", event.Domain),
				zap.String("player_id", event.PlayerID))

			handler(event)

		case <-b.stopChan:
			b.logger.Info("Match event bus stopped")
			return nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop 이벤트 수신 중지
func (b *MatchEventBus) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
}

// PublishMatchFound 매칭 성사 이벤트 발행
func (b *MatchEventBus) PublishMatchFound(ctx context.Context, event MatchFoundEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Origin = b.instanceID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
