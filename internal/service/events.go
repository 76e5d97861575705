package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/distributed"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/metrics"
)

// MatchEventPublisher match_found 힌트 발행 (Redis 이벤트 버스 또는 프로세스 내 hub)
type MatchEventPublisher interface {
	PublishMatchFound(ctx context.Context, event distributed.MatchFoundEvent) error
}

// MatchEventNotifier 매칭을 직접 발견하지 못한 쪽에게 즉시 poll 하라는 힌트를 보낸다.
// 힌트에는 PendingMatch를 담지 않으므로 전달은 여전히 poll/join 한 번으로만 이뤄진다.
type MatchEventNotifier struct {
	publisher MatchEventPublisher
	metrics   metrics.QueueMetrics
	logger    *zap.Logger
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewMatchEventNotifier(publisher MatchEventPublisher, m metrics.QueueMetrics, logger *zap.Logger) *MatchEventNotifier {
	if m == nil {
		m = metrics.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchEventNotifier{
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		timeout:   2 * time.Second,
	}
}

// OnMatchCreated MatchListener 구현. 발행은 goroutine에서 한다.
func (n *MatchEventNotifier) OnMatchCreated(match models.MatchCreated) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.publish(match)
	}()
}

// Flush 진행 중인 발행이 끝날 때까지 대기
func (n *MatchEventNotifier) Flush() {
	n.wg.Wait()
}

func (n *MatchEventNotifier) publish(match models.MatchCreated) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	err := n.publisher.PublishMatchFound(ctx, distributed.MatchFoundEvent{
		Domain:    match.Domain,
		PlayerID:  match.Opponent.PlayerID,
		RoomID:    match.RoomID,
		Timestamp: match.CreatedAt,
	})
	if err != nil {
		n.metrics.IncTelemetryFailure("match_found")
		n.logger.Warn("Failed to publish match found event",
			zap.String("room_id", match.RoomID),
			zap.String("player_id", match.Opponent.PlayerID),
			zap.Error(err))
	}
}
