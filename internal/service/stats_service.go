package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/internal/repository"
)

const (
	// 이 시간보다 오래된 연결은 끊긴 것으로 본다
	ConnectionStaleAfter = 5 * time.Minute
	GamesWindow          = 24 * time.Hour
	GamesRetention       = 48 * time.Hour
)

// StatsService 온라인 플레이어 수와 최근 게임 수 집계
type StatsService struct {
	repo   repository.StatsRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewStatsService(repo repository.StatsRepository, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// RecordConnect 연결 기록. 같은 connectionId로 다시 호출하면 heartbeat로 갱신된다.
func (s *StatsService) RecordConnect(ctx context.Context, playerID, connectionID string) error {
	if strings.TrimSpace(playerID) == "" || strings.TrimSpace(connectionID) == "" {
		return fmt.Errorf("%w: playerId and connectionId are required", ErrInvalidInput)
	}

	err := s.repo.UpsertConnection(ctx, models.PlayerConnection{
		ConnectionID: connectionID,
		PlayerID:     playerID,
		ConnectedAt:  s.now(),
	})
	if err != nil {
		return fmt.Errorf("%w: record connect: %w", ErrStorage, err)
	}
	return nil
}

// RecordDisconnect 연결 제거 (멱등)
func (s *StatsService) RecordDisconnect(ctx context.Context, connectionID string) error {
	if strings.TrimSpace(connectionID) == "" {
		return fmt.Errorf("%w: connectionId is required", ErrInvalidInput)
	}

	if err := s.repo.DeleteConnection(ctx, connectionID); err != nil {
		return fmt.Errorf("%w: record disconnect: %w", ErrStorage, err)
	}
	return nil
}

// RecordGameCreated 게임 생성 기록. 처음 기록된 id면 true
func (s *StatsService) RecordGameCreated(ctx context.Context, gameID string) (bool, error) {
	if strings.TrimSpace(gameID) == "" {
		return false, fmt.Errorf("%w: gameId is required", ErrInvalidInput)
	}

	created, err := s.repo.InsertGame(ctx, models.GameRecord{
		GameID:    gameID,
		CreatedAt: s.now(),
	})
	if err != nil {
		return false, fmt.Errorf("%w: record game: %w", ErrStorage, err)
	}
	return created, nil
}

// OnlinePlayers 오래된 연결을 정리한 뒤 고유 플레이어 수
func (s *StatsService) OnlinePlayers(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-ConnectionStaleAfter)

	pruned, err := s.repo.PruneConnections(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: prune connections: %w", ErrStorage, err)
	}
	if pruned > 0 {
		s.logger.Debug("Pruned stale connections", zap.Int64("count", pruned))
	}

	count, err := s.repo.CountDistinctPlayers(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: count players: %w", ErrStorage, err)
	}
	return count, nil
}

// Games24h 최근 24시간 게임 수 (48시간보다 오래된 행은 정리)
func (s *StatsService) Games24h(ctx context.Context) (int, error) {
	now := s.now()

	if _, err := s.repo.PruneGames(ctx, now.Add(-GamesRetention)); err != nil {
		return 0, fmt.Errorf("%w: prune games: %w", ErrStorage, err)
	}

	count, err := s.repo.CountGames(ctx, now.Add(-GamesWindow))
	if err != nil {
		return 0, fmt.Errorf("%w: count games: %w", ErrStorage, err)
	}
	return count, nil
}
