package repository

import (
	"context"
	"sync"
	"time"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
)

// StatsRepository 연결/게임 이력 테이블. 모든 쓰기는 행 단위 멱등 연산이다.
type StatsRepository interface {
	UpsertConnection(ctx context.Context, conn models.PlayerConnection) error
	DeleteConnection(ctx context.Context, connectionID string) error
	PruneConnections(ctx context.Context, before time.Time) (int64, error)
	CountDistinctPlayers(ctx context.Context, since time.Time) (int, error)

	// InsertGame 이미 있으면 false
	InsertGame(ctx context.Context, game models.GameRecord) (bool, error)
	PruneGames(ctx context.Context, before time.Time) (int64, error)
	CountGames(ctx context.Context, since time.Time) (int, error)
}

// MemoryStatsRepository 프로세스 내 구현 (단일 인스턴스/테스트용)
type MemoryStatsRepository struct {
	mu          sync.Mutex
	connections map[string]models.PlayerConnection
	games       map[string]models.GameRecord
}

func NewMemoryStatsRepository() *MemoryStatsRepository {
	return &MemoryStatsRepository{
		connections: make(map[string]models.PlayerConnection),
		games:       make(map[string]models.GameRecord),
	}
}

func (r *MemoryStatsRepository) UpsertConnection(_ context.Context, conn models.PlayerConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.ConnectionID] = conn
	return nil
}

func (r *MemoryStatsRepository) DeleteConnection(_ context.Context, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.connections, connectionID)
	return nil
}

func (r *MemoryStatsRepository) PruneConnections(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pruned int64
	for id, conn := range r.connections {
		if conn.ConnectedAt.Before(before) {
			delete(r.connections, id)
			pruned++
		}
	}
	return pruned, nil
}

func (r *MemoryStatsRepository) CountDistinctPlayers(_ context.Context, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	players := make(map[string]struct{})
	for _, conn := range r.connections {
		if !conn.ConnectedAt.Before(since) {
			players[conn.PlayerID] = struct{}{}
		}
	}
	return len(players), nil
}

func (r *MemoryStatsRepository) InsertGame(_ context.Context, game models.GameRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.games[game.GameID]; exists {
		return false, nil
	}
	r.games[game.GameID] = game
	return true, nil
}

func (r *MemoryStatsRepository) PruneGames(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pruned int64
	for id, game := range r.games {
		if game.CreatedAt.Before(before) {
			delete(r.games, id)
			pruned++
		}
	}
	return pruned, nil
}

func (r *MemoryStatsRepository) CountGames(_ context.Context, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, game := range r.games {
		if !game.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}
