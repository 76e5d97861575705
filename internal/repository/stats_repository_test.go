package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/database"
)

func exerciseStatsRepository(t *testing.T, repo StatsRepository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	suffix := uuid.New().String()

	t.Run("연결 기록과 고유 플레이어 수", func(t *testing.T) {
		require.NoError(t, repo.UpsertConnection(ctx, models.PlayerConnection{ConnectionID: "c1-" + suffix, PlayerID: "p1-" + suffix, ConnectedAt: now}))
		require.NoError(t, repo.UpsertConnection(ctx, models.PlayerConnection{ConnectionID: "c2-" + suffix, PlayerID: "p1-" + suffix, ConnectedAt: now}))
		require.NoError(t, repo.UpsertConnection(ctx, models.PlayerConnection{ConnectionID: "c3-" + suffix, PlayerID: "p2-" + suffix, ConnectedAt: now.Add(-10 * time.Minute)}))

		count, err := repo.CountDistinctPlayers(ctx, now.Add(-5*time.Minute))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, 1)

		pruned, err := repo.PruneConnections(ctx, now.Add(-5*time.Minute))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pruned, int64(1))

		require.NoError(t, repo.DeleteConnection(ctx, "c1-"+suffix))
		require.NoError(t, repo.DeleteConnection(ctx, "c2-"+suffix))
		require.NoError(t, repo.DeleteConnection(ctx, "missing-"+suffix))
	})

	t.Run("게임 기록은 game_id 기준 멱등", func(t *testing.T) {
		before, err := repo.CountGames(ctx, now.Add(-24*time.Hour))
		require.NoError(t, err)

		inserted, err := repo.InsertGame(ctx, models.GameRecord{GameID: "g-" + suffix, CreatedAt: now})
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = repo.InsertGame(ctx, models.GameRecord{GameID: "g-" + suffix, CreatedAt: now})
		require.NoError(t, err)
		assert.False(t, inserted)

		after, err := repo.CountGames(ctx, now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, before+1, after)
	})

	t.Run("오래된 게임 정리", func(t *testing.T) {
		_, err := repo.InsertGame(ctx, models.GameRecord{GameID: "old-" + suffix, CreatedAt: now.Add(-72 * time.Hour)})
		require.NoError(t, err)

		pruned, err := repo.PruneGames(ctx, now.Add(-48*time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pruned, int64(1))

		// 정리 후 다시 넣을 수 있다
		inserted, err := repo.InsertGame(ctx, models.GameRecord{GameID: "old-" + suffix, CreatedAt: now})
		require.NoError(t, err)
		assert.True(t, inserted)
	})
}

func TestMemoryStatsRepository(t *testing.T) {
	exerciseStatsRepository(t, NewMemoryStatsRepository())
}

func TestMemoryStatsRepository_DistinctPlayers(t *testing.T) {
	repo := NewMemoryStatsRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.UpsertConnection(ctx, models.PlayerConnection{ConnectionID: "a", PlayerID: "p1", ConnectedAt: now}))
	require.NoError(t, repo.UpsertConnection(ctx, models.PlayerConnection{ConnectionID: "b", PlayerID: "p1", ConnectedAt: now}))
	require.NoError(t, repo.UpsertConnection(ctx, models.PlayerConnection{ConnectionID: "c", PlayerID: "p2", ConnectedAt: now}))

	count, err := repo.CountDistinctPlayers(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// 같은 연결 ID 재기록은 갱신
	require.NoError(t, repo.UpsertConnection(ctx, models.PlayerConnection{ConnectionID: "c", PlayerID: "p1", ConnectedAt: now}))
	count, err = repo.CountDistinctPlayers(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPostgresStatsRepository(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := database.Connect(url)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.EnsureSchema(context.Background()))

	exerciseStatsRepository(t, NewPostgresStatsRepository(db))
}
