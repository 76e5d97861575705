package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/database"
)

// PostgresStatsRepository player_connections / game_history 테이블 (lib/pq)
type PostgresStatsRepository struct {
	db *database.DB
}

func NewPostgresStatsRepository(db *database.DB) *PostgresStatsRepository {
	return &PostgresStatsRepository{db: db}
}

// UpsertConnection 연결 기록 (재기록 시 타임스탬프 갱신)
func (r *PostgresStatsRepository) UpsertConnection(ctx context.Context, conn models.PlayerConnection) error {
	query := `
		INSERT INTO player_connections (connection_id, player_id, connected_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (connection_id)
		DO UPDATE SET
			player_id = EXCLUDED.player_id,
			connected_at = EXCLUDED.connected_at
	`
	_, err := r.db.ExecContext(ctx, query, conn.ConnectionID, conn.PlayerID, conn.ConnectedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return nil
}

func (r *PostgresStatsRepository) DeleteConnection(ctx context.Context, connectionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM player_connections WHERE connection_id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}

func (r *PostgresStatsRepository) PruneConnections(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM player_connections WHERE connected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune connections: %w", err)
	}
	return result.RowsAffected()
}

func (r *PostgresStatsRepository) CountDistinctPlayers(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT player_id) FROM player_connections WHERE connected_at >= $1`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count online players: %w", err)
	}
	return count, nil
}

// InsertGame game_id 기준 insert-if-absent
func (r *PostgresStatsRepository) InsertGame(ctx context.Context, game models.GameRecord) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO game_history (game_id, created_at)
		VALUES ($1, $2)
		ON CONFLICT (game_id) DO NOTHING
	`, game.GameID, game.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert game: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return rows == 1, nil
}

func (r *PostgresStatsRepository) PruneGames(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM game_history WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune games: %w", err)
	}
	return result.RowsAffected()
}

func (r *PostgresStatsRepository) CountGames(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM game_history WHERE created_at >= $1`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count games: %w", err)
	}
	return count, nil
}
