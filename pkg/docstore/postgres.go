package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rl-arena/rl-arena-matchmaker/pkg/database"
)

// PostgresStore documents 테이블(JSONB) 기반 문서 저장소
type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE key = $1`, key,
	).Scan(&body)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", key, err)
	}
	return body, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, doc []byte) error {
	query := `
		INSERT INTO documents (key, body, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key)
		DO UPDATE SET
			body = EXCLUDED.body,
			updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, key, doc); err != nil {
		return fmt.Errorf("failed to put document %s: %w", key, err)
	}
	return nil
}

// Update 행 잠금(SELECT ... FOR UPDATE) 트랜잭션. 없던 키를 동시에 만들면 ErrConflict.
func (s *PostgresStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin update of %s: %w", key, err)
	}
	defer tx.Rollback()

	var current []byte
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE key = $1 FOR UPDATE`, key,
	).Scan(&current)
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("failed to read document %s: %w", key, err)
	}

	doc, err := fn(current)
	if err != nil {
		return err
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET body = $2, updated_at = NOW() WHERE key = $1`, key, doc)
		if err != nil {
			return fmt.Errorf("failed to update document %s: %w", key, err)
		}
	} else {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO documents (key, body, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO NOTHING
		`, key, doc)
		if err != nil {
			return fmt.Errorf("failed to insert document %s: %w", key, err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %s", ErrConflict, key)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", key, err)
	}
	return nil
}
