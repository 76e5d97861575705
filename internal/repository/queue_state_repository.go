package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/docstore"
)

const queueStateKeyPrefix = "matchmaking:domain:"

// ErrStaleSnapshot 읽은 뒤 다른 writer가 먼저 저장함
var ErrStaleSnapshot = errors.New("queue state changed concurrently")

// QueueStateRepository 도메인 큐 상태를 문서 하나로 저장
type QueueStateRepository struct {
	store docstore.Store
}

func NewQueueStateRepository(store docstore.Store) *QueueStateRepository {
	return &QueueStateRepository{store: store}
}

// Load 저장된 스냅샷 조회. 없으면 빈 스냅샷을 반환한다.
func (r *QueueStateRepository) Load(ctx context.Context, domain string) (*models.QueueSnapshot, error) {
	doc, err := r.store.Get(ctx, queueStateKeyPrefix+domain)
	if errors.Is(err, docstore.ErrNotFound) {
		return &models.QueueSnapshot{
			Domain:  domain,
			Pending: make(map[string]models.PendingMatch),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue state: %w", err)
	}

	var snapshot models.QueueSnapshot
	if err := json.Unmarshal(doc, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode queue state for %s: %w", domain, err)
	}
	snapshot.Domain = domain
	if snapshot.Pending == nil {
		snapshot.Pending = make(map[string]models.PendingMatch)
	}
	return &snapshot, nil
}

// Save 저장된 버전이 snapshot.Version과 같을 때만 덮어쓰고 버전을 올린다
func (r *QueueStateRepository) Save(ctx context.Context, snapshot *models.QueueSnapshot) error {
	next := *snapshot
	next.Version = snapshot.Version + 1

	err := r.store.Update(ctx, queueStateKeyPrefix+snapshot.Domain, func(current []byte) ([]byte, error) {
		if current != nil {
			var stored struct {
				Version int64 `json:"version"`
			}
			if err := json.Unmarshal(current, &stored); err != nil {
				return nil, fmt.Errorf("failed to decode queue state for %s: %w", snapshot.Domain, err)
			}
			if stored.Version != snapshot.Version {
				return nil, fmt.Errorf("%w: %s at version %d, have %d",
					ErrStaleSnapshot, snapshot.Domain, stored.Version, snapshot.Version)
			}
		} else if snapshot.Version != 0 {
			return nil, fmt.Errorf("%w: %s was deleted", ErrStaleSnapshot, snapshot.Domain)
		}

		doc, err := json.Marshal(&next)
		if err != nil {
			return nil, fmt.Errorf("failed to encode queue state: %w", err)
		}
		return doc, nil
	})
	if errors.Is(err, docstore.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrStaleSnapshot, err)
	}
	if err != nil {
		return fmt.Errorf("failed to save queue state: %w", err)
	}

	snapshot.Version = next.Version
	return nil
}

func (r *QueueStateRepository) Delete(ctx context.Context, domain string) error {
	if err := r.store.Delete(ctx, queueStateKeyPrefix+domain); err != nil {
		return fmt.Errorf("failed to delete queue state: %w", err)
	}
	return nil
}
