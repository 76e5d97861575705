// Package docstore provides a minimal key → JSON document store used for
// durable service state. Each Put replaces the whole document atomically and
// Update performs an optimistic read-modify-write.
package docstore

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("document changed concurrently")
)

// UpdateFunc 현재 문서(없으면 nil)를 받아 새 문서를 돌려준다. 에러를 돌려주면 쓰지 않는다.
type UpdateFunc func(current []byte) ([]byte, error)

// Store 문서 저장소 인터페이스
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, doc []byte) error
	// Update 읽기와 쓰기 사이에 다른 writer가 끼어들면 ErrConflict
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore 프로세스 내 문서 저장소 (개발/테스트용)
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), doc...), nil
}

func (s *MemoryStore) Put(_ context.Context, key string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[key] = append([]byte(nil), doc...)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current []byte
	if doc, ok := s.docs[key]; ok {
		current = append([]byte(nil), doc...)
	}

	doc, err := fn(current)
	if err != nil {
		return err
	}
	s.docs[key] = append([]byte(nil), doc...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, key)
	return nil
}
