package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/internal/repository"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/docstore"
)

func newTestMatchmakingService(t *testing.T) (*MatchmakingService, *testClock, *repository.QueueStateRepository) {
	t.Helper()

	store := repository.NewQueueStateRepository(docstore.NewMemoryStore())
	s := NewMatchmakingService(store, newConnectionBuilder(t), MatchmakingConfig{
		DefaultDomain:   "global",
		QueueTTL:        time.Minute,
		PendingTTL:      time.Minute,
		JanitorInterval: 30 * time.Second,
	}, nil)

	clock := newTestClock()
	s.now = clock.Now
	return s, clock, store
}

func TestMatchmakingService_DomainsAreIsolated(t *testing.T) {
	s, _, _ := newTestMatchmakingService(t)
	ctx := context.Background()

	_, err := s.Join(ctx, "eu", joinReq("A", 1500))
	require.NoError(t, err)

	outcome, err := s.Join(ctx, "us", joinReq("B", 1500))
	require.NoError(t, err)
	assert.IsType(t, models.Waiting{}, outcome)

	outcome, err = s.Join(ctx, "eu", joinReq("C", 1500))
	require.NoError(t, err)
	assert.IsType(t, models.Matched{}, outcome)

	assert.Equal(t, 2, s.LoadedDomains())
}

func TestMatchmakingService_DefaultDomain(t *testing.T) {
	s, _, store := newTestMatchmakingService(t)
	ctx := context.Background()

	_, err := s.Join(ctx, "", joinReq("A", 1500))
	require.NoError(t, err)

	info, err := s.Info(ctx, "global")
	require.NoError(t, err)
	assert.Equal(t, 1, info.QueueSize)

	snapshot, err := store.Load(ctx, "global")
	require.NoError(t, err)
	assert.Len(t, snapshot.Entries, 1)
	assert.Equal(t, "global", s.DefaultDomain())
}

func TestMatchmakingService_InvalidDomain(t *testing.T) {
	s, _, _ := newTestMatchmakingService(t)
	ctx := context.Background()

	for _, domain := range []string{"has space", "../etc", "a:b", string(make([]byte, 65))} {
		_, err := s.Join(ctx, domain, joinReq("A", 1500))
		assert.ErrorIs(t, err, ErrInvalidInput, domain)
	}
	assert.Equal(t, 0, s.LoadedDomains())
}

func TestMatchmakingService_PollAndLeave(t *testing.T) {
	s, _, _ := newTestMatchmakingService(t)
	ctx := context.Background()

	_, err := s.Join(ctx, "global", joinReq("A", 1500))
	require.NoError(t, err)

	outcome, err := s.Poll(ctx, "global", "A")
	require.NoError(t, err)
	assert.IsType(t, models.Queued{}, outcome)

	require.NoError(t, s.Leave(ctx, "global", "A"))

	outcome, err = s.Poll(ctx, "global", "A")
	require.NoError(t, err)
	assert.Equal(t, models.NotInQueue{}, outcome)
}

func TestMatchmakingService_JanitorSweepsAndUnloads(t *testing.T) {
	s, clock, store := newTestMatchmakingService(t)
	ctx := context.Background()

	_, err := s.Join(ctx, "eu", joinReq("A", 1500))
	require.NoError(t, err)
	_, err = s.Join(ctx, "us", joinReq("B", 1500))
	require.NoError(t, err)

	clock.Advance(90 * time.Second)
	_, err = s.Join(ctx, "us", joinReq("C", 3000))
	require.NoError(t, err)

	s.runJanitor(ctx)

	// eu는 만료 정리 후 비어서 내려가고, us는 C가 남아 있다
	assert.Equal(t, 1, s.LoadedDomains())

	snapshot, err := store.Load(ctx, "eu")
	require.NoError(t, err)
	assert.Empty(t, snapshot.Entries)

	// 내려간 도메인도 다음 호출에서 다시 올라온다
	outcome, err := s.Join(ctx, "eu", joinReq("D", 1500))
	require.NoError(t, err)
	assert.IsType(t, models.Waiting{}, outcome)
	assert.Equal(t, 2, s.LoadedDomains())
}

func TestMatchmakingService_RetriesAfterEviction(t *testing.T) {
	s, clock, _ := newTestMatchmakingService(t)
	ctx := context.Background()

	stale, err := s.queue("eu")
	require.NoError(t, err)
	require.True(t, stale.tryEvict(clock.Now(), 0))

	// 레지스트리에 남아 있던 내려간 인스턴스는 버리고 새로 만든다
	outcome, err := s.Join(ctx, "eu", joinReq("A", 1500))
	require.NoError(t, err)
	assert.IsType(t, models.Waiting{}, outcome)

	fresh, err := s.queue("eu")
	require.NoError(t, err)
	assert.NotSame(t, stale, fresh)
}

func TestMatchmakingService_StartStop(t *testing.T) {
	s, _, _ := newTestMatchmakingService(t)
	s.cfg.JanitorInterval = 5 * time.Millisecond

	s.Start()
	s.Start()

	_, err := s.Join(context.Background(), "eu", joinReq("A", 1500))
	require.NoError(t, err)
	require.NoError(t, s.Leave(context.Background(), "eu", "A"))

	s.Stop()
	s.Stop()
}
