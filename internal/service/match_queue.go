package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/elliotchance/pie/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/internal/repository"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/distributed"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/metrics"
)

// QueueStore 도메인 스냅샷 저장소.
// Save는 저장된 버전이 snapshot.Version과 다르면 repository.ErrStaleSnapshot을 반환하고,
// 성공하면 snapshot.Version을 새 버전으로 갱신한다.
type QueueStore interface {
	Load(ctx context.Context, domain string) (*models.QueueSnapshot, error)
	Save(ctx context.Context, snapshot *models.QueueSnapshot) error
}

// DomainLocker 인스턴스 간 도메인 단일 writer 보장.
// 반환된 컨텍스트는 락을 잃으면 취소된다.
// 경합으로 획득하지 못하면 distributed.ErrLockNotAcquired를 반환한다.
type DomainLocker interface {
	Lock(ctx context.Context, domain string) (context.Context, func(), error)
}

// maxCommitAttempts 동시 저장 충돌 시 다시 읽고 재계산하는 최대 횟수
const maxCommitAttempts = 3

// MatchListener 매칭이 저장된 뒤 호출된다. 실패는 매칭 결과에 영향을 주지 않는다.
type MatchListener interface {
	OnMatchCreated(match models.MatchCreated)
}

var (
	errQueueEvicted = errors.New("match queue evicted")
	errStaleState   = errors.New("queue state superseded")
)

// MatchQueueConfig 도메인 큐 설정
type MatchQueueConfig struct {
	Domain      string
	QueueTTL    time.Duration
	PendingTTL  time.Duration
	Store       QueueStore
	Connections *ConnectionBuilder
	Locker      DomainLocker // nil이면 프로세스 내 mutex만 사용
	Listeners   []MatchListener
	Metrics     metrics.QueueMetrics
	Logger      *zap.Logger

	Now       func() time.Time
	CoinFlip  func() bool // true면 호출자가 white
	NewRoomID func() string
}

// queueState 도메인의 대기열과 handoff 우편함
type queueState struct {
	entries []models.QueueEntry
	pending handoffBox
	version int64
}

func stateFromSnapshot(s *models.QueueSnapshot) queueState {
	return queueState{
		entries: append([]models.QueueEntry(nil), s.Entries...),
		pending: newHandoffBox(s.Pending),
		version: s.Version,
	}
}

func (s queueState) clone() queueState {
	return queueState{
		entries: append([]models.QueueEntry(nil), s.entries...),
		pending: s.pending.clone(),
		version: s.version,
	}
}

func (s queueState) snapshot(domain string, now time.Time) *models.QueueSnapshot {
	return &models.QueueSnapshot{
		Domain:    domain,
		Entries:   append([]models.QueueEntry{}, s.entries...),
		Pending:   newHandoffBox(s.pending.pending).pending,
		UpdatedAt: now,
		Version:   s.version,
	}
}

// sweep 만료된 대기열 항목과 PendingMatch 제거
func (s *queueState) sweep(now time.Time) int {
	before := len(s.entries)
	s.entries = pie.Filter(s.entries, func(e models.QueueEntry) bool {
		return !e.Expired(now)
	})
	return before - len(s.entries) + s.pending.sweep(now)
}

func (s *queueState) indexOf(playerID string) int {
	return pie.FindFirstUsing(s.entries, func(e models.QueueEntry) bool {
		return e.PlayerID == playerID
	})
}

func (s *queueState) remove(playerID string) bool {
	idx := s.indexOf(playerID)
	if idx < 0 {
		return false
	}
	s.entries = append(s.entries[:idx:idx], s.entries[idx+1:]...)
	return true
}

func (s queueState) empty() bool {
	return len(s.entries) == 0 && s.pending.len() == 0
}

// MatchQueue 하나의 매칭 도메인을 소유하는 단일 writer.
//
// 모든 연산은 mu를 잡은 채 load → sweep → 작업 사본에서 계산 → 스냅샷 저장 → 메모리 반영
// 순서로 실행된다. 저장에 실패하면 메모리 상태는 바뀌지 않는다.
// 저장은 버전 비교로 보호되며, 다른 writer가 먼저 저장했으면 다시 읽고 계산한다.
// mutate는 재시도될 수 있으므로 클로저 밖의 값은 덮어쓰기만 한다.
type MatchQueue struct {
	mu sync.Mutex

	domain      string
	queueTTL    time.Duration
	pendingTTL  time.Duration
	store       QueueStore
	connections *ConnectionBuilder
	locker      DomainLocker
	listeners   []MatchListener
	metrics     metrics.QueueMetrics
	logger      *zap.Logger

	now       func() time.Time
	coinFlip  func() bool
	newRoomID func() string

	loaded   bool
	evicted  bool
	state    queueState
	lastUsed time.Time
}

// NewMatchQueue 도메인 큐 생성. 상태는 첫 연산에서 저장소로부터 읽는다.
func NewMatchQueue(cfg MatchQueueConfig) *MatchQueue {
	if cfg.QueueTTL <= 0 {
		cfg.QueueTTL = 60 * time.Second
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 60 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CoinFlip == nil {
		cfg.CoinFlip = func() bool { return rand.Intn(2) == 0 }
	}
	if cfg.NewRoomID == nil {
		cfg.NewRoomID = uuid.NewString
	}

	return &MatchQueue{
		domain:      cfg.Domain,
		queueTTL:    cfg.QueueTTL,
		pendingTTL:  cfg.PendingTTL,
		store:       cfg.Store,
		connections: cfg.Connections,
		locker:      cfg.Locker,
		listeners:   cfg.Listeners,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With(zap.String("domain", cfg.Domain)),
		now:         cfg.Now,
		coinFlip:    cfg.CoinFlip,
		newRoomID:   cfg.NewRoomID,
		state:       queueState{pending: newHandoffBox(nil)},
	}
}

// Domain 도메인 이름
func (q *MatchQueue) Domain() string {
	return q.domain
}

// Join 큐 참가. 받을 PendingMatch가 있으면 큐를 건드리지 않고 즉시 전달한다.
func (q *MatchQueue) Join(ctx context.Context, req models.JoinRequest) (models.Outcome, error) {
	if err := validateJoinRequest(req); err != nil {
		return nil, err
	}

	var outcome models.Outcome
	var created []models.MatchCreated

	err := q.run(ctx, func(w *queueState, now time.Time) (bool, error) {
		created = nil
		if p, ok := w.pending.take(req.PlayerID, now); ok {
			outcome = models.MatchedFromPending(p)
			return true, nil
		}

		// 잘못된 origin을 가진 항목이 대기열에 남아 상대의 매칭을 막지 않도록 먼저 검사
		if err := q.checkOrigin(req); err != nil {
			return false, err
		}

		// 같은 플레이어의 이전 항목은 교체
		w.remove(req.PlayerID)
		entry := q.newEntry(req, now)

		if idx := q.findOpponent(w, entry, now); idx >= 0 {
			opponent := w.entries[idx]
			matched, err := q.pair(w, entry, opponent, now)
			if err != nil {
				return false, err
			}
			outcome = matched.caller
			created = []models.MatchCreated{matched.created}
			return true, nil
		}

		w.entries = append(w.entries, entry)
		outcome = models.Waiting{
			QueuePosition: len(w.entries),
			EstimatedWait: q.queueTTL,
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	q.notify(created)
	return outcome, nil
}

// Poll 상태 조회. 대기 중이면 넓어진 범위로 매칭을 다시 시도한다.
func (q *MatchQueue) Poll(ctx context.Context, playerID string) (models.Outcome, error) {
	if strings.TrimSpace(playerID) == "" {
		return nil, fmt.Errorf("%w: playerId is required", ErrInvalidInput)
	}

	var outcome models.Outcome
	var created []models.MatchCreated

	err := q.run(ctx, func(w *queueState, now time.Time) (bool, error) {
		created = nil
		if p, ok := w.pending.take(playerID, now); ok {
			outcome = models.MatchedFromPending(p)
			return true, nil
		}

		idx := w.indexOf(playerID)
		if idx < 0 {
			outcome = models.NotInQueue{}
			return false, nil
		}

		self := w.entries[idx]
		if opp := q.findOpponent(w, self, now); opp >= 0 {
			opponent := w.entries[opp]
			w.remove(self.PlayerID)
			matched, err := q.pair(w, self, opponent, now)
			if err != nil {
				return false, err
			}
			outcome = matched.caller
			created = []models.MatchCreated{matched.created}
			return true, nil
		}

		// findOpponent가 갱신한 범위
		self = w.entries[idx]
		outcome = models.Queued{
			QueuePosition: idx + 1,
			TotalInQueue:  len(w.entries),
			WaitTime:      nonNegative(now.Sub(self.JoinedAt)),
			RatingRange:   models.RatingRange{Min: self.MinRating, Max: self.MaxRating},
			ExpiresIn:     nonNegative(self.ExpiresAt.Sub(now)),
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	q.notify(created)
	return outcome, nil
}

// Leave 큐에서 제거 (멱등)
func (q *MatchQueue) Leave(ctx context.Context, playerID string) error {
	if strings.TrimSpace(playerID) == "" {
		return fmt.Errorf("%w: playerId is required", ErrInvalidInput)
	}

	return q.run(ctx, func(w *queueState, _ time.Time) (bool, error) {
		return w.remove(playerID), nil
	})
}

// Info 진단용 큐 스냅샷
func (q *MatchQueue) Info(ctx context.Context) (*models.QueueInfo, error) {
	info := &models.QueueInfo{Domain: q.domain}

	err := q.run(ctx, func(w *queueState, now time.Time) (bool, error) {
		info.QueueSize = len(w.entries)
		info.Players = make([]models.QueuedPlayer, 0, len(w.entries))
		for _, e := range w.entries {
			info.Players = append(info.Players, models.QueuedPlayer{
				GameMode:  e.GameMode,
				Rating:    e.Rating,
				WaitTime:  nonNegative(now.Sub(e.JoinedAt)),
				ExpiresIn: nonNegative(e.ExpiresAt.Sub(now)),
			})
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Sweep 만료 항목만 정리 (janitor용). 사용 시각은 갱신하지 않는다.
func (q *MatchQueue) Sweep(ctx context.Context) error {
	return q.exec(ctx, false, func(*queueState, time.Time) (bool, error) {
		return false, nil
	})
}

// tryEvict 비어 있고 idle 이상 사용되지 않았으면 메모리에서 내린다
func (q *MatchQueue) tryEvict(now time.Time, idle time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.evicted {
		return true
	}
	if !q.state.empty() || now.Sub(q.lastUsed) < idle {
		return false
	}
	q.evicted = true
	return true
}

// run 도메인 단일 writer 구간에서 mutate를 실행하고 결과를 저장한 뒤 반영한다
func (q *MatchQueue) run(ctx context.Context, mutate func(w *queueState, now time.Time) (bool, error)) error {
	return q.exec(ctx, true, mutate)
}

func (q *MatchQueue) exec(ctx context.Context, touch bool, mutate func(w *queueState, now time.Time) (bool, error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.evicted {
		return errQueueEvicted
	}

	for attempt := 1; ; attempt++ {
		err := q.attempt(ctx, touch, mutate)
		if !errors.Is(err, errStaleState) {
			return err
		}

		// 다른 writer가 먼저 저장했거나 락을 잃었다. 다시 읽고 계산한다.
		q.loaded = false
		if attempt >= maxCommitAttempts {
			q.metrics.IncDomainBusy(q.domain)
			return fmt.Errorf("%w: %s", ErrDomainBusy, q.domain)
		}
		q.logger.Warn("Queue state changed concurrently, retrying",
			zap.Int("attempt", attempt))
	}
}

// attempt load → sweep → mutate → save 한 번. 저장 경합이면 errStaleState.
func (q *MatchQueue) attempt(ctx context.Context, touch bool, mutate func(w *queueState, now time.Time) (bool, error)) error {
	opCtx := ctx
	if q.locker != nil {
		lease, unlock, err := q.locker.Lock(ctx, q.domain)
		if errors.Is(err, distributed.ErrLockNotAcquired) {
			q.metrics.IncDomainBusy(q.domain)
			return fmt.Errorf("%w: %s", ErrDomainBusy, q.domain)
		}
		if err != nil {
			return fmt.Errorf("%w: acquire domain lock: %w", ErrStorage, err)
		}
		defer unlock()
		opCtx = lease
		// 다른 인스턴스가 바꿨을 수 있으므로 매번 다시 읽는다
		q.loaded = false
	}

	if !q.loaded {
		snapshot, err := q.store.Load(opCtx, q.domain)
		if err != nil {
			if q.leaseLost(ctx, opCtx) {
				return errStaleState
			}
			q.logger.Error("Failed to load queue state", zap.Error(err))
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
		q.state = stateFromSnapshot(snapshot)
		q.loaded = true
	}

	now := q.now()
	if touch {
		q.lastUsed = now
	}

	working := q.state.clone()
	swept := working.sweep(now)

	mutated, err := mutate(&working, now)
	if err != nil {
		return err
	}

	if swept > 0 || mutated {
		snapshot := working.snapshot(q.domain, now)
		if err := q.store.Save(opCtx, snapshot); err != nil {
			if errors.Is(err, repository.ErrStaleSnapshot) || q.leaseLost(ctx, opCtx) {
				return errStaleState
			}
			q.logger.Error("Failed to save queue state", zap.Error(err))
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
		working.version = snapshot.Version
	}

	q.state = working
	q.metrics.SetQueueSize(q.domain, len(working.entries))
	return nil
}

// leaseLost 호출자 컨텍스트는 살아 있는데 lease만 끝난 경우
func (q *MatchQueue) leaseLost(ctx, lease context.Context) bool {
	return ctx.Err() == nil && lease.Err() != nil
}

// checkOrigin 대기열에 넣기 전에 origin으로 접속 URL을 만들 수 있는지 확인
func (q *MatchQueue) checkOrigin(req models.JoinRequest) error {
	if req.Origin == "" {
		return nil
	}
	_, err := q.connections.WebSocketURL(req.Origin, "pending", ConnectionParams{PlayerID: req.PlayerID})
	return err
}

func (q *MatchQueue) newEntry(req models.JoinRequest, now time.Time) models.QueueEntry {
	joinedAt := req.JoinedAt
	// 클라이언트 시각은 [now-TTL, now] 안에서만 인정
	if joinedAt.IsZero() || joinedAt.After(now) || now.Sub(joinedAt) >= q.queueTTL {
		joinedAt = now
	}

	r := RatingRangeFor(req.Rating, now.Sub(joinedAt))
	return models.QueueEntry{
		PlayerID:      req.PlayerID,
		DisplayName:   req.DisplayName,
		Rating:        req.Rating,
		IsProvisional: req.IsProvisional,
		GameMode:      req.GameMode,
		JoinedAt:      joinedAt,
		MinRating:     r.Min,
		MaxRating:     r.Max,
		ExpiresAt:     joinedAt.Add(q.queueTTL),
		Origin:        req.Origin,
	}
}

// findOpponent 삽입 순서대로 훑어 양방향 조건을 처음 만족하는 후보의 인덱스 (first-fit).
// 훑는 동안 각 항목의 범위를 자신의 대기 시간으로 다시 계산한다.
func (q *MatchQueue) findOpponent(w *queueState, self models.QueueEntry, now time.Time) int {
	selfRange := RatingRangeFor(self.Rating, now.Sub(self.JoinedAt))

	found := -1
	for i := range w.entries {
		c := &w.entries[i]
		r := RatingRangeFor(c.Rating, now.Sub(c.JoinedAt))
		c.MinRating, c.MaxRating = r.Min, r.Max

		if c.PlayerID == self.PlayerID {
			continue
		}
		if found >= 0 || c.GameMode != self.GameMode || c.Expired(now) {
			continue
		}
		if selfRange.Contains(c.Rating) && r.Contains(self.Rating) {
			found = i
		}
	}
	return found
}

type pairing struct {
	caller  models.Matched
	created models.MatchCreated
}

// pair opponent를 대기열에서 빼고 opponent 몫의 PendingMatch를 남긴다.
// URL 생성에 실패하면 w를 건드리지 않는다.
func (q *MatchQueue) pair(w *queueState, caller, opponent models.QueueEntry, now time.Time) (*pairing, error) {
	roomID := q.newRoomID()

	callerColor := models.ColorBlack
	if q.coinFlip() {
		callerColor = models.ColorWhite
	}
	opponentColor := callerColor.Opposite()

	callerToken, err := q.connections.IssueAccessToken(caller.PlayerID, now)
	if err != nil {
		return nil, err
	}
	opponentToken, err := q.connections.IssueAccessToken(opponent.PlayerID, now)
	if err != nil {
		return nil, err
	}

	callerURL, err := q.connections.WebSocketURL(caller.Origin, roomID, ConnectionParams{
		PlayerID:      caller.PlayerID,
		DisplayName:   caller.DisplayName,
		Rating:        caller.Rating,
		IsProvisional: caller.IsProvisional,
		Color:         callerColor,
	})
	if err != nil {
		return nil, err
	}
	opponentURL, err := q.connections.WebSocketURL(opponent.Origin, roomID, ConnectionParams{
		PlayerID:      opponent.PlayerID,
		DisplayName:   opponent.DisplayName,
		Rating:        opponent.Rating,
		IsProvisional: opponent.IsProvisional,
		Color:         opponentColor,
	})
	if err != nil {
		return nil, err
	}

	w.remove(opponent.PlayerID)
	w.pending.put(models.PendingMatch{
		PlayerID:              opponent.PlayerID,
		RoomID:                roomID,
		Color:                 opponentColor,
		OpponentID:            caller.PlayerID,
		OpponentDisplayName:   caller.DisplayName,
		OpponentRating:        caller.Rating,
		OpponentIsProvisional: caller.IsProvisional,
		AccessToken:           opponentToken,
		WebSocketURL:          opponentURL,
		CreatedAt:             now,
		ExpiresAt:             now.Add(q.pendingTTL),
	})

	return &pairing{
		caller: models.Matched{
			RoomID:                roomID,
			Color:                 callerColor,
			OpponentID:            opponent.PlayerID,
			OpponentDisplayName:   opponent.DisplayName,
			OpponentRating:        opponent.Rating,
			OpponentIsProvisional: opponent.IsProvisional,
			AccessToken:           callerToken,
			WebSocketURL:          callerURL,
		},
		created: models.MatchCreated{
			Domain:    q.domain,
			RoomID:    roomID,
			GameMode:  caller.GameMode,
			Caller:    caller,
			Opponent:  opponent,
			WaitTime:  nonNegative(now.Sub(opponent.JoinedAt)),
			CreatedAt: now,
		},
	}, nil
}

// notify 저장이 끝난 매칭에 대한 후처리 (mutex 밖에서 호출)
func (q *MatchQueue) notify(created []models.MatchCreated) {
	for _, m := range created {
		q.logger.Info("Match created",
			zap.String("room_id", m.RoomID),
			zap.String("caller", m.Caller.PlayerID),
			zap.String("opponent", m.Opponent.PlayerID),
			zap.String("game_mode", string(m.GameMode)),
			zap.Duration("wait", m.WaitTime))

		q.metrics.IncMatchesCreated(m.Domain, string(m.GameMode))
		q.metrics.ObserveWaitAtMatch(m.Domain, m.WaitTime)

		for _, l := range q.listeners {
			l.OnMatchCreated(m)
		}
	}
}

func validateJoinRequest(req models.JoinRequest) error {
	switch {
	case strings.TrimSpace(req.PlayerID) == "":
		return fmt.Errorf("%w: playerId is required", ErrInvalidInput)
	case strings.TrimSpace(req.DisplayName) == "":
		return fmt.Errorf("%w: displayName is required", ErrInvalidInput)
	case req.GameMode == "":
		return fmt.Errorf("%w: gameMode is required", ErrInvalidInput)
	case !req.GameMode.Valid():
		return fmt.Errorf("%w: unknown gameMode %q", ErrInvalidInput, req.GameMode)
	case req.Rating < 0:
		return fmt.Errorf("%w: rating must not be negative", ErrInvalidInput)
	}
	return nil
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
