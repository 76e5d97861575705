package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/metrics"
)

var domainNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// MatchmakingConfig 도메인 공통 설정
type MatchmakingConfig struct {
	DefaultDomain   string
	QueueTTL        time.Duration
	PendingTTL      time.Duration
	JanitorInterval time.Duration
}

// MatchmakingService 도메인별 MatchQueue 레지스트리와 janitor 루프
type MatchmakingService struct {
	store       QueueStore
	connections *ConnectionBuilder
	locker      DomainLocker
	listeners   []MatchListener
	metrics     metrics.QueueMetrics
	logger      *zap.Logger
	cfg         MatchmakingConfig
	now         func() time.Time

	queuesMu sync.Mutex
	queues   map[string]*MatchQueue

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewMatchmakingService(
	store QueueStore,
	connections *ConnectionBuilder,
	cfg MatchmakingConfig,
	logger *zap.Logger,
) *MatchmakingService {
	if cfg.DefaultDomain == "" {
		cfg.DefaultDomain = "global"
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MatchmakingService{
		store:       store,
		connections: connections,
		metrics:     metrics.Noop{},
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
		queues:      make(map[string]*MatchQueue),
		stopChan:    make(chan struct{}),
	}
}

// SetLocker 분산 도메인 락 사용 (Start 전에 호출)
func (s *MatchmakingService) SetLocker(locker DomainLocker) {
	s.locker = locker
}

// SetMetrics Prometheus 지표 연결
func (s *MatchmakingService) SetMetrics(m metrics.QueueMetrics) {
	s.metrics = m
}

// AddListener 매칭 후처리 등록 (통계, 이벤트 알림 등)
func (s *MatchmakingService) AddListener(l MatchListener) {
	s.listeners = append(s.listeners, l)
}

// DefaultDomain 기본 도메인 이름
func (s *MatchmakingService) DefaultDomain() string {
	return s.cfg.DefaultDomain
}

// Join 도메인 큐 참가
func (s *MatchmakingService) Join(ctx context.Context, domain string, req models.JoinRequest) (models.Outcome, error) {
	var outcome models.Outcome
	err := s.withQueue(domain, func(q *MatchQueue) error {
		var err error
		outcome, err = q.Join(ctx, req)
		return err
	})
	return outcome, err
}

// Poll 매칭 상태 조회
func (s *MatchmakingService) Poll(ctx context.Context, domain, playerID string) (models.Outcome, error) {
	var outcome models.Outcome
	err := s.withQueue(domain, func(q *MatchQueue) error {
		var err error
		outcome, err = q.Poll(ctx, playerID)
		return err
	})
	return outcome, err
}

// Leave 큐 이탈
func (s *MatchmakingService) Leave(ctx context.Context, domain, playerID string) error {
	return s.withQueue(domain, func(q *MatchQueue) error {
		return q.Leave(ctx, playerID)
	})
}

// Info 큐 진단 정보
func (s *MatchmakingService) Info(ctx context.Context, domain string) (*models.QueueInfo, error) {
	var info *models.QueueInfo
	err := s.withQueue(domain, func(q *MatchQueue) error {
		var err error
		info, err = q.Info(ctx)
		return err
	})
	return info, err
}

// withQueue janitor가 큐를 내린 직후라면 새 인스턴스로 다시 시도한다
func (s *MatchmakingService) withQueue(domain string, fn func(q *MatchQueue) error) error {
	for {
		q, err := s.queue(domain)
		if err != nil {
			return err
		}
		if err := fn(q); !errors.Is(err, errQueueEvicted) {
			return err
		}
		s.forget(q)
	}
}

// forget 내려간 인스턴스가 아직 등록되어 있으면 제거
func (s *MatchmakingService) forget(q *MatchQueue) {
	s.queuesMu.Lock()
	defer s.queuesMu.Unlock()

	if s.queues[q.Domain()] == q {
		delete(s.queues, q.Domain())
	}
}

func (s *MatchmakingService) queue(domain string) (*MatchQueue, error) {
	if domain == "" {
		domain = s.cfg.DefaultDomain
	}
	if !domainNamePattern.MatchString(domain) {
		return nil, fmt.Errorf("%w: invalid domain %q", ErrInvalidInput, domain)
	}

	s.queuesMu.Lock()
	defer s.queuesMu.Unlock()

	if q, ok := s.queues[domain]; ok {
		return q, nil
	}

	q := NewMatchQueue(MatchQueueConfig{
		Domain:      domain,
		QueueTTL:    s.cfg.QueueTTL,
		PendingTTL:  s.cfg.PendingTTL,
		Store:       s.store,
		Connections: s.connections,
		Locker:      s.locker,
		Listeners:   s.listeners,
		Metrics:     s.metrics,
		Logger:      s.logger,
		Now:         s.now,
	})
	s.queues[domain] = q

	s.logger.Debug("Match queue loaded", zap.String("domain", domain))
	return q, nil
}

// Start janitor 시작
func (s *MatchmakingService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting MatchmakingService",
		zap.String("default_domain", s.cfg.DefaultDomain),
		zap.Duration("janitor_interval", s.cfg.JanitorInterval))

	s.wg.Add(1)
	go s.janitorLoop()
}

// Stop janitor 중지
func (s *MatchmakingService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping MatchmakingService")
	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("MatchmakingService stopped")
}

func (s *MatchmakingService) janitorLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runJanitor(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

// runJanitor 로드된 도메인의 만료 항목을 정리하고 비어 있는 idle 도메인은 메모리에서 내린다
func (s *MatchmakingService) runJanitor(ctx context.Context) {
	s.queuesMu.Lock()
	queues := make([]*MatchQueue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.queuesMu.Unlock()

	for _, q := range queues {
		if err := q.Sweep(ctx); err != nil && !errors.Is(err, errQueueEvicted) {
			s.logger.Warn("Janitor sweep failed",
				zap.String("domain", q.Domain()),
				zap.Error(err))
		}
	}

	now := s.now()
	s.queuesMu.Lock()
	defer s.queuesMu.Unlock()
	for domain, q := range s.queues {
		if q.tryEvict(now, s.cfg.JanitorInterval) {
			delete(s.queues, domain)
			s.logger.Debug("Match queue unloaded", zap.String("domain", domain))
		}
	}
}

// LoadedDomains 메모리에 올라온 도메인 수
func (s *MatchmakingService) LoadedDomains() int {
	s.queuesMu.Lock()
	defer s.queuesMu.Unlock()
	return len(s.queues)
}
