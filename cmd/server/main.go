package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/rl-arena/rl-arena-matchmaker/internal/api"
	"github.com/rl-arena/rl-arena-matchmaker/internal/api/handlers"
	"github.com/rl-arena/rl-arena-matchmaker/internal/config"
	"github.com/rl-arena/rl-arena-matchmaker/internal/repository"
	"github.com/rl-arena/rl-arena-matchmaker/internal/service"
	"github.com/rl-arena/rl-arena-matchmaker/internal/websocket"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/database"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/distributed"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/docstore"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/logger"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/metrics"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/ratelimit"
)

func main() {
	// 설정 로드
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 로거 초기화
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting RL-Arena Matchmaker",
		"port", cfg.Port,
		"env", cfg.Env,
		"stateBackend", cfg.StateBackend,
		"statsBackend", cfg.StatsBackend,
		"telemetry", cfg.TelemetryMode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Prometheus
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	queueMetrics := metrics.NewMetrics(registry)

	// 데이터베이스 연결 (Postgres 백엔드를 쓸 때만)
	var db *database.DB
	if cfg.StateBackend == config.BackendPostgres || cfg.StatsBackend == config.BackendPostgres {
		db, err = database.Connect(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", "error", err)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to apply schema", "error", err)
		}
		logger.Info("Database connection established")
	}

	// Redis 연결
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Invalid REDIS_URL", "error", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Fatal("Failed to connect to Redis", "error", err)
		}
		logger.Info("Redis connection established")
	}

	// 큐 상태 저장소
	var store docstore.Store
	switch cfg.StateBackend {
	case config.BackendRedis:
		store = docstore.NewRedisStore(redisClient, "matchmaking:queue:")
	case config.BackendPostgres:
		store = docstore.NewPostgresStore(db)
	default:
		store = docstore.NewMemoryStore()
	}

	// 통계 저장소
	var statsRepo repository.StatsRepository
	if cfg.StatsBackend == config.BackendPostgres {
		statsRepo = repository.NewPostgresStatsRepository(db)
	} else {
		statsRepo = repository.NewMemoryStatsRepository()
	}
	statsService := service.NewStatsService(statsRepo, logger.Named("stats"))

	connections, err := service.NewConnectionBuilder(cfg.PublicOrigin, cfg.AccessTokenTTL)
	if err != nil {
		logger.Fatal("Invalid PUBLIC_ORIGIN", "error", err)
	}

	matchmakingService := service.NewMatchmakingService(
		repository.NewQueueStateRepository(store),
		connections,
		service.MatchmakingConfig{
			DefaultDomain:   cfg.DefaultDomain,
			QueueTTL:        cfg.QueueTTL,
			PendingTTL:      cfg.PendingMatchTTL,
			JanitorInterval: cfg.JanitorInterval,
		},
		logger.Named("matchmaking"),
	)
	matchmakingService.SetMetrics(queueMetrics)

	if cfg.DistributedLock {
		locker := distributed.NewDomainLocker(redisClient, distributed.DomainLockerOptions{})
		matchmakingService.SetLocker(locker)
		logger.Info("Distributed domain lock enabled", "instanceId", locker.InstanceID())
	}

	// 게임 생성 텔레메트리
	switch cfg.TelemetryMode {
	case config.TelemetryRedis:
		outbox := service.NewOutboxTelemetry(
			distributed.NewRedisQueue(redisClient, "telemetry", 0),
			statsService,
			queueMetrics,
			service.OutboxTelemetryConfig{MaxRetries: cfg.TelemetryMaxRetry},
			logger.Named("telemetry"),
		)
		outbox.Start()
		defer outbox.Stop()
		matchmakingService.AddListener(outbox)
	default:
		direct := service.NewDirectTelemetry(statsService, queueMetrics, logger.Named("telemetry"))
		defer direct.Flush()
		matchmakingService.AddListener(direct)
	}

	// WebSocket Hub 초기화 및 시작
	hub := websocket.NewHub(statsService, cfg.CORSAllowedOrigins, logger.Named("websocket"))
	go hub.Run(ctx)

	// match_found 힌트: Redis가 있으면 인스턴스 간 pub/sub, 없으면 프로세스 내 전달
	var publisher service.MatchEventPublisher = hub
	if redisClient != nil {
		bus := distributed.NewMatchEventBus(redisClient, "", logger.Named("events"))
		go func() {
			if err := bus.Start(ctx, hub.DeliverMatchFound); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Match event bus stopped", "error", err)
			}
		}()
		defer bus.Stop()
		publisher = bus
	}
	notifier := service.NewMatchEventNotifier(publisher, queueMetrics, logger.Named("events"))
	defer notifier.Flush()
	matchmakingService.AddListener(notifier)

	matchmakingService.Start()
	defer matchmakingService.Stop()

	// Rate limiter
	var limiter ratelimit.Limiter
	var health handlers.Pinger
	if redisClient != nil {
		redisLimiter := ratelimit.NewRedisRateLimiter(redisClient, ratelimit.RedisRateLimiterConfig{
			KeyPrefix:    "ratelimit:queue:",
			DefaultLimit: int(cfg.RateLimitCapacity),
			DefaultTTL:   time.Duration(cfg.RateLimitCapacity/max(cfg.RateLimitRefill, 1)) * time.Second,
		})
		limiter = redisLimiter
		health = redisLimiter
	} else {
		memLimiter := ratelimit.NewRateLimiter(cfg.RateLimitCapacity, cfg.RateLimitRefill)
		defer memLimiter.Stop()
		limiter = memLimiter
	}

	router := api.SetupRouter(cfg, api.Dependencies{
		Matchmaking: matchmakingService,
		Stats:       statsService,
		Hub:         hub,
		Limiter:     limiter,
		Registry:    registry,
		Health:      health,
	})

	// 서버 설정
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 서버 시작 (고루틴)
	go func() {
		logger.Info("Server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Graceful shutdown 대기
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 10초 타임아웃으로 종료
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// WebSocket 연결 종료
	cancel()

	logger.Info("Server exited")
}
