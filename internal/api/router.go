package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl-arena/rl-arena-matchmaker/internal/api/handlers"
	"github.com/rl-arena/rl-arena-matchmaker/internal/api/middleware"
	"github.com/rl-arena/rl-arena-matchmaker/internal/config"
	"github.com/rl-arena/rl-arena-matchmaker/internal/service"
	"github.com/rl-arena/rl-arena-matchmaker/internal/websocket"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/ratelimit"
)

// Dependencies main에서 조립한 컴포넌트
type Dependencies struct {
	Matchmaking *service.MatchmakingService
	Stats       *service.StatsService
	Hub         *websocket.Hub
	Limiter     ratelimit.Limiter // nil이면 rate limit 없음
	Registry    *prometheus.Registry
	Health      handlers.Pinger // nil이면 /health는 프로세스 생존만 확인
}

// SetupRouter API 라우터 설정
func SetupRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 전역 미들웨어
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	queueHandler := handlers.NewQueueHandler(deps.Matchmaking)
	statsHandler := handlers.NewStatsHandler(deps.Stats)
	wsHandler := handlers.NewWebSocketHandler(deps.Hub)

	// Health check
	router.GET("/health", handlers.NewHealthHandler(deps.Health).HealthCheck)

	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	// API v1
	v1 := router.Group("/api/v1")
	{
		// WebSocket endpoint
		v1.GET("/ws", wsHandler.HandleWebSocket)

		// Queue routes
		queue := v1.Group("/queue")
		if deps.Limiter != nil {
			queue.Use(middleware.RateLimit(deps.Limiter, middleware.DefaultKeyFunc))
		}
		{
			queue.POST("/join", queueHandler.JoinQueue)
			queue.GET("/poll", queueHandler.PollQueue)
			queue.POST("/leave", queueHandler.LeaveQueue)
			queue.GET("/info", queueHandler.GetQueueInfo)
		}

		// Stats routes
		stats := v1.Group("/stats")
		{
			stats.GET("/online-players", statsHandler.GetOnlinePlayers)
			stats.GET("/games-24h", statsHandler.GetGames24h)
			stats.POST("/player-connected", statsHandler.PlayerConnected)
			stats.POST("/player-disconnected", statsHandler.PlayerDisconnected)
			stats.POST("/game-created", statsHandler.GameCreated)
		}
	}

	return router
}
