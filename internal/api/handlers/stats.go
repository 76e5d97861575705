package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rl-arena/rl-arena-matchmaker/internal/service"
)

type StatsHandler struct {
	statsService *service.StatsService
}

func NewStatsHandler(statsService *service.StatsService) *StatsHandler {
	return &StatsHandler{
		statsService: statsService,
	}
}

type PlayerConnectedRequest struct {
	PlayerID     string `json:"playerId" binding:"required"`
	ConnectionID string `json:"connectionId" binding:"required"`
}

type PlayerDisconnectedRequest struct {
	ConnectionID string `json:"connectionId" binding:"required"`
}

type GameCreatedRequest struct {
	GameID string `json:"gameId" binding:"required"`
}

// GetOnlinePlayers 최근 5분 안에 연결된 플레이어 수
func (h *StatsHandler) GetOnlinePlayers(c *gin.Context) {
	count, err := h.statsService.OnlinePlayers(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to count online players")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": count,
	})
}

// GetGames24h 최근 24시간 생성된 게임 수
func (h *StatsHandler) GetGames24h(c *gin.Context) {
	count, err := h.statsService.Games24h(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to count games")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": count,
	})
}

// PlayerConnected 연결 기록 (heartbeat로도 사용)
func (h *StatsHandler) PlayerConnected(c *gin.Context) {
	var req PlayerConnectedRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if err := h.statsService.RecordConnect(c.Request.Context(), req.PlayerID, req.ConnectionID); err != nil {
		respondError(c, err, "Failed to record connection")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
	})
}

// PlayerDisconnected 연결 해제 기록
func (h *StatsHandler) PlayerDisconnected(c *gin.Context) {
	var req PlayerDisconnectedRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if err := h.statsService.RecordDisconnect(c.Request.Context(), req.ConnectionID); err != nil {
		respondError(c, err, "Failed to record disconnection")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
	})
}

// GameCreated 게임 생성 기록 (gameId 기준 멱등)
func (h *StatsHandler) GameCreated(c *gin.Context) {
	var req GameCreatedRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if _, err := h.statsService.RecordGameCreated(c.Request.Context(), req.GameID); err != nil {
		respondError(c, err, "Failed to record game")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
	})
}
