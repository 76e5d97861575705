package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/internal/service"
)

type QueueHandler struct {
	matchmakingService *service.MatchmakingService
}

func NewQueueHandler(matchmakingService *service.MatchmakingService) *QueueHandler {
	return &QueueHandler{
		matchmakingService: matchmakingService,
	}
}

// JoinQueueRequest joinedAt은 unix millis (생략하면 서버 시각)
type JoinQueueRequest struct {
	PlayerID      string `json:"playerId" binding:"required"`
	DisplayName   string `json:"displayName" binding:"required"`
	Rating        *int   `json:"rating" binding:"required"`
	IsProvisional bool   `json:"isProvisional"`
	GameMode      string `json:"gameMode" binding:"required"`
	JoinedAt      int64  `json:"joinedAt"`
	Origin        string `json:"origin"`
}

type LeaveQueueRequest struct {
	PlayerID string `json:"playerId" binding:"required"`
}

// JoinQueue 매칭 큐 참가
func (h *QueueHandler) JoinQueue(c *gin.Context) {
	var req JoinQueueRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	joinReq := models.JoinRequest{
		PlayerID:      req.PlayerID,
		DisplayName:   req.DisplayName,
		Rating:        *req.Rating,
		IsProvisional: req.IsProvisional,
		GameMode:      models.GameMode(req.GameMode),
		Origin:        req.Origin,
	}
	if req.JoinedAt > 0 {
		joinReq.JoinedAt = time.UnixMilli(req.JoinedAt)
	}
	// origin을 따로 보내지 않은 브라우저 클라이언트는 Origin 헤더를 쓴다
	if origin := c.GetHeader("Origin"); joinReq.Origin == "" && origin != "null" {
		joinReq.Origin = origin
	}

	outcome, err := h.matchmakingService.Join(c.Request.Context(), c.Query("domain"), joinReq)
	if err != nil {
		respondError(c, err, "Failed to join queue")
		return
	}

	c.JSON(http.StatusOK, outcomeBody(outcome))
}

// PollQueue 매칭 상태 조회
func (h *QueueHandler) PollQueue(c *gin.Context) {
	playerID := c.Query("playerId")
	if playerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "playerId is required",
		})
		return
	}

	outcome, err := h.matchmakingService.Poll(c.Request.Context(), c.Query("domain"), playerID)
	if err != nil {
		respondError(c, err, "Failed to poll queue")
		return
	}

	c.JSON(http.StatusOK, outcomeBody(outcome))
}

// LeaveQueue 매칭 큐 이탈
func (h *QueueHandler) LeaveQueue(c *gin.Context) {
	var req LeaveQueueRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if err := h.matchmakingService.Leave(c.Request.Context(), c.Query("domain"), req.PlayerID); err != nil {
		respondError(c, err, "Failed to leave queue")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
	})
}

// GetQueueInfo 진단용 큐 상태
func (h *QueueHandler) GetQueueInfo(c *gin.Context) {
	info, err := h.matchmakingService.Info(c.Request.Context(), c.Query("domain"))
	if err != nil {
		respondError(c, err, "Failed to get queue info")
		return
	}

	players := make([]gin.H, 0, len(info.Players))
	for _, p := range info.Players {
		players = append(players, gin.H{
			"gameMode":  p.GameMode,
			"rating":    p.Rating,
			"waitTime":  seconds(p.WaitTime),
			"expiresIn": seconds(p.ExpiresIn),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"domain":    info.Domain,
		"queueSize": info.QueueSize,
		"players":   players,
	})
}

func outcomeBody(outcome models.Outcome) gin.H {
	switch o := outcome.(type) {
	case models.Matched:
		return gin.H{
			"inQueue":               false,
			"matched":               true,
			"roomId":                o.RoomID,
			"color":                 o.Color,
			"opponentId":            o.OpponentID,
			"opponentDisplayName":   o.OpponentDisplayName,
			"opponentRating":        o.OpponentRating,
			"opponentIsProvisional": o.OpponentIsProvisional,
			"accessToken":           o.AccessToken,
			"webSocketUrl":          o.WebSocketURL,
		}
	case models.Waiting:
		return gin.H{
			"matched":       false,
			"queuePosition": o.QueuePosition,
			"estimatedWait": seconds(o.EstimatedWait),
		}
	case models.Queued:
		return gin.H{
			"inQueue":            true,
			"matched":            false,
			"queuePosition":      o.QueuePosition,
			"totalInQueue":       o.TotalInQueue,
			"waitTimeSeconds":    seconds(o.WaitTime),
			"currentRatingRange": o.RatingRange,
			"expiresIn":          seconds(o.ExpiresIn),
		}
	default:
		return gin.H{
			"inQueue": false,
			"message": "not in queue",
		}
	}
}

// seconds 응답용 초 단위 (내림)
func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
