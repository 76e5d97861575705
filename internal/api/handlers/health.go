package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger 공유 저장소 연결 확인 (Redis)
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	pinger Pinger
}

// NewHealthHandler pinger가 nil이면 프로세스 생존만 보고한다
func NewHealthHandler(pinger Pinger) *HealthHandler {
	return &HealthHandler{pinger: pinger}
}

// HealthCheck godoc
// @Summary Health check
// @Description Check if the matchmaker and its shared store are reachable
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string "Server is healthy"
// @Failure 503 {object} map[string]string "Shared store unreachable"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.pinger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "degraded",
				"service": "rl-arena-matchmaker",
				"error":   "redis unreachable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "rl-arena-matchmaker",
	})
}
