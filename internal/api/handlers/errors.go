package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rl-arena/rl-arena-matchmaker/internal/service"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/logger"
)

// respondError 서비스 에러를 HTTP 상태 코드로 변환
func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
	case errors.Is(err, service.ErrDomainBusy):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Matchmaking domain busy, retry shortly",
		})
	case errors.Is(err, service.ErrMalformedOrigin):
		logger.Error(fallback, "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to build game connection",
		})
	default:
		logger.Error(fallback, "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fallback,
		})
	}
}
