package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	// startTime 记录服务启动时间
	startTime     time.Time
	startTimeOnce sync.Once
)

// InitStartTime 初始化服务启动时间（只执行一次）
func InitStartTime() {
	startTimeOnce.Do(func() {
		startTime = time.Now()
	})
}

// HealthzHandler 存活检查（liveness）
func HealthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"type":   "liveness",
	})
}

// ReadinessHandler 就绪检查（readiness），检查存储连接
func (h *Handler) ReadinessHandler(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"type":    "readiness",
			"message": "store not initialized",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"type":    "readiness",
			"message": "store ping failed",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"type":   "readiness",
		"uptime": time.Since(startTime).Round(time.Second).String(),
	})
}
