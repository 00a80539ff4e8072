package middleware

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// LocalOnly 中间件：只允许本地访问（127.0.0.1 或 ::1），用于 /metrics 等运维接口
func LocalOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		// RemoteIP ignores X-Forwarded-For and X-Real-IP
		ip := net.ParseIP(c.RemoteIP())
		if ip == nil || !ip.IsLoopback() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden: local access only"})
			return
		}
		c.Next()
	}
}
