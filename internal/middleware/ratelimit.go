package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"voicemaster/internal/metrics"
	"voicemaster/internal/repository"
)

// RateLimit 返回一个 Gin 中间件，按用户 (已认证时) 或客户端 IP 在固定窗口内限流。
// 计数器不可用时放行请求，只记录警告。
func RateLimit(counters repository.CounterRepository, maxRequests int, window time.Duration) gin.HandlerFunc {
	if counters == nil {
		panic("CounterRepository cannot be nil for RateLimit middleware")
	}
	if maxRequests <= 0 {
		panic("maxRequests must be positive for RateLimit middleware")
	}
	if window <= 0 {
		panic("window duration must be positive for RateLimit middleware")
	}

	return func(c *gin.Context) {
		key := "ratelimit:ip:" + c.ClientIP()
		if userID := c.GetString(ContextUserID); userID != "" {
			key = "ratelimit:user:" + userID
		}

		count, err := counters.IncrWithExpiry(c.Request.Context(), key, window)
		if err != nil {
			logrus.WithError(err).Warn("RateLimit: counter unavailable, allowing request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		if count > int64(maxRequests) {
			metrics.HTTPRateLimited.Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(int64(maxRequests)-count, 10))
		c.Next()
	}
}
