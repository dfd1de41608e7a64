package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/signdesk/signdesk/pkg/logger"
	"github.com/signdesk/signdesk/pkg/metrics"
)

// RedisRateLimitMiddleware is a fixed-window limiter shared by all replicas.
// Each window allows floor(rps*window)+burst requests per key. When Redis is
// unreachable requests are let through and the failure is logged.
func RedisRateLimitMiddleware(client *redis.Client, rps float64, burst int, window time.Duration) gin.HandlerFunc {
	if client == nil {
		return RateLimitMiddleware(rps, burst)
	}
	windowSeconds := int(window.Seconds())
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	allowed := int64(rps*float64(windowSeconds)) + int64(burst)
	ttl := time.Duration(windowSeconds+1) * time.Second

	return func(c *gin.Context) {
		bucket := time.Now().Unix() / int64(windowSeconds)
		redisKey := fmt.Sprintf("signdesk:rl:%s:%d", limitKey(c), bucket)

		ctx := c.Request.Context()
		var incr *redis.IntCmd
		_, err := client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			incr = p.Incr(ctx, redisKey)
			p.Expire(ctx, redisKey, ttl)
			return nil
		})
		if err != nil {
			logger.Warnf("rate limit: redis unavailable, allowing request: %v", err)
			c.Next()
			return
		}
		if incr.Val() > allowed {
			c.Header("Retry-After", strconv.Itoa(windowSeconds))
			metrics.RateLimitRejected.WithLabelValues("redis").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("redis").Inc()
		c.Next()
	}
}
