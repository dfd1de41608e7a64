package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/signdesk/signdesk/pkg/metrics"
	"golang.org/x/time/rate"
)

// limitKey prefers the resolved user, then the token subject, then the
// client IP.
func limitKey(c *gin.Context) string {
	if u := CurrentUser(c); u != nil && u.Sub != "" {
		return "sub:" + u.Sub
	}
	if v, ok := c.Get(ClaimsKey); ok {
		if cm, ok := v.(map[string]interface{}); ok {
			if sub, ok := cm["sub"].(string); ok && sub != "" {
				return "sub:" + sub
			}
		}
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// RateLimitMiddleware enforces a per-key token bucket held in process memory.
// rps = allowed events per second, burst = maximum tokens in bucket.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	var limiters sync.Map // key -> *rate.Limiter
	return func(c *gin.Context) {
		v, _ := limiters.LoadOrStore(limitKey(c), rate.NewLimiter(rate.Limit(rps), burst))
		if !v.(*rate.Limiter).Allow() {
			c.Header("Retry-After", "1")
			metrics.RateLimitRejected.WithLabelValues("memory").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("memory").Inc()
		c.Next()
	}
}
