package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/signdesk/signdesk/internal/models"
	"github.com/signdesk/signdesk/pkg/metrics"
	"github.com/stretchr/testify/require"
)

func hit(r *gin.Engine, path string) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Code
}

func TestRateLimitMiddleware_AllowsUnderLimit(t *testing.T) {
	before := testutil.ToFloat64(metrics.RateLimitAllowed.WithLabelValues("memory"))
	r := gin.New()
	r.Use(RateLimitMiddleware(10, 2))
	r.GET("/ok", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	require.Equal(t, http.StatusOK, hit(r, "/ok"))
	require.Equal(t, http.StatusOK, hit(r, "/ok"))
	require.Equal(t, before+2, testutil.ToFloat64(metrics.RateLimitAllowed.WithLabelValues("memory")))
}

func TestRateLimitMiddleware_BlocksWhenExceeded(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitMiddleware(0.5, 1))
	r.GET("/limited", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	require.Equal(t, http.StatusOK, hit(r, "/limited"))
	require.Equal(t, http.StatusTooManyRequests, hit(r, "/limited"))

	// 0.5 rps refills one token after two seconds
	time.Sleep(2100 * time.Millisecond)
	require.Equal(t, http.StatusOK, hit(r, "/limited"))
}

func TestRateLimitMiddleware_KeysBySubject(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(UserKey, &models.User{Sub: c.Query("u")})
		c.Next()
	})
	r.Use(RateLimitMiddleware(0.5, 1))
	r.GET("/u", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	require.Equal(t, http.StatusOK, hit(r, "/u?u=ana"))
	require.Equal(t, http.StatusTooManyRequests, hit(r, "/u?u=ana"))
	// another subject behind the same IP has its own bucket
	require.Equal(t, http.StatusOK, hit(r, "/u?u=luis"))
}
