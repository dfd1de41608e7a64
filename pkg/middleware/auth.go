package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/signdesk/signdesk/internal/models"
	"github.com/signdesk/signdesk/pkg/logger"
)

// Context keys set by the middlewares in this package.
const (
	ClaimsKey = "claims"
	UserKey   = "user"
)

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

// UserResolver maps verified claims to an application user.
type UserResolver interface {
	UpsertFromClaims(ctx context.Context, claims map[string]interface{}) (*models.User, error)
}

// AuthMiddleware verifies the Bearer token, resolves the caller and stores
// both the claims and the user in the gin context.
func AuthMiddleware(ver Verifier, users UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		token, ok := strings.CutPrefix(auth, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
			return
		}

		idToken, err := ver.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "details": err.Error()})
			return
		}

		var claims map[string]interface{}
		if err := idToken.Claims(&claims); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "failed to parse claims"})
			return
		}
		c.Set(ClaimsKey, claims)

		user, err := users.UpsertFromClaims(c.Request.Context(), claims)
		if err != nil {
			logger.Errorf("resolve user from claims: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve user"})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no subject"})
			return
		}
		c.Set(UserKey, user)
		c.Next()
	}
}

// CurrentUser returns the caller resolved by AuthMiddleware, or nil.
func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(UserKey); ok {
		if u, ok := v.(*models.User); ok {
			return u
		}
	}
	return nil
}

// RequireManager rejects callers without administrator or manager role.
func RequireManager() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CurrentUser(c).CanDistribute() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "administrator or manager role required"})
			return
		}
		c.Next()
	}
}
