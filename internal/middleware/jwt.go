package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/grievance-api/internal/models"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
	"github.com/noah-isme/grievance-api/pkg/response"
)

// ContextUserKey is the gin context key storing the authenticated actor.
const ContextUserKey = "currentUser"

// Authenticator resolves a session token to the caller's profile.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Actor, error)
}

// SessionToken reads the bearer token, falling back to the session cookie.
func SessionToken(c *gin.Context, cookieName string) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if cookieName != "" {
		if value, err := c.Cookie(cookieName); err == nil && value != "" {
			return value, true
		}
	}
	return "", false
}

// RequireAuth rejects callers without a valid session or outside policy.
func RequireAuth(gate Authenticator, cookieName string, policy AccessPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := SessionToken(c, cookieName)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "Authentication required"))
			c.Abort()
			return
		}

		actor, err := gate.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if err := policy.authorize(actor); err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, actor)
		c.Next()
	}
}

// OptionalAuth attaches the actor when a usable session is present but never blocks.
func OptionalAuth(gate Authenticator, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := SessionToken(c, cookieName)
		if !ok {
			c.Next()
			return
		}
		if actor, err := gate.Authenticate(c.Request.Context(), token); err == nil && actor != nil {
			c.Set(ContextUserKey, actor)
		}
		c.Next()
	}
}

// ActorFromContext returns the actor set by RequireAuth or OptionalAuth.
func ActorFromContext(c *gin.Context) *models.Actor {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	actor, ok := value.(*models.Actor)
	if !ok {
		return nil
	}
	return actor
}
