package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/grievance-api/internal/models"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
	"github.com/noah-isme/grievance-api/pkg/response"
)

// AccessPolicy declares who may call a route. Empty Roles means any
// authenticated user.
type AccessPolicy struct {
	Roles              []models.UserRole
	AllowAnonymousUser bool
}

// AnyUser admits every authenticated profile, anonymous ones included.
var AnyUser = AccessPolicy{AllowAnonymousUser: true}

func (p AccessPolicy) authorize(actor *models.Actor) error {
	if actor == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "Authentication required")
	}
	if actor.Anonymous && !p.AllowAnonymousUser {
		return appErrors.Clone(appErrors.ErrAnonymousNotAllowed, "Anonymous users cannot access this resource")
	}
	if len(p.Roles) == 0 {
		return nil
	}
	for _, role := range p.Roles {
		if actor.Role == role {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "Insufficient permissions")
}

// RequireRoles narrows an authenticated route group to the given roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	policy := AccessPolicy{Roles: roles, AllowAnonymousUser: true}
	return func(c *gin.Context) {
		if err := policy.authorize(ActorFromContext(c)); err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}
