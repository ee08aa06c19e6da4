package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/pkg/response"
)

// ContextPersonnelKey stores the identity resolved by the role guards.
const ContextPersonnelKey = "currentPersonnel"

// Authorizer is the subset of the authorization engine the guards need.
type Authorizer interface {
	RequireAuth(ctx context.Context, identityRef string) (*models.Personnel, error)
	RequireRole(ctx context.Context, identityRef string, minimum models.RoleName) (*models.Personnel, error)
}

// RequireAuth rejects callers whose identity no longer resolves to an
// account with system access.
func RequireAuth(authz Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := authz.RequireAuth(c.Request.Context(), CurrentPersonnelID(c))
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Set(ContextPersonnelKey, p)
		c.Next()
	}
}

// RequireRole rejects callers below minimum in the role hierarchy.
func RequireRole(authz Authorizer, minimum models.RoleName) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := authz.RequireRole(c.Request.Context(), CurrentPersonnelID(c), minimum)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Set(ContextPersonnelKey, p)
		c.Next()
	}
}

// SelfOrRole lets a caller through when the :param path value is their own
// id, and otherwise requires minimum.
func SelfOrRole(authz Authorizer, param string, minimum models.RoleName) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref := CurrentPersonnelID(c)
		var (
			p   *models.Personnel
			err error
		)
		if ref != "" && c.Param(param) == ref {
			p, err = authz.RequireAuth(c.Request.Context(), ref)
		} else {
			p, err = authz.RequireRole(c.Request.Context(), ref, minimum)
		}
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Set(ContextPersonnelKey, p)
		c.Next()
	}
}

// CurrentPersonnel returns the identity stored by the role guards.
func CurrentPersonnel(c *gin.Context) (*models.Personnel, bool) {
	value, exists := c.Get(ContextPersonnelKey)
	if !exists {
		return nil, false
	}
	p, ok := value.(*models.Personnel)
	return p, ok && p != nil
}
