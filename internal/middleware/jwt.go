package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/internal/service"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
	"github.com/anzac2cdo/roster-api/pkg/logger"
	"github.com/anzac2cdo/roster-api/pkg/response"
)

const (
	// ContextUserKey is the gin context key storing JWT claims.
	ContextUserKey = "currentUser"
	// HeaderSessionInvalidated tells clients to drop their tokens and sign in again.
	HeaderSessionInvalidated = "X-Session-Invalidated"
)

// JWT protects routes by requiring a valid access token that was issued
// after the identity's last forced sign-out. sessions may be nil.
func JWT(authService *service.AuthService, sessions *service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			response.Error(c, err)
			return
		}

		if issuedAt := claims.IssuedAtTime(); sessions != nil && !issuedAt.IsZero() {
			revoked, err := sessions.IsRevoked(c.Request.Context(), claims.PersonnelID, issuedAt)
			if err != nil {
				// Revocation checks fail open.
				logger.FromContext(c.Request.Context(), nil).Warn("session revocation check failed",
					zap.String("personnel_id", claims.PersonnelID), zap.Error(err))
			} else if revoked {
				c.Header(HeaderSessionInvalidated, "true")
				response.Error(c, appErrors.Clone(appErrors.ErrSessionRevoked, ""))
				return
			}
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// Claims returns the JWT claims stored by JWT.
func Claims(c *gin.Context) (*models.JWTClaims, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok && claims != nil
}

// CurrentPersonnelID returns the identity reference of the caller, or "".
func CurrentPersonnelID(c *gin.Context) string {
	if claims, ok := Claims(c); ok {
		return claims.PersonnelID
	}
	return ""
}
