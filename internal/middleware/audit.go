package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/anzac2cdo/roster-api/internal/service"
)

// RequestMeta copies the client address and user agent into the request
// context so audit entries written by the services carry them.
func RequestMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := service.WithRequestMeta(c.Request.Context(), service.RequestMeta{
			IP:        c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
