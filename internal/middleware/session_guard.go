package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
	"github.com/anzac2cdo/roster-api/pkg/logger"
	"github.com/anzac2cdo/roster-api/pkg/response"
	"github.com/anzac2cdo/roster-api/pkg/sessionguard"
)

// SessionGuard forces a sign-out when the request fails with a stale-session
// code. It watches the errors recorded on the gin context and every
// warn-or-worse entry written through the request logger.
func SessionGuard(guard *sessionguard.Guard, base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if guard == nil {
			c.Next()
			return
		}
		identity := func() string { return CurrentPersonnelID(c) }

		ctx := c.Request.Context()
		l := logger.FromContext(ctx, base).WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, guard.Core(identity))
		}))
		c.Request = c.Request.WithContext(logger.WithContext(ctx, l))

		c.Next()

		for _, e := range c.Errors {
			if code, ok := guard.Detect(e.Err); ok {
				guard.Trigger(c.Request.Context(), identity(), code, sessionguard.SourceResponse)
				return
			}
		}
	}
}

// Recovery converts panics into 500 responses and lets the guard inspect
// the recovered value first.
func Recovery(guard *sessionguard.Guard, base *zap.Logger) gin.HandlerFunc {
	if base == nil {
		base = zap.NewNop()
	}
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		if code, ok := guard.DetectRecovered(recovered); ok {
			guard.Trigger(c.Request.Context(), CurrentPersonnelID(c), code, sessionguard.SourcePanic)
		}
		logger.FromContext(c.Request.Context(), base).Error("panic recovered",
			zap.Any("panic", recovered),
			zap.String("path", c.FullPath()))
		response.Error(c, appErrors.ErrInternal)
	})
}
