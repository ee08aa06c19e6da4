package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anzac2cdo/roster-api/internal/models"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
	"github.com/anzac2cdo/roster-api/pkg/logger"
	"github.com/anzac2cdo/roster-api/pkg/response"
	"github.com/anzac2cdo/roster-api/pkg/sessionguard"
)

type signOutRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *signOutRecorder) signOut(ctx context.Context, identityRef, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, identityRef+":"+code)
	return nil
}

func (r *signOutRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func guardRouter(guard *sessionguard.Guard) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Recovery(guard, zap.NewNop()))
	router.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{PersonnelID: "p1"})
	})
	router.Use(SessionGuard(guard, zap.NewNop()))
	router.GET("/gone", func(c *gin.Context) {
		response.Error(c, appErrors.Clone(appErrors.ErrIdentityNotFound, ""))
	})
	router.GET("/forbidden", func(c *gin.Context) {
		response.Error(c, appErrors.InsufficientRole(string(models.RoleAdministrator)))
	})
	router.GET("/panic", func(c *gin.Context) {
		panic(appErrors.Clone(appErrors.ErrNoSystemAccess, ""))
	})
	router.GET("/log", func(c *gin.Context) {
		logger.FromContext(c.Request.Context(), nil).Warn("lookup failed",
			zap.Error(appErrors.Clone(appErrors.ErrInactiveAccount, "")))
		c.Status(http.StatusNoContent)
	})
	return router
}

func hit(router http.Handler, path string) int {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestSessionGuardSignsOutOnStaleIdentityResponse(t *testing.T) {
	rec := &signOutRecorder{}
	router := guardRouter(sessionguard.New(rec.signOut, sessionguard.Config{Window: time.Minute}))

	assert.Equal(t, http.StatusUnauthorized, hit(router, "/gone"))
	assert.Equal(t, http.StatusUnauthorized, hit(router, "/gone"))
	assert.Equal(t, []string{"p1:IDENTITY_NOT_FOUND"}, rec.snapshot(), "one sign-out per window")
}

func TestSessionGuardIgnoresOrdinaryDenials(t *testing.T) {
	rec := &signOutRecorder{}
	router := guardRouter(sessionguard.New(rec.signOut, sessionguard.Config{}))

	assert.Equal(t, http.StatusForbidden, hit(router, "/forbidden"))
	assert.Empty(t, rec.snapshot())
}

func TestRecoverySignsOutOnStalePanic(t *testing.T) {
	rec := &signOutRecorder{}
	router := guardRouter(sessionguard.New(rec.signOut, sessionguard.Config{}))

	assert.Equal(t, http.StatusInternalServerError, hit(router, "/panic"))
	assert.Equal(t, []string{"p1:NO_SYSTEM_ACCESS"}, rec.snapshot())
}

func TestSessionGuardWatchesRequestLogger(t *testing.T) {
	rec := &signOutRecorder{}
	router := guardRouter(sessionguard.New(rec.signOut, sessionguard.Config{}))

	assert.Equal(t, http.StatusNoContent, hit(router, "/log"))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "p1:ACCOUNT_INACTIVE", rec.snapshot()[0])
}

func TestSessionGuardWithoutGuardIsTransparent(t *testing.T) {
	router := guardRouter(nil)

	assert.Equal(t, http.StatusUnauthorized, hit(router, "/gone"))
	assert.Equal(t, http.StatusInternalServerError, hit(router, "/panic"))
}
