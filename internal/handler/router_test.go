package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/anzac2cdo/roster-api/internal/middleware"
	"github.com/anzac2cdo/roster-api/internal/models"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

type routeAuthorizer struct {
	levels map[string]models.RoleName
}

func (a routeAuthorizer) RequireAuth(ctx context.Context, ref string) (*models.Personnel, error) {
	if _, ok := a.levels[ref]; !ok {
		return nil, appErrors.Clone(appErrors.ErrIdentityNotFound, "")
	}
	return &models.Personnel{ID: ref}, nil
}

func (a routeAuthorizer) RequireRole(ctx context.Context, ref string, minimum models.RoleName) (*models.Personnel, error) {
	p, err := a.RequireAuth(ctx, ref)
	if err != nil {
		return nil, err
	}
	if a.levels[ref].Level() < minimum.Level() {
		return nil, appErrors.InsufficientRole(string(minimum))
	}
	return p, nil
}

type roleCatalogMock struct{}

func (roleCatalogMock) ListRoles(ctx context.Context) ([]models.Role, error) {
	return []models.Role{{ID: "r1", RoleName: models.RoleMember}}, nil
}

func testJWT(c *gin.Context) {
	ref := c.GetHeader("X-Test-Personnel")
	if ref == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{PersonnelID: ref})
	c.Next()
}

func testRouter(withMigrations bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	routes := Routes{
		JWT: testJWT,
		Authz: routeAuthorizer{levels: map[string]models.RoleName{
			"member": models.RoleMember,
			"admin":  models.RoleAdministrator,
			"super":  models.RoleSuperAdmin,
		}},
		Auth:      NewAuthHandler(&authServiceMock{}),
		Roles:     NewRoleHandler(roleCatalogMock{}, nil),
		Personnel: NewPersonnelHandler(&personnelServiceMock{}, instructorSchoolsMock{}, &qualificationServiceMock{}),
		Schools:   NewSchoolHandler(nil, nil),
		Events:    NewEventHandler(&eventServiceMock{}),
		Exports:   NewExportHandler(&exportJobServiceMock{}),
	}
	if withMigrations {
		routes.Migrations = NewMigrationHandler(&migrationRunnerMock{})
	}
	routes.Register(r.Group("/api/v1"))
	return r
}

func serve(r *gin.Engine, method, path, personnel string) int {
	req := httptest.NewRequest(method, path, nil)
	if personnel != "" {
		req.Header.Set("X-Test-Personnel", personnel)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRoutesGuards(t *testing.T) {
	r := testRouter(true)
	cases := []struct {
		name      string
		method    string
		path      string
		personnel string
		want      int
	}{
		{"roles need a token", http.MethodGet, "/api/v1/roles", "", http.StatusUnauthorized},
		{"roles for members", http.MethodGet, "/api/v1/roles", "member", http.StatusOK},
		{"roles reject unknown identity", http.MethodGet, "/api/v1/roles", "ghost", http.StatusUnauthorized},
		{"me resolves identity", http.MethodGet, "/api/v1/auth/me", "member", http.StatusOK},
		{"own schools", http.MethodGet, "/api/v1/personnel/member/schools", "member", http.StatusOK},
		{"other schools need admin", http.MethodGet, "/api/v1/personnel/admin/schools", "member", http.StatusForbidden},
		{"admin sees any schools", http.MethodGet, "/api/v1/personnel/member/schools", "admin", http.StatusOK},
		{"migrations need super admin", http.MethodPost, "/api/v1/admin/migrations/roles", "admin", http.StatusForbidden},
		{"super admin runs migrations", http.MethodPost, "/api/v1/admin/migrations/roles", "super", http.StatusOK},
		{"download is public", http.MethodGet, "/api/v1/exports/download/bad", "", http.StatusForbidden},
		{"export status behind token", http.MethodGet, "/api/v1/exports/job-1", "", http.StatusUnauthorized},
		{"export status", http.MethodGet, "/api/v1/exports/job-1", "admin", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, serve(r, tc.method, tc.path, tc.personnel))
		})
	}
}

func TestRoutesSkipDisabledMigrations(t *testing.T) {
	r := testRouter(false)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/api/v1/admin/migrations/roles", "super"))
}
