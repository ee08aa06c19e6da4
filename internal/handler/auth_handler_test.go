package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzac2cdo/roster-api/internal/middleware"
	"github.com/anzac2cdo/roster-api/internal/models"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

type authServiceMock struct {
	loginReq    models.LoginRequest
	loginErr    error
	logoutToken string
	logoutFor   string
	passwordFor string
	meFor       string
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.loginReq = req
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &models.LoginResponse{AccessToken: "access", RefreshToken: "refresh", User: models.UserInfo{ID: "p1", CallSign: "Hawk"}}, nil
}

func (m *authServiceMock) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	return &models.RefreshTokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
}

func (m *authServiceMock) Logout(ctx context.Context, refreshToken, personnelID string) error {
	m.logoutToken, m.logoutFor = refreshToken, personnelID
	return nil
}

func (m *authServiceMock) ChangePassword(ctx context.Context, personnelID string, req models.ChangePasswordRequest) error {
	m.passwordFor = personnelID
	return nil
}

func (m *authServiceMock) Me(ctx context.Context, personnelID string) (*models.UserInfo, error) {
	m.meFor = personnelID
	if personnelID == "" {
		return nil, appErrors.Clone(appErrors.ErrNotAuthenticated, "")
	}
	return &models.UserInfo{ID: personnelID, CallSign: "Hawk", Roles: []models.RoleName{models.RoleMember}}, nil
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func testContext(req *http.Request, personnelID string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	if personnelID != "" {
		c.Set(middleware.ContextUserKey, &models.JWTClaims{PersonnelID: personnelID})
	}
	return c, w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestAuthHandlerLoginCapturesClientMeta(t *testing.T) {
	svc := &authServiceMock{}
	h := NewAuthHandler(svc)
	req := jsonRequest(t, http.MethodPost, "/auth/login", map[string]string{"identifier": "Hawk", "password": "secret123"})
	req.Header.Set("User-Agent", "roster-client")
	c, w := testContext(req, "")

	h.Login(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hawk", svc.loginReq.Identifier)
	assert.Equal(t, "roster-client", svc.loginReq.UserAgent)
	assert.Contains(t, w.Body.String(), `"access_token":"access"`)
}

func TestAuthHandlerLoginInvalidBody(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	c, w := testContext(req, "")

	h.Login(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decodeError(t, w))
}

func TestAuthHandlerLoginPropagatesServiceError(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{loginErr: appErrors.Clone(appErrors.ErrInvalidCredentials, "")})
	c, w := testContext(jsonRequest(t, http.MethodPost, "/auth/login", map[string]string{"identifier": "x", "password": "y"}), "")

	h.Login(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeError(t, w))
}

func TestAuthHandlerLogoutUsesTokenIdentity(t *testing.T) {
	svc := &authServiceMock{}
	h := NewAuthHandler(svc)
	c, _ := testContext(jsonRequest(t, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": "rt"}), "p1")

	h.Logout(c)

	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, "rt", svc.logoutToken)
	assert.Equal(t, "p1", svc.logoutFor)
}

func TestAuthHandlerLogoutRequiresClaims(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{})
	c, w := testContext(jsonRequest(t, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": "rt"}), "")

	h.Logout(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "NOT_AUTHENTICATED", decodeError(t, w))
}

func TestAuthHandlerChangePasswordAndMe(t *testing.T) {
	svc := &authServiceMock{}
	h := NewAuthHandler(svc)

	c, w := testContext(jsonRequest(t, http.MethodPost, "/auth/change-password", map[string]string{"old_password": "a", "new_password": "bbbbbbbb"}), "p1")
	h.ChangePassword(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, "p1", svc.passwordFor)

	c, w = testContext(httptest.NewRequest(http.MethodGet, "/auth/me", nil), "p1")
	h.Me(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "p1", svc.meFor)
	assert.Contains(t, w.Body.String(), `"callSign":"Hawk"`)
}
