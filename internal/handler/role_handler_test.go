package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzac2cdo/roster-api/internal/models"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

type roleAssignmentsMock struct {
	requester string
	target    string
	names     []string
	err       error
}

func (m *roleAssignmentsMock) UpdateUserRoles(ctx context.Context, requesterRef, targetID string, names []string) ([]models.RoleName, error) {
	m.requester, m.target, m.names = requesterRef, targetID, names
	if m.err != nil {
		return nil, m.err
	}
	return []models.RoleName{models.RoleInstructor, models.RoleMember}, nil
}

func (m *roleAssignmentsMock) ListUserRoles(ctx context.Context, requesterRef, targetID string) ([]models.Role, error) {
	m.requester, m.target = requesterRef, targetID
	return []models.Role{{ID: "r1", RoleName: models.RoleMember}}, m.err
}

func TestRoleHandlerUpdateUserRoles(t *testing.T) {
	svc := &roleAssignmentsMock{}
	h := NewRoleHandler(roleCatalogMock{}, svc)
	c, w := testContext(jsonRequest(t, http.MethodPut, "/personnel/p2/roles", map[string]interface{}{"roles": []string{"Instructor", "member"}}), "p1")
	c.Params = gin.Params{{Key: "id", Value: "p2"}}

	h.UpdateUserRoles(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "p1", svc.requester)
	assert.Equal(t, "p2", svc.target)
	assert.Equal(t, []string{"Instructor", "member"}, svc.names)

	var body struct {
		Data struct {
			PersonnelID string   `json:"personnelId"`
			Roles       []string `json:"roles"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "p2", body.Data.PersonnelID)
	assert.Equal(t, []string{"instructor", "member"}, body.Data.Roles)
}

func TestRoleHandlerUpdateUserRolesForwardsInsufficientRole(t *testing.T) {
	svc := &roleAssignmentsMock{err: appErrors.InsufficientRole(string(models.RoleSuperAdmin))}
	h := NewRoleHandler(roleCatalogMock{}, svc)
	c, w := testContext(jsonRequest(t, http.MethodPut, "/personnel/p2/roles", map[string]interface{}{"roles": []string{"super_admin"}}), "p1")
	c.Params = gin.Params{{Key: "id", Value: "p2"}}

	h.UpdateUserRoles(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "INSUFFICIENT_ROLE", decodeError(t, w))
}

func TestRoleHandlerUpdateUserRolesRejectsMalformedBody(t *testing.T) {
	svc := &roleAssignmentsMock{}
	h := NewRoleHandler(roleCatalogMock{}, svc)
	c, w := testContext(jsonRequest(t, http.MethodPut, "/personnel/p2/roles", map[string]interface{}{"roles": "admin"}), "p1")
	c.Params = gin.Params{{Key: "id", Value: "p2"}}

	h.UpdateUserRoles(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, w))
	assert.Empty(t, svc.target)
}

func TestRoleHandlerUpdateUserRolesRequiresRolesKey(t *testing.T) {
	svc := &roleAssignmentsMock{}
	h := NewRoleHandler(roleCatalogMock{}, svc)
	c, w := testContext(jsonRequest(t, http.MethodPut, "/personnel/p2/roles", map[string]interface{}{"role": []string{"administrator"}}), "p1")
	c.Params = gin.Params{{Key: "id", Value: "p2"}}

	h.UpdateUserRoles(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, w))
	assert.Empty(t, svc.target, "a missing roles key must not clear the role set")
}

func TestRoleHandlerUpdateUserRolesAcceptsExplicitEmptySet(t *testing.T) {
	svc := &roleAssignmentsMock{}
	h := NewRoleHandler(roleCatalogMock{}, svc)
	c, w := testContext(jsonRequest(t, http.MethodPut, "/personnel/p2/roles", map[string]interface{}{"roles": []string{}}), "p1")
	c.Params = gin.Params{{Key: "id", Value: "p2"}}

	h.UpdateUserRoles(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "p2", svc.target)
	assert.NotNil(t, svc.names)
	assert.Empty(t, svc.names)
}

func TestRoleHandlerUserRoles(t *testing.T) {
	svc := &roleAssignmentsMock{}
	h := NewRoleHandler(roleCatalogMock{}, svc)
	c, w := testContext(jsonRequest(t, http.MethodGet, "/personnel/p3/roles", nil), "p1")
	c.Params = gin.Params{{Key: "id", Value: "p3"}}

	h.UserRoles(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "p3", svc.target)
}
