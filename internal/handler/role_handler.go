package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/pkg/response"
)

type roleCatalog interface {
	ListRoles(ctx context.Context) ([]models.Role, error)
}

type roleAssignments interface {
	UpdateUserRoles(ctx context.Context, requesterRef, targetID string, names []string) ([]models.RoleName, error)
	ListUserRoles(ctx context.Context, requesterRef, targetID string) ([]models.Role, error)
}

// RoleHandler exposes the role catalog and per-personnel role sets.
type RoleHandler struct {
	catalog     roleCatalog
	assignments roleAssignments
}

// NewRoleHandler builds a role handler.
func NewRoleHandler(catalog roleCatalog, assignments roleAssignments) *RoleHandler {
	return &RoleHandler{catalog: catalog, assignments: assignments}
}

type updateRolesRequest struct {
	Roles []string `json:"roles" binding:"required"`
}

// List godoc
// @Summary List roles
// @Tags Roles
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /roles [get]
func (h *RoleHandler) List(c *gin.Context) {
	roles, err := h.catalog.ListRoles(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roles, nil)
}

// UserRoles godoc
// @Summary List roles held by personnel
// @Tags Roles
// @Produce json
// @Security BearerAuth
// @Param id path string true "Personnel ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /personnel/{id}/roles [get]
func (h *RoleHandler) UserRoles(c *gin.Context) {
	roles, err := h.assignments.ListUserRoles(c.Request.Context(), requesterID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roles, nil)
}

// UpdateUserRoles godoc
// @Summary Replace the role set of personnel
// @Description Normalizes role names, validates them against the catalog and replaces the set atomically
// @Tags Roles
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Personnel ID"
// @Param payload body updateRolesRequest true "Role names"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /personnel/{id}/roles [put]
func (h *RoleHandler) UpdateUserRoles(c *gin.Context) {
	var req updateRolesRequest
	if !bindJSON(c, &req, "invalid role payload") {
		return
	}
	roles, err := h.assignments.UpdateUserRoles(c.Request.Context(), requesterID(c), c.Param("id"), req.Roles)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"personnelId": c.Param("id"), "roles": roles}, nil)
}
