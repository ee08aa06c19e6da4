package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/internal/service"
	"github.com/anzac2cdo/roster-api/pkg/response"
)

type migrationRunner interface {
	Run(ctx context.Context, shim service.Shim, actorID string) (*models.MigrationResult, error)
}

// MigrationHandler lets a super admin trigger the legacy data shims.
type MigrationHandler struct {
	runner migrationRunner
}

// NewMigrationHandler constructs the handler.
func NewMigrationHandler(runner migrationRunner) *MigrationHandler {
	return &MigrationHandler{runner: runner}
}

// Run godoc
// @Summary Run a legacy migration shim
// @Description Runs roles, identities or all under an advisory lock. Safe to rerun.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param shim path string true "roles, identities or all"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /admin/migrations/{shim} [post]
func (h *MigrationHandler) Run(c *gin.Context) {
	shim, err := service.ParseShim(c.Param("shim"))
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.runner.Run(c.Request.Context(), shim, requesterID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
