package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/internal/service"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
	"github.com/anzac2cdo/roster-api/pkg/response"
)

type personnelService interface {
	List(ctx context.Context, requesterRef string, filter models.PersonnelFilter) ([]models.RosterEntry, *models.Pagination, error)
	Get(ctx context.Context, requesterRef, id string) (*models.Personnel, error)
	Create(ctx context.Context, requesterRef string, req service.CreatePersonnelRequest) (*models.Personnel, error)
	Archive(ctx context.Context, requesterRef, id string) error
	Promote(ctx context.Context, requesterRef, id string, req service.PromoteRequest) (*models.RankHistory, error)
	GrantSystemAccess(ctx context.Context, requesterRef, id string, req service.GrantSystemAccessRequest) error
	RevokeSystemAccess(ctx context.Context, requesterRef, id string) error
}

type instructorSchools interface {
	ListInstructorSchools(ctx context.Context, requesterRef, personnelID string) ([]models.SchoolAssignmentDetail, error)
}

type qualificationService interface {
	ListPersonnelQualifications(ctx context.Context, requesterRef, personnelID string) ([]models.PersonnelQualificationDetail, error)
	AwardQualification(ctx context.Context, requesterRef, personnelID string, req service.AwardQualificationRequest) (*models.PersonnelQualification, error)
	RevokeQualification(ctx context.Context, requesterRef, personnelID, qualificationID string) error
}

// PersonnelHandler exposes roster endpoints.
type PersonnelHandler struct {
	personnel      personnelService
	schools        instructorSchools
	qualifications qualificationService
}

// NewPersonnelHandler constructs the handler.
func NewPersonnelHandler(personnel personnelService, schools instructorSchools, qualifications qualificationService) *PersonnelHandler {
	return &PersonnelHandler{personnel: personnel, schools: schools, qualifications: qualifications}
}

// List godoc
// @Summary List roster
// @Tags Personnel
// @Produce json
// @Security BearerAuth
// @Param status query string false "Status filter"
// @Param search query string false "Call sign, name or email"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Param sort_by query string false "Sort column"
// @Param sort_order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /personnel [get]
func (h *PersonnelHandler) List(c *gin.Context) {
	filter := models.PersonnelFilter{
		Search:    c.Query("search"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 50),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if raw := c.Query("status"); raw != "" {
		status := models.PersonnelStatus(raw)
		if !status.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid status filter"))
			return
		}
		filter.Status = &status
	}

	entries, pagination, err := h.personnel.List(c.Request.Context(), requesterID(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Get godoc
// @Summary Get personnel
// @Tags Personnel
// @Produce json
// @Security BearerAuth
// @Param id path string true "Personnel ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /personnel/{id} [get]
func (h *PersonnelHandler) Get(c *gin.Context) {
	p, err := h.personnel.Get(c.Request.Context(), requesterID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, p, nil)
}

// Create godoc
// @Summary Create roster record
// @Tags Personnel
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreatePersonnelRequest true "Personnel payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /personnel [post]
func (h *PersonnelHandler) Create(c *gin.Context) {
	var req service.CreatePersonnelRequest
	if !bindJSON(c, &req, "invalid personnel payload") {
		return
	}
	p, err := h.personnel.Create(c.Request.Context(), requesterID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, p)
}

// Archive godoc
// @Summary Archive personnel
// @Description Marks the record discharged and ends any active sessions
// @Tags Personnel
// @Security BearerAuth
// @Param id path string true "Personnel ID"
// @Success 204 {object} response.Envelope
// @Router /personnel/{id}/archive [post]
func (h *PersonnelHandler) Archive(c *gin.Context) {
	if err := h.personnel.Archive(c.Request.Context(), requesterID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Promote godoc
// @Summary Promote personnel
// @Tags Personnel
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Personnel ID"
// @Param payload body service.PromoteRequest true "Promotion"
// @Success 201 {object} response.Envelope
// @Router /personnel/{id}/promote [post]
func (h *PersonnelHandler) Promote(c *gin.Context) {
	var req service.PromoteRequest
	if !bindJSON(c, &req, "invalid promotion payload") {
		return
	}
	history, err := h.personnel.Promote(c.Request.Context(), requesterID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, history)
}

// GrantSystemAccess godoc
// @Summary Grant system access
// @Tags Personnel
// @Accept json
// @Security BearerAuth
// @Param id path string true "Personnel ID"
// @Param payload body service.GrantSystemAccessRequest true "Initial credentials"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /personnel/{id}/system-access [post]
func (h *PersonnelHandler) GrantSystemAccess(c *gin.Context) {
	var req service.GrantSystemAccessRequest
	if !bindJSON(c, &req, "invalid access payload") {
		return
	}
	if err := h.personnel.GrantSystemAccess(c.Request.Context(), requesterID(c), c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RevokeSystemAccess godoc
// @Summary Revoke system access
// @Tags Personnel
// @Security BearerAuth
// @Param id path string true "Personnel ID"
// @Success 204 {object} response.Envelope
// @Router /personnel/{id}/system-access [delete]
func (h *PersonnelHandler) RevokeSystemAccess(c *gin.Context) {
	if err := h.personnel.RevokeSystemAccess(c.Request.Context(), requesterID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Schools godoc
// @Summary List schools an instructor is assigned to
// @Tags Personnel
// @Produce json
// @Security BearerAuth
// @Param id path string true "Personnel ID"
// @Success 200 {object} response.Envelope
// @Router /personnel/{id}/schools [get]
func (h *PersonnelHandler) Schools(c *gin.Context) {
	items, err := h.schools.ListInstructorSchools(c.Request.Context(), requesterID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Qualifications godoc
// @Summary List qualifications held by personnel
// @Tags Qualifications
// @Produce json
// @Security BearerAuth
// @Param id path string true "Personnel ID"
// @Success 200 {object} response.Envelope
// @Router /personnel/{id}/qualifications [get]
func (h *PersonnelHandler) Qualifications(c *gin.Context) {
	items, err := h.qualifications.ListPersonnelQualifications(c.Request.Context(), requesterID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// AwardQualification godoc
// @Summary Award a qualification
// @Tags Qualifications
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Personnel ID"
// @Param payload body service.AwardQualificationRequest true "Qualification"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /personnel/{id}/qualifications [post]
func (h *PersonnelHandler) AwardQualification(c *gin.Context) {
	var req service.AwardQualificationRequest
	if !bindJSON(c, &req, "invalid qualification payload") {
		return
	}
	award, err := h.qualifications.AwardQualification(c.Request.Context(), requesterID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, award)
}

// RevokeQualification godoc
// @Summary Revoke a qualification
// @Tags Qualifications
// @Security BearerAuth
// @Param id path string true "Personnel ID"
// @Param qualificationId path string true "Qualification ID"
// @Success 204 {object} response.Envelope
// @Router /personnel/{id}/qualifications/{qualificationId} [delete]
func (h *PersonnelHandler) RevokeQualification(c *gin.Context) {
	if err := h.qualifications.RevokeQualification(c.Request.Context(), requesterID(c), c.Param("id"), c.Param("qualificationId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
