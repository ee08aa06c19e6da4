package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/internal/service"
	"github.com/anzac2cdo/roster-api/pkg/response"
)

type schoolService interface {
	ListSchools(ctx context.Context, requesterRef string) ([]models.School, error)
	UpdateSchool(ctx context.Context, requesterRef, schoolID string, req service.UpdateSchoolRequest) (*models.School, error)
	ListQualifications(ctx context.Context, requesterRef, schoolID string) ([]models.Qualification, error)
}

type schoolAssignments interface {
	AssignInstructorToSchool(ctx context.Context, requesterRef, personnelID, schoolID string) (*models.SchoolAssignment, error)
	RemoveInstructorFromSchool(ctx context.Context, requesterRef, personnelID, schoolID string) error
}

// SchoolHandler exposes schools, their qualifications and instructor staffing.
type SchoolHandler struct {
	schools     schoolService
	assignments schoolAssignments
}

// NewSchoolHandler constructs the handler.
func NewSchoolHandler(schools schoolService, assignments schoolAssignments) *SchoolHandler {
	return &SchoolHandler{schools: schools, assignments: assignments}
}

type assignInstructorRequest struct {
	PersonnelID string `json:"personnelId" binding:"required"`
}

// List godoc
// @Summary List schools
// @Tags Schools
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /schools [get]
func (h *SchoolHandler) List(c *gin.Context) {
	items, err := h.schools.ListSchools(c.Request.Context(), requesterID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Update godoc
// @Summary Update school
// @Description Allowed for administrators and instructors assigned to the school
// @Tags Schools
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "School ID"
// @Param payload body service.UpdateSchoolRequest true "School payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /schools/{id} [put]
func (h *SchoolHandler) Update(c *gin.Context) {
	var req service.UpdateSchoolRequest
	if !bindJSON(c, &req, "invalid school payload") {
		return
	}
	school, err := h.schools.UpdateSchool(c.Request.Context(), requesterID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, school, nil)
}

// AssignInstructor godoc
// @Summary Assign an instructor to a school
// @Tags Schools
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "School ID"
// @Param payload body assignInstructorRequest true "Instructor"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /schools/{id}/instructors [post]
func (h *SchoolHandler) AssignInstructor(c *gin.Context) {
	var req assignInstructorRequest
	if !bindJSON(c, &req, "personnelId is required") {
		return
	}
	assignment, err := h.assignments.AssignInstructorToSchool(c.Request.Context(), requesterID(c), req.PersonnelID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// RemoveInstructor godoc
// @Summary Remove an instructor from a school
// @Tags Schools
// @Security BearerAuth
// @Param id path string true "School ID"
// @Param personnelId path string true "Personnel ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schools/{id}/instructors/{personnelId} [delete]
func (h *SchoolHandler) RemoveInstructor(c *gin.Context) {
	if err := h.assignments.RemoveInstructorFromSchool(c.Request.Context(), requesterID(c), c.Param("personnelId"), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Qualifications godoc
// @Summary List qualifications
// @Tags Qualifications
// @Produce json
// @Security BearerAuth
// @Param school_id query string false "Restrict to one school"
// @Success 200 {object} response.Envelope
// @Router /qualifications [get]
func (h *SchoolHandler) Qualifications(c *gin.Context) {
	items, err := h.schools.ListQualifications(c.Request.Context(), requesterID(c), c.Query("school_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
