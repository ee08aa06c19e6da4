package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/internal/service"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
	"github.com/anzac2cdo/roster-api/pkg/response"
)

type eventService interface {
	ListWeek(ctx context.Context, requesterRef string, day time.Time, eventType *models.EventType) (*service.WeekSchedule, error)
	Get(ctx context.Context, requesterRef, id string) (*models.Event, error)
	Create(ctx context.Context, requesterRef string, req service.EventRequest) (*models.Event, error)
	Update(ctx context.Context, requesterRef, id string, req service.EventRequest) (*models.Event, error)
	Delete(ctx context.Context, requesterRef, id string) error
	AddInstructor(ctx context.Context, requesterRef, eventID, personnelID string) error
	RemoveInstructor(ctx context.Context, requesterRef, eventID, personnelID string) error
}

// EventHandler exposes the operations calendar.
type EventHandler struct {
	service eventService
	now     func() time.Time
}

// NewEventHandler constructs the handler.
func NewEventHandler(svc eventService) *EventHandler {
	return &EventHandler{service: svc, now: time.Now}
}

type eventInstructorRequest struct {
	PersonnelID string `json:"personnelId" binding:"required"`
}

// Week godoc
// @Summary Weekly schedule
// @Description Lists events of the Monday-based week containing the given day (default today)
// @Tags Events
// @Produce json
// @Security BearerAuth
// @Param week query string false "Any day in the week, YYYY-MM-DD"
// @Param type query string false "operation, training, course or social"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /events [get]
func (h *EventHandler) Week(c *gin.Context) {
	day := h.now().UTC()
	if raw := c.Query("week"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "week must be formatted YYYY-MM-DD"))
			return
		}
		day = parsed
	}
	var eventType *models.EventType
	if raw := c.Query("type"); raw != "" {
		t := models.EventType(raw)
		eventType = &t
	}

	week, err := h.service.ListWeek(c.Request.Context(), requesterID(c), day, eventType)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, week, nil)
}

// Get godoc
// @Summary Get event
// @Tags Events
// @Produce json
// @Security BearerAuth
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /events/{id} [get]
func (h *EventHandler) Get(c *gin.Context) {
	event, err := h.service.Get(c.Request.Context(), requesterID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event, nil)
}

// Create godoc
// @Summary Schedule event
// @Tags Events
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.EventRequest true "Event"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /events [post]
func (h *EventHandler) Create(c *gin.Context) {
	var req service.EventRequest
	if !bindJSON(c, &req, "invalid event payload") {
		return
	}
	event, err := h.service.Create(c.Request.Context(), requesterID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, event)
}

// Update godoc
// @Summary Update event
// @Tags Events
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Event ID"
// @Param payload body service.EventRequest true "Event"
// @Success 200 {object} response.Envelope
// @Router /events/{id} [put]
func (h *EventHandler) Update(c *gin.Context) {
	var req service.EventRequest
	if !bindJSON(c, &req, "invalid event payload") {
		return
	}
	event, err := h.service.Update(c.Request.Context(), requesterID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event, nil)
}

// Delete godoc
// @Summary Delete event
// @Tags Events
// @Security BearerAuth
// @Param id path string true "Event ID"
// @Success 204 {object} response.Envelope
// @Router /events/{id} [delete]
func (h *EventHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), requesterID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddInstructor godoc
// @Summary Assign an instructor to an event
// @Tags Events
// @Accept json
// @Security BearerAuth
// @Param id path string true "Event ID"
// @Param payload body eventInstructorRequest true "Instructor"
// @Success 204 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /events/{id}/instructors [post]
func (h *EventHandler) AddInstructor(c *gin.Context) {
	var req eventInstructorRequest
	if !bindJSON(c, &req, "personnelId is required") {
		return
	}
	if err := h.service.AddInstructor(c.Request.Context(), requesterID(c), c.Param("id"), req.PersonnelID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RemoveInstructor godoc
// @Summary Remove an instructor from an event
// @Tags Events
// @Security BearerAuth
// @Param id path string true "Event ID"
// @Param personnelId path string true "Personnel ID"
// @Success 204 {object} response.Envelope
// @Router /events/{id}/instructors/{personnelId} [delete]
func (h *EventHandler) RemoveInstructor(c *gin.Context) {
	if err := h.service.RemoveInstructor(c.Request.Context(), requesterID(c), c.Param("id"), c.Param("personnelId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
