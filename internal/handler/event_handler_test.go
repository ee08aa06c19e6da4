package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/internal/service"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

type eventServiceMock struct {
	day        time.Time
	eventType  *models.EventType
	instructor [2]string
}

func (m *eventServiceMock) ListWeek(ctx context.Context, requesterRef string, day time.Time, eventType *models.EventType) (*service.WeekSchedule, error) {
	m.day, m.eventType = day, eventType
	start := service.WeekStart(day)
	return &service.WeekSchedule{WeekStart: start, WeekEnd: start.AddDate(0, 0, 7), Events: []models.EventDetail{}}, nil
}

func (m *eventServiceMock) Get(ctx context.Context, requesterRef, id string) (*models.Event, error) {
	return &models.Event{ID: id}, nil
}

func (m *eventServiceMock) Create(ctx context.Context, requesterRef string, req service.EventRequest) (*models.Event, error) {
	if requesterRef != "gm" {
		return nil, appErrors.InsufficientRole(string(models.RoleGameMaster))
	}
	return &models.Event{ID: "e1", Title: req.Title, BookingCode: "ABCD2345"}, nil
}

func (m *eventServiceMock) Update(ctx context.Context, requesterRef, id string, req service.EventRequest) (*models.Event, error) {
	return &models.Event{ID: id, Title: req.Title}, nil
}

func (m *eventServiceMock) Delete(ctx context.Context, requesterRef, id string) error {
	return nil
}

func (m *eventServiceMock) AddInstructor(ctx context.Context, requesterRef, eventID, personnelID string) error {
	m.instructor = [2]string{eventID, personnelID}
	return nil
}

func (m *eventServiceMock) RemoveInstructor(ctx context.Context, requesterRef, eventID, personnelID string) error {
	return nil
}

func TestEventHandlerWeekParsesDayAndType(t *testing.T) {
	svc := &eventServiceMock{}
	h := NewEventHandler(svc)
	c, w := testContext(httptest.NewRequest(http.MethodGet, "/events?week=2026-10-15&type=training", nil), "p1")

	h.Week(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), svc.day)
	require.NotNil(t, svc.eventType)
	assert.Equal(t, models.EventTypeTraining, *svc.eventType)
	assert.Contains(t, w.Body.String(), `"weekStart":"2026-10-12T00:00:00Z"`)
}

func TestEventHandlerWeekDefaultsToToday(t *testing.T) {
	svc := &eventServiceMock{}
	h := NewEventHandler(svc)
	h.now = func() time.Time { return time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC) }
	c, w := testContext(httptest.NewRequest(http.MethodGet, "/events", nil), "p1")

	h.Week(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, svc.day.Day())
	assert.Nil(t, svc.eventType)
}

func TestEventHandlerWeekRejectsBadDate(t *testing.T) {
	h := NewEventHandler(&eventServiceMock{})
	c, w := testContext(httptest.NewRequest(http.MethodGet, "/events?week=15/10/2026", nil), "p1")

	h.Week(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventHandlerCreateRequiresGameMaster(t *testing.T) {
	h := NewEventHandler(&eventServiceMock{})
	payload := map[string]interface{}{
		"title":     "Op Thunder",
		"eventType": "operation",
		"startsAt":  "2026-10-17T18:00:00Z",
		"endsAt":    "2026-10-17T21:00:00Z",
	}

	c, w := testContext(jsonRequest(t, http.MethodPost, "/events", payload), "member")
	h.Create(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "INSUFFICIENT_ROLE", decodeError(t, w))

	c, w = testContext(jsonRequest(t, http.MethodPost, "/events", payload), "gm")
	h.Create(c)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"bookingCode":"ABCD2345"`)
}

func TestEventHandlerAddInstructor(t *testing.T) {
	svc := &eventServiceMock{}
	h := NewEventHandler(svc)

	c, _ := testContext(jsonRequest(t, http.MethodPost, "/events/e1/instructors", map[string]string{"personnelId": "p7"}), "instr")
	c.Params = gin.Params{{Key: "id", Value: "e1"}}
	h.AddInstructor(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, [2]string{"e1", "p7"}, svc.instructor)

	c, w := testContext(jsonRequest(t, http.MethodPost, "/events/e1/instructors", map[string]string{}), "instr")
	c.Params = gin.Params{{Key: "id", Value: "e1"}}
	h.AddInstructor(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
