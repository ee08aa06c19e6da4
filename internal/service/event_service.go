package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/anzac2cdo/roster-api/internal/models"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

const (
	bookingCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	bookingCodeLength   = 6
	bookingCodeAttempts = 8
)

type eventStore interface {
	ListRange(ctx context.Context, filter models.EventFilter) ([]models.EventDetail, error)
	FindByID(ctx context.Context, id string) (*models.Event, error)
	BookingCodeExists(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context, e *models.Event) error
	Update(ctx context.Context, e *models.Event) error
	Delete(ctx context.Context, id string) error
	AddInstructor(ctx context.Context, eventID, personnelID string) error
	RemoveInstructor(ctx context.Context, eventID, personnelID string) error
}

// EventRequest is the create and update payload for calendar events.
type EventRequest struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description *string   `json:"description"`
	EventType   string    `json:"eventType" validate:"required,oneof=operation training course social"`
	StartsAt    time.Time `json:"startsAt" validate:"required"`
	EndsAt      time.Time `json:"endsAt" validate:"required"`
	Location    *string   `json:"location"`
}

// WeekSchedule is one calendar week of events.
type WeekSchedule struct {
	WeekStart time.Time            `json:"weekStart"`
	WeekEnd   time.Time            `json:"weekEnd"`
	Events    []models.EventDetail `json:"events"`
}

// EventService manages the unit calendar.
type EventService struct {
	repo      eventStore
	authz     roleAuthorizer
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
	codes     func() (string, error)
}

// NewEventService constructs the event service.
func NewEventService(repo eventStore, authz roleAuthorizer, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *EventService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventService{repo: repo, authz: authz, audit: audit, validator: validate, logger: logger, codes: generateBookingCode}
}

// ListWeek returns the events of the Monday-based week containing day.
func (s *EventService) ListWeek(ctx context.Context, requesterRef string, day time.Time, eventType *models.EventType) (*WeekSchedule, error) {
	if _, err := s.authz.RequireRole(ctx, requesterRef, models.RoleMember); err != nil {
		return nil, err
	}
	if eventType != nil && !eventType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown event type")
	}
	start := WeekStart(day)
	end := start.AddDate(0, 0, 7)
	events, err := s.repo.ListRange(ctx, models.EventFilter{From: start, To: end, EventType: eventType})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list events")
	}
	return &WeekSchedule{WeekStart: start, WeekEnd: end, Events: events}, nil
}

// Get returns a single event.
func (s *EventService) Get(ctx context.Context, requesterRef, id string) (*models.Event, error) {
	if _, err := s.authz.RequireRole(ctx, requesterRef, models.RoleMember); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// Create schedules an event with a fresh booking code.
func (s *EventService) Create(ctx context.Context, requesterRef string, req EventRequest) (*models.Event, error) {
	requester, err := s.authz.RequireRole(ctx, requesterRef, models.RoleGameMaster)
	if err != nil {
		return nil, err
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}
	code, err := s.uniqueBookingCode(ctx)
	if err != nil {
		return nil, err
	}

	createdBy := requester.ID
	e := &models.Event{
		Title:       req.Title,
		Description: req.Description,
		EventType:   models.EventType(req.EventType),
		StartsAt:    req.StartsAt.UTC(),
		EndsAt:      req.EndsAt.UTC(),
		Location:    req.Location,
		BookingCode: code,
		CreatedBy:   &createdBy,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create event")
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    requester.ID,
		Action:     models.AuditActionEventCreate,
		Resource:   "event",
		ResourceID: e.ID,
		New:        e,
	})
	return e, nil
}

// Update edits an event. The booking code is kept.
func (s *EventService) Update(ctx context.Context, requesterRef, id string, req EventRequest) (*models.Event, error) {
	requester, err := s.authz.RequireRole(ctx, requesterRef, models.RoleGameMaster)
	if err != nil {
		return nil, err
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}
	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *e
	e.Title = req.Title
	e.Description = req.Description
	e.EventType = models.EventType(req.EventType)
	e.StartsAt = req.StartsAt.UTC()
	e.EndsAt = req.EndsAt.UTC()
	e.Location = req.Location
	if err := s.repo.Update(ctx, e); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update event")
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    requester.ID,
		Action:     models.AuditActionEventUpdate,
		Resource:   "event",
		ResourceID: e.ID,
		Old:        before,
		New:        e,
	})
	return e, nil
}

// Delete removes an event.
func (s *EventService) Delete(ctx context.Context, requesterRef, id string) error {
	requester, err := s.authz.RequireRole(ctx, requesterRef, models.RoleGameMaster)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete event")
	}
	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    requester.ID,
		Action:     models.AuditActionEventDelete,
		Resource:   "event",
		ResourceID: id,
	})
	return nil
}

// AddInstructor assigns an instructor to run an event.
func (s *EventService) AddInstructor(ctx context.Context, requesterRef, eventID, personnelID string) error {
	if _, err := s.authz.RequireRole(ctx, requesterRef, models.RoleInstructor); err != nil {
		return err
	}
	if _, err := s.load(ctx, eventID); err != nil {
		return err
	}
	ok, err := s.authz.HasRole(ctx, personnelID, models.RoleInstructor)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotAnInstructor, "")
	}
	if err := s.repo.AddInstructor(ctx, eventID, personnelID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add event instructor")
	}
	return nil
}

// RemoveInstructor unassigns an instructor from an event.
func (s *EventService) RemoveInstructor(ctx context.Context, requesterRef, eventID, personnelID string) error {
	if _, err := s.authz.RequireRole(ctx, requesterRef, models.RoleInstructor); err != nil {
		return err
	}
	if err := s.repo.RemoveInstructor(ctx, eventID, personnelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "instructor is not assigned to this event")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove event instructor")
	}
	return nil
}

func (s *EventService) validate(req EventRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload")
	}
	if !req.EndsAt.After(req.StartsAt) {
		return appErrors.Clone(appErrors.ErrValidation, "event must end after it starts")
	}
	return nil
}

func (s *EventService) load(ctx context.Context, id string) (*models.Event, error) {
	e, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	return e, nil
}

func (s *EventService) uniqueBookingCode(ctx context.Context) (string, error) {
	for i := 0; i < bookingCodeAttempts; i++ {
		code, err := s.codes()
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate booking code")
		}
		taken, err := s.repo.BookingCodeExists(ctx, code)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check booking code")
		}
		if !taken {
			return code, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrConflict, "could not allocate a unique booking code")
}

// WeekStart returns Monday 00:00 UTC of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, time.UTC)
}

func generateBookingCode() (string, error) {
	max := big.NewInt(int64(len(bookingCodeAlphabet)))
	buf := make([]byte, bookingCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = bookingCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
