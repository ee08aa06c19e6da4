package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/anzac2cdo/roster-api/internal/models"
)

const eventColumns = `id, title, description, event_type, starts_at, ends_at, location, booking_code, created_by, created_at, updated_at`

// EventRepository persists the operations and training calendar.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new instance of EventRepository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// ListRange returns events starting within [from, to) together with the call
// signs of their instructors.
func (r *EventRepository) ListRange(ctx context.Context, filter models.EventFilter) ([]models.EventDetail, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE starts_at >= $1 AND starts_at < $2`
	args := []interface{}{filter.From, filter.To}
	if filter.EventType != nil {
		query += ` AND event_type = $3`
		args = append(args, *filter.EventType)
	}
	query += ` ORDER BY starts_at`

	var events []models.Event
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	details := make([]models.EventDetail, 0, len(events))
	if len(events) == 0 {
		return details, nil
	}

	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	const instructorQuery = `SELECT ei.event_id, p.call_sign FROM event_instructors ei JOIN personnel p ON p.id = ei.personnel_id WHERE ei.event_id = ANY($1) ORDER BY p.call_sign`
	var rows []struct {
		EventID  string `db:"event_id"`
		CallSign string `db:"call_sign"`
	}
	if err := r.db.SelectContext(ctx, &rows, instructorQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list event instructors: %w", err)
	}
	byEvent := make(map[string][]string, len(events))
	for _, row := range rows {
		byEvent[row.EventID] = append(byEvent[row.EventID], row.CallSign)
	}
	for _, e := range events {
		instructors := byEvent[e.ID]
		if instructors == nil {
			instructors = []string{}
		}
		details = append(details, models.EventDetail{Event: e, Instructors: instructors})
	}
	return details, nil
}

// FindByID returns an event by identifier.
func (r *EventRepository) FindByID(ctx context.Context, id string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	var e models.Event
	if err := r.db.GetContext(ctx, &e, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find event: %w", err)
	}
	return &e, nil
}

// BookingCodeExists reports whether a booking code is already taken.
func (r *EventRepository) BookingCodeExists(ctx context.Context, code string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM events WHERE booking_code = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, code); err != nil {
		return false, fmt.Errorf("check booking code: %w", err)
	}
	return exists, nil
}

// Create inserts an event.
func (r *EventRepository) Create(ctx context.Context, e *models.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	const query = `INSERT INTO events (id, title, description, event_type, starts_at, ends_at, location, booking_code, created_by, created_at, updated_at)
VALUES (:id, :title, :description, :event_type, :starts_at, :ends_at, :location, :booking_code, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, e); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// Update writes the editable event fields. The booking code never changes.
func (r *EventRepository) Update(ctx context.Context, e *models.Event) error {
	e.UpdatedAt = time.Now().UTC()
	const query = `UPDATE events SET title = :title, description = :description, event_type = :event_type, starts_at = :starts_at, ends_at = :ends_at, location = :location, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, e)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return requireAffected(res)
}

// Delete removes an event and, by cascade, its instructor rows.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return requireAffected(res)
}

// AddInstructor assigns an instructor to an event; repeated calls are no-ops.
func (r *EventRepository) AddInstructor(ctx context.Context, eventID, personnelID string) error {
	const query = `INSERT INTO event_instructors (id, event_id, personnel_id, created_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (event_id, personnel_id) WHERE personnel_id IS NOT NULL DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), eventID, personnelID, time.Now().UTC()); err != nil {
		return fmt.Errorf("add event instructor: %w", err)
	}
	return nil
}

// RemoveInstructor unassigns an instructor.
func (r *EventRepository) RemoveInstructor(ctx context.Context, eventID, personnelID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM event_instructors WHERE event_id = $1 AND personnel_id = $2`, eventID, personnelID)
	if err != nil {
		return fmt.Errorf("remove event instructor: %w", err)
	}
	return requireAffected(res)
}
