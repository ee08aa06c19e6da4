package models

import "time"

// EventType classifies calendar entries.
type EventType string

const (
	EventTypeOperation EventType = "operation"
	EventTypeTraining  EventType = "training"
	EventTypeCourse    EventType = "course"
	EventTypeSocial    EventType = "social"
)

// Valid reports whether t is a supported event type.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeOperation, EventTypeTraining, EventTypeCourse, EventTypeSocial:
		return true
	}
	return false
}

// Event is a scheduled operation or training session.
type Event struct {
	ID          string    `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Description *string   `db:"description" json:"description,omitempty"`
	EventType   EventType `db:"event_type" json:"eventType"`
	StartsAt    time.Time `db:"starts_at" json:"startsAt"`
	EndsAt      time.Time `db:"ends_at" json:"endsAt"`
	Location    *string   `db:"location" json:"location,omitempty"`
	BookingCode string    `db:"booking_code" json:"bookingCode"`
	CreatedBy   *string   `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// EventInstructor assigns an instructor to run an event.
type EventInstructor struct {
	ID          string    `db:"id" json:"id"`
	EventID     string    `db:"event_id" json:"eventId"`
	PersonnelID string    `db:"personnel_id" json:"personnelId"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// EventDetail bundles an event with its instructor call signs.
type EventDetail struct {
	Event
	Instructors []string `json:"instructors"`
}

// EventFilter bounds calendar listings.
type EventFilter struct {
	From      time.Time
	To        time.Time
	EventType *EventType
}
