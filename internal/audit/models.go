package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - appointment_id is required; every audited action belongs to one appointment.
// - actor capture is best-effort; do not block critical flows on audit failures.
type Event struct {
	ID            string    `json:"id" db:"id"`
	AppointmentID int64     `json:"appointment_id" db:"appointment_id"`
	Type          EventType `json:"type" db:"type"`

	// ActorName is the provider name or customer username causing the event.
	ActorName string `json:"actor_name,omitempty" db:"actor_name"`
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`

	BillingID int64 `json:"billing_id,omitempty" db:"billing_id"`

	Message  string `json:"message,omitempty" db:"message"`
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeBillingCreated   EventType = "billing_created"
	EventTypePaymentRecorded  EventType = "payment_recorded"
	EventTypeStatusChanged    EventType = "appointment_status_changed"
	EventTypeBroadcastStarted EventType = "broadcast_started"
	EventTypeBroadcastStopped EventType = "broadcast_stopped"
)
