package appointments

import (
	"strings"
	"time"
)

// Appointment is a booked vehicle service. Bookings are created elsewhere;
// this module only reads them and changes their status.
type Appointment struct {
	ID     int64  `json:"id" db:"id"`
	Status Status `json:"status" db:"status"`

	VehicleName   string `json:"vehicle_name,omitempty" db:"vehicle_name"`
	VehicleNumber string `json:"vehicle_number,omitempty" db:"vehicle_number"`
	ServiceType   string `json:"service_type,omitempty" db:"service_type"`

	ProviderID   int64  `json:"provider_id,omitempty" db:"provider_id"`
	ProviderName string `json:"provider_name" db:"provider_name"`

	// CustomerName is the customer's username; UserID their account id.
	CustomerName string `json:"customer_name" db:"customer_name"`
	UserID       string `json:"user_id,omitempty" db:"user_id"`

	ScheduledAt time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusScheduled, StatusConfirmed, StatusInProgress, StatusCancelled},
	StatusScheduled:  {StatusConfirmed, StatusInProgress, StatusCancelled},
	StatusConfirmed:  {StatusScheduled, StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether an appointment may move from one status to another.
// completed and cancelled are terminal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further status change is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseStatus accepts the spellings seen in stored data ("In Progress",
// "in_progress", "canceled") and returns the canonical status.
func ParseStatus(v string) (Status, bool) {
	s := strings.ToLower(strings.TrimSpace(v))
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)
	switch Status(s) {
	case StatusPending, StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return Status(s), true
	case "canceled":
		return StatusCancelled, true
	case "inprogress":
		return StatusInProgress, true
	}
	return "", false
}
