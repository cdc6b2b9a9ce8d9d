package authoring

import (
	"fmt"

	"autocare-platform/internal/billing"
)

// Mode is what the authoring flow offers for one appointment.
type Mode string

const (
	ModeCreate       Mode = "create"
	ModeEditExisting Mode = "edit-existing"
)

// Decision is the outcome of the authoring gate.
type Decision struct {
	AppointmentID  int64                  `json:"appointment_id"`
	Mode           Mode                   `json:"mode"`
	Classification billing.Classification `json:"classification"`
	// Existing is set in ModeEditExisting.
	Existing *billing.Record `json:"existing,omitempty"`
}

// View is the reconciliation state authoring reads and updates.
type View interface {
	Lookup(appointmentID int64) (billing.Classification, billing.Record, bool)
	ApplyCreated(rec billing.Record)
	ApplyPaid(rec billing.Record)
}

// Gate decides how the authoring flow may open for an appointment, using
// the last reconciled view. A paid appointment is blocked.
func Gate(view View, appointmentID int64) (Decision, error) {
	class, rec, hasRec := view.Lookup(appointmentID)
	d := Decision{AppointmentID: appointmentID, Mode: ModeCreate, Classification: class}
	switch {
	case class == billing.ClassPaid:
		return d, fmt.Errorf("appointment %d: %w", appointmentID, billing.ErrAlreadyPaid)
	case class == billing.ClassPending && hasRec && rec.TotalAmountMinor != 0:
		d.Mode = ModeEditExisting
		d.Existing = &rec
	}
	return d, nil
}
