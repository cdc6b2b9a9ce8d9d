package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only; there is no Update or Delete.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records audit events. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.AppointmentID <= 0 || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) LogBillingCreated(ctx context.Context, appointmentID, billingID int64, actor string, totalMinor int64) error {
	return s.Append(ctx, Event{
		AppointmentID: appointmentID,
		Type:          EventTypeBillingCreated,
		ActorName:     actor,
		ActorRole:     "provider",
		BillingID:     billingID,
		Message:       fmt.Sprintf("bill created, total %d", totalMinor),
	})
}

func (s *Service) LogPaymentRecorded(ctx context.Context, appointmentID, billingID int64, actor, method string) error {
	return s.Append(ctx, Event{
		AppointmentID: appointmentID,
		Type:          EventTypePaymentRecorded,
		ActorName:     actor,
		BillingID:     billingID,
		Message:       "paid via " + method,
	})
}

func (s *Service) LogStatusChanged(ctx context.Context, appointmentID int64, actor, from, to string) error {
	return s.Append(ctx, Event{
		AppointmentID: appointmentID,
		Type:          EventTypeStatusChanged,
		ActorName:     actor,
		Message:       from + " -> " + to,
	})
}

func (s *Service) LogBroadcast(ctx context.Context, appointmentID int64, actor string, started bool) error {
	t := EventTypeBroadcastStopped
	if started {
		t = EventTypeBroadcastStarted
	}
	return s.Append(ctx, Event{AppointmentID: appointmentID, Type: t, ActorName: actor})
}
