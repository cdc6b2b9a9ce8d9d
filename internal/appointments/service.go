package appointments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrNotFound          = errors.New("appointments: not found")
	ErrInvalidStatus     = errors.New("appointments: invalid status")
	ErrInvalidTransition = errors.New("appointments: invalid status transition")
)

// Store reads appointments and persists status changes. Postgres, memory and
// the HTTP client all implement it.
type Store interface {
	Get(ctx context.Context, id int64) (Appointment, error)
	ListByProvider(ctx context.Context, providerName string) ([]Appointment, error)
	ListByCustomer(ctx context.Context, customerName string) ([]Appointment, error)
	UpdateStatus(ctx context.Context, id int64, status Status) (Appointment, error)
}

// StatusListener is notified after a status change has been stored.
// Implementations must not block.
type StatusListener interface {
	OnStatusChange(ctx context.Context, a Appointment, from Status)
}

// ListenerFunc adapts a function to StatusListener.
type ListenerFunc func(ctx context.Context, a Appointment, from Status)

func (f ListenerFunc) OnStatusChange(ctx context.Context, a Appointment, from Status) {
	f(ctx, a, from)
}

// StatusAudit records status changes; failures are logged only.
type StatusAudit interface {
	LogStatusChanged(ctx context.Context, appointmentID int64, actor, from, to string) error
}

type Service struct {
	store     Store
	audit     StatusAudit
	log       *slog.Logger
	listeners []StatusListener
}

func NewService(store Store, audit StatusAudit, log *slog.Logger, listeners ...StatusListener) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, audit: audit, log: log, listeners: listeners}
}

// UpdateStatus validates and stores a status change, then notifies listeners.
func (s *Service) UpdateStatus(ctx context.Context, actor string, id int64, to Status) (Appointment, error) {
	parsed, ok := ParseStatus(string(to))
	if !ok {
		return Appointment{}, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	to = parsed
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return Appointment{}, err
	}
	if !CanTransition(current.Status, to) {
		return Appointment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}

	updated, err := s.store.UpdateStatus(ctx, id, to)
	if err != nil {
		return Appointment{}, err
	}

	if s.audit != nil {
		if err := s.audit.LogStatusChanged(ctx, id, actor, string(current.Status), string(to)); err != nil {
			s.log.Warn("audit status change failed", "appointment_id", id, "err", err)
		}
	}
	for _, l := range s.listeners {
		l.OnStatusChange(ctx, updated, current.Status)
	}
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Appointment, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByProvider(ctx context.Context, providerName string) ([]Appointment, error) {
	return s.store.ListByProvider(ctx, providerName)
}

func (s *Service) ListByCustomer(ctx context.Context, customerName string) ([]Appointment, error) {
	return s.store.ListByCustomer(ctx, customerName)
}
