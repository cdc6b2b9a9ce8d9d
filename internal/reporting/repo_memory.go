package reporting

import (
	"context"
	"errors"
	"sync"

	"autocare-platform/internal/appointments"
	"autocare-platform/internal/billing"
)

// MemoryRepo is a simple in-memory reporting repository for tests.
// It enforces provider isolation on reads.
type MemoryRepo struct {
	mu sync.Mutex

	Appointments []appointments.Appointment
	Bills        []billing.Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListAppointments(ctx context.Context, providerName string) ([]appointments.Appointment, error) {
	if providerName == "" {
		return nil, errors.New("provider_name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]appointments.Appointment, 0)
	for _, a := range r.Appointments {
		if a.ProviderName == providerName {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListBilling(ctx context.Context, providerName string) ([]billing.Record, error) {
	if providerName == "" {
		return nil, errors.New("provider_name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]billing.Record, 0)
	for _, b := range r.Bills {
		if b.ProviderName == providerName {
			out = append(out, b)
		}
	}
	return out, nil
}

// SourceRepo reads through the appointment and billing services.
type SourceRepo struct {
	appts interface {
		ListByProvider(ctx context.Context, providerName string) ([]appointments.Appointment, error)
	}
	bills interface {
		ListByProvider(ctx context.Context, providerName string) ([]billing.Record, error)
	}
}

func NewSourceRepo(appts interface {
	ListByProvider(ctx context.Context, providerName string) ([]appointments.Appointment, error)
}, bills interface {
	ListByProvider(ctx context.Context, providerName string) ([]billing.Record, error)
}) *SourceRepo {
	return &SourceRepo{appts: appts, bills: bills}
}

func (r *SourceRepo) ListAppointments(ctx context.Context, providerName string) ([]appointments.Appointment, error) {
	return r.appts.ListByProvider(ctx, providerName)
}

func (r *SourceRepo) ListBilling(ctx context.Context, providerName string) ([]billing.Record, error) {
	return r.bills.ListByProvider(ctx, providerName)
}
