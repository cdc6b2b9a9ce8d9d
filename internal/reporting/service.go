package reporting

import (
	"context"
	"errors"

	"autocare-platform/internal/appointments"
	"autocare-platform/internal/billing"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce provider filtering.
type Repository interface {
	ListAppointments(ctx context.Context, providerName string) ([]appointments.Appointment, error)
	ListBilling(ctx context.Context, providerName string) ([]billing.Record, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) ProviderSummary(ctx context.Context, req ProviderSummaryRequest) (ProviderSummary, error) {
	if req.ProviderName == "" {
		return ProviderSummary{}, ErrInvalidRequest
	}
	if !req.Range.From.IsZero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return ProviderSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return ProviderSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListAppointments(ctx, req.ProviderName)
	if err != nil {
		return ProviderSummary{}, err
	}
	bills, err := s.repo.ListBilling(ctx, req.ProviderName)
	if err != nil {
		return ProviderSummary{}, err
	}
	byAppointment := map[int64][]billing.Record{}
	for _, b := range bills {
		byAppointment[b.AppointmentID] = append(byAppointment[b.AppointmentID], b)
	}

	out := ProviderSummary{ProviderName: req.ProviderName}
	for _, a := range rows {
		if !req.Range.contains(a.ScheduledAt) {
			continue
		}
		out.TotalAppointments++
		switch a.Status {
		case appointments.StatusConfirmed, appointments.StatusInProgress:
			out.ActiveAppointments++
		case appointments.StatusPending, appointments.StatusScheduled:
			out.PendingAppointments++
		case appointments.StatusCompleted:
			out.CompletedAppointments++
		case appointments.StatusCancelled:
			out.CancelledAppointments++
		}

		latest, ok := billing.Latest(byAppointment[a.ID])
		if !ok {
			if a.Status == appointments.StatusCompleted {
				out.UnbilledCompleted++
			}
			continue
		}
		if out.Currency == "" {
			out.Currency = latest.Currency
		}
		if latest.IsPaid() {
			out.PaidBills++
			out.PaidRevenueMinor += latest.TotalAmountMinor
		} else {
			out.PendingBills++
			out.OutstandingMinor += latest.TotalAmountMinor
		}
	}
	if out.Currency == "" {
		out.Currency = "UNKNOWN"
	}
	return out, nil
}
