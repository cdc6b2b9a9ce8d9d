package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"autocare-platform/internal/appointments"
	"autocare-platform/internal/billing"
)

func TestReporting_ProviderIsolation(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Appointments = []appointments.Appointment{
		{ID: 1, ProviderName: "p1", Status: appointments.StatusCompleted},
		{ID: 2, ProviderName: "p2", Status: appointments.StatusCompleted},
	}
	svc := NewService(repo)

	out, err := svc.ProviderSummary(context.Background(), ProviderSummaryRequest{ProviderName: "p1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalAppointments != 1 {
		t.Fatalf("expected 1 appointment, got %d", out.TotalAppointments)
	}
}

func TestReporting_CountsAndRevenue(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Appointments = []appointments.Appointment{
		{ID: 1, ProviderName: "p", Status: appointments.StatusConfirmed},
		{ID: 2, ProviderName: "p", Status: appointments.StatusInProgress},
		{ID: 3, ProviderName: "p", Status: appointments.StatusPending},
		{ID: 4, ProviderName: "p", Status: appointments.StatusScheduled},
		{ID: 5, ProviderName: "p", Status: appointments.StatusCompleted},
		{ID: 6, ProviderName: "p", Status: appointments.StatusCompleted},
		{ID: 7, ProviderName: "p", Status: appointments.StatusCancelled},
	}
	repo.Bills = []billing.Record{
		{ID: 10, AppointmentID: 5, ProviderName: "p", Currency: "INR", TotalAmountMinor: 100000, PaymentStatus: billing.PaymentPending},
		// latest bill for 5 wins.
		{ID: 11, AppointmentID: 5, ProviderName: "p", Currency: "INR", TotalAmountMinor: 550000, PaymentStatus: billing.PaymentPaid},
		{ID: 12, AppointmentID: 2, ProviderName: "p", Currency: "INR", TotalAmountMinor: 200000, PaymentStatus: billing.PaymentPending},
	}
	svc := NewService(repo)

	out, err := svc.ProviderSummary(context.Background(), ProviderSummaryRequest{ProviderName: "p"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalAppointments != 7 || out.ActiveAppointments != 2 || out.PendingAppointments != 2 ||
		out.CompletedAppointments != 2 || out.CancelledAppointments != 1 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.PaidRevenueMinor != 550000 || out.OutstandingMinor != 200000 {
		t.Fatalf("unexpected revenue: %+v", out)
	}
	if out.PaidBills != 1 || out.PendingBills != 1 || out.UnbilledCompleted != 1 {
		t.Fatalf("unexpected bill counts: %+v", out)
	}
	if out.Currency != "INR" {
		t.Fatalf("expected INR, got %q", out.Currency)
	}
}

func TestReporting_RangeFilter(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	repo := NewMemoryRepo()
	repo.Appointments = []appointments.Appointment{
		{ID: 1, ProviderName: "p", Status: appointments.StatusPending, ScheduledAt: now},
		{ID: 2, ProviderName: "p", Status: appointments.StatusPending, ScheduledAt: now.Add(-48 * time.Hour)},
	}
	svc := NewService(repo)

	out, err := svc.ProviderSummary(context.Background(), ProviderSummaryRequest{
		ProviderName: "p",
		Range:        TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalAppointments != 1 {
		t.Fatalf("expected 1 appointment in range, got %d", out.TotalAppointments)
	}
}

func TestReporting_InvalidRequest(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	if _, err := svc.ProviderSummary(context.Background(), ProviderSummaryRequest{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	now := time.Now()
	_, err := svc.ProviderSummary(context.Background(), ProviderSummaryRequest{ProviderName: "p", Range: TimeRange{From: now, To: now.Add(-time.Hour)}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for inverted range, got %v", err)
	}
}
