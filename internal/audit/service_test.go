package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresAppointmentAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{Type: EventTypeBillingCreated}); err != ErrInvalidEvent {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{AppointmentID: 42}); err != ErrInvalidEvent {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogPaymentRecorded(context.Background(), 42, 9, "ravi", "UPI"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be assigned: %+v", evs[0])
	}
	if evs[0].Type != EventTypePaymentRecorded || evs[0].BillingID != 9 {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
}

func TestService_NilIsNotConfigured(t *testing.T) {
	var svc *Service
	if err := svc.LogBroadcast(context.Background(), 1, "p", true); err == nil {
		t.Fatalf("expected error from nil service")
	}
}
