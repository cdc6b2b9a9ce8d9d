package signaling

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotReady means an offer, answer or candidate has not been published yet.
	// It is a normal transient state, not a failure.
	ErrNotReady = errors.New("signaling: not ready")
	// ErrStreamNotFound means no stream record exists for the appointment.
	ErrStreamNotFound = errors.New("signaling: stream not found")
	ErrInvalid        = errors.New("signaling: invalid request")
	ErrNetwork        = errors.New("signaling: network error")
)

// NetworkError is a transient transport failure talking to a collaborator.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// Exchange is the stream record contract shared by the broadcaster and the
// viewer. Offer and Answer return ErrNotReady until published.
type Exchange interface {
	// StartStream creates the stream record, replacing any previous one for
	// the appointment together with its offer, answer and candidates.
	StartStream(ctx context.Context, req StartRequest) (Stream, error)
	GetStream(ctx context.Context, appointmentID int64) (Stream, error)
	SetStatus(ctx context.Context, appointmentID int64, status StreamStatus) error
	// StopStream removes the stream record. Stopping a missing stream is a no-op.
	StopStream(ctx context.Context, appointmentID int64) error

	PublishOffer(ctx context.Context, appointmentID int64, sdp string) error
	Offer(ctx context.Context, appointmentID int64) (string, error)
	PublishAnswer(ctx context.Context, appointmentID int64, sdp string) error
	Answer(ctx context.Context, appointmentID int64) (string, error)

	PublishCandidate(ctx context.Context, appointmentID int64, c Candidate) error
	// Candidates returns every candidate published by role so far, oldest first.
	Candidates(ctx context.Context, appointmentID int64, role Role) ([]Candidate, error)

	// ActiveStreams lists non-inactive streams where identity is the provider or the customer.
	ActiveStreams(ctx context.Context, identity string) ([]ActiveStream, error)
}

// Watcher is implemented by exchanges that can push change notifications.
// The returned channel is closed when ctx ends or the subscription breaks.
type Watcher interface {
	Watch(ctx context.Context, appointmentID int64) (<-chan Event, error)
}

func validateStart(req StartRequest) error {
	if req.AppointmentID <= 0 {
		return fmt.Errorf("%w: appointment_id required", ErrInvalid)
	}
	if req.ProviderName == "" {
		return fmt.Errorf("%w: provider_name required", ErrInvalid)
	}
	return nil
}

func validateCandidate(c Candidate) error {
	if !c.Role.Valid() {
		return fmt.Errorf("%w: role must be provider or customer", ErrInvalid)
	}
	if c.Candidate == "" {
		return fmt.Errorf("%w: candidate required", ErrInvalid)
	}
	return nil
}
