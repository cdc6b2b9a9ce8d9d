package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("billing: not found")
	ErrValidation  = errors.New("billing: validation failed")
	ErrNoLineItems = fmt.Errorf("%w: at least one service must be selected", ErrValidation)
	ErrConflict    = errors.New("billing: conflict")
	ErrAlreadyPaid = fmt.Errorf("%w: already paid", ErrConflict)
	ErrIntegrity   = errors.New("billing: total does not match line items")
)

// Repository abstracts billing persistence.
type Repository interface {
	Insert(ctx context.Context, r Record) (Record, error)
	Get(ctx context.Context, id int64) (Record, error)
	ListByAppointment(ctx context.Context, appointmentID int64) ([]Record, error)
	ListByProvider(ctx context.Context, providerName string) ([]Record, error)
	ListByUser(ctx context.Context, userID string) ([]Record, error)
	// MarkPaid moves a pending record to paid atomically. It returns
	// ErrAlreadyPaid if the record is already paid.
	MarkPaid(ctx context.Context, id int64, method string, at time.Time) (Record, error)
}

// AuditLog receives billing events. Failures are logged, never returned.
type AuditLog interface {
	LogBillingCreated(ctx context.Context, appointmentID, billingID int64, actor string, totalMinor int64) error
	LogPaymentRecorded(ctx context.Context, appointmentID, billingID int64, actor, method string) error
}

// Service owns bill creation and payment on the store side.
//
// Invariants:
// - total = sum(unit price x quantity) + service charge, computed here, never trusted from input
// - a paid record never goes back to pending
// - no new bill for an appointment whose latest bill is paid
type Service struct {
	repo     Repository
	audit    AuditLog
	log      *slog.Logger
	currency string
	clock    func() time.Time
}

func NewService(repo Repository, audit AuditLog, currency string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, audit: audit, log: log, currency: currency, clock: time.Now}
}

func (s *Service) Create(ctx context.Context, actor string, req CreateRequest) (Record, error) {
	if req.AppointmentID <= 0 {
		return Record{}, fmt.Errorf("%w: appointment_id required", ErrValidation)
	}
	if strings.TrimSpace(req.ProviderName) == "" {
		return Record{}, fmt.Errorf("%w: provider_name required", ErrValidation)
	}
	totals, err := ComputeTotals(req.Items, req.ServiceChargeMinor)
	if err != nil {
		return Record{}, err
	}

	existing, err := s.repo.ListByAppointment(ctx, req.AppointmentID)
	if err != nil {
		return Record{}, err
	}
	if Classify(existing) == ClassPaid {
		return Record{}, ErrAlreadyPaid
	}

	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}
	rec, err := s.repo.Insert(ctx, Record{
		AppointmentID:      req.AppointmentID,
		UserID:             req.UserID,
		ProviderName:       req.ProviderName,
		VehicleName:        req.VehicleName,
		VehicleNumber:      req.VehicleNumber,
		Items:              req.Items,
		ServicesTotalMinor: totals.ServicesMinor,
		ServiceChargeMinor: totals.ChargeMinor,
		TotalAmountMinor:   totals.TotalMinor,
		Currency:           currency,
		PaymentStatus:      PaymentPending,
		IdempotencyKey:     req.IdempotencyKey,
		CreatedAt:          s.clock().UTC(),
	})
	if err != nil {
		return Record{}, err
	}

	if s.audit != nil {
		if err := s.audit.LogBillingCreated(ctx, rec.AppointmentID, rec.ID, actor, rec.TotalAmountMinor); err != nil {
			s.log.Warn("audit billing_created failed", "billing_id", rec.ID, "err", err)
		}
	}
	return rec, nil
}

func (s *Service) Pay(ctx context.Context, actor string, id int64, method string) (Record, error) {
	method = strings.TrimSpace(method)
	if id <= 0 {
		return Record{}, fmt.Errorf("%w: billing id required", ErrValidation)
	}
	if method == "" {
		return Record{}, fmt.Errorf("%w: payment_method required", ErrValidation)
	}

	rec, err := s.repo.MarkPaid(ctx, id, method, s.clock().UTC())
	if err != nil {
		return Record{}, err
	}
	if s.audit != nil {
		if err := s.audit.LogPaymentRecorded(ctx, rec.AppointmentID, rec.ID, actor, method); err != nil {
			s.log.Warn("audit payment_recorded failed", "billing_id", rec.ID, "err", err)
		}
	}
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Record, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByAppointment(ctx context.Context, appointmentID int64) ([]Record, error) {
	return s.repo.ListByAppointment(ctx, appointmentID)
}

func (s *Service) ListByProvider(ctx context.Context, providerName string) ([]Record, error) {
	if providerName == "" {
		return nil, fmt.Errorf("%w: provider_name required", ErrValidation)
	}
	return s.repo.ListByProvider(ctx, providerName)
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id required", ErrValidation)
	}
	return s.repo.ListByUser(ctx, userID)
}
