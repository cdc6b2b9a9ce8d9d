// Package authoring creates and pays bills from the provider station,
// keeping the reconciliation view up to date without waiting for a pass.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"autocare-platform/internal/appointments"
	"autocare-platform/internal/billing"
	"autocare-platform/internal/pricing"
	"autocare-platform/pkg/logger"
)

// ErrPendingExists is returned by Submit when the appointment already has a
// pending bill. Replace authors a superseding bill instead.
var ErrPendingExists = fmt.Errorf("%w: a pending bill already exists", billing.ErrConflict)

// Creator submits a new bill to the billing store.
type Creator interface {
	CreateBilling(ctx context.Context, req billing.CreateRequest) (billing.Record, error)
}

// Payer records a payment against a bill.
type Payer interface {
	PayBilling(ctx context.Context, billingID int64, method string) (billing.Record, error)
}

// Quoter turns selections into priced line items.
type Quoter interface {
	Quote(ctx context.Context, providerName string, selections []pricing.Selection) ([]billing.LineItem, error)
}

// Handoff is called with every bill authored, for the billing-detail view.
type Handoff func(ctx context.Context, rec billing.Record)

type Config struct {
	ServiceChargeMinor int64
	Currency           string
}

type Service struct {
	view    View
	creator Creator
	payer   Payer
	quoter  Quoter
	handoff Handoff
	cfg     Config
	log     *slog.Logger
	newKey  func() string
}

func NewService(view View, creator Creator, payer Payer, quoter Quoter, handoff Handoff, cfg Config, log *slog.Logger) *Service {
	return &Service{
		view:    view,
		creator: creator,
		payer:   payer,
		quoter:  quoter,
		handoff: handoff,
		cfg:     cfg,
		log:     logger.Component(log, "authoring"),
		newKey:  uuid.NewString,
	}
}

// Gate reports how authoring may open for the appointment.
func (s *Service) Gate(appointmentID int64) (Decision, error) {
	return Gate(s.view, appointmentID)
}

// Submit authors the first bill for an appointment.
func (s *Service) Submit(ctx context.Context, appt appointments.Appointment, selections []pricing.Selection) (billing.Record, error) {
	d, err := s.Gate(appt.ID)
	if err != nil {
		return billing.Record{}, err
	}
	if d.Mode == ModeEditExisting {
		return billing.Record{}, fmt.Errorf("appointment %d bill %d: %w", appt.ID, d.Existing.ID, ErrPendingExists)
	}
	return s.author(ctx, appt, selections)
}

// Replace authors a bill that supersedes the pending one. Latest wins, so
// the new record becomes the appointment's bill.
func (s *Service) Replace(ctx context.Context, appt appointments.Appointment, selections []pricing.Selection) (billing.Record, error) {
	if _, err := s.Gate(appt.ID); err != nil {
		return billing.Record{}, err
	}
	return s.author(ctx, appt, selections)
}

func (s *Service) author(ctx context.Context, appt appointments.Appointment, selections []pricing.Selection) (billing.Record, error) {
	if len(selections) == 0 {
		return billing.Record{}, billing.ErrNoLineItems
	}
	items, err := s.quoter.Quote(ctx, appt.ProviderName, selections)
	if err != nil {
		if errors.Is(err, pricing.ErrPricingNotFound) || errors.Is(err, pricing.ErrInvalidPricingReq) {
			return billing.Record{}, fmt.Errorf("%w: %v", billing.ErrValidation, err)
		}
		return billing.Record{}, err
	}
	totals, err := billing.ComputeTotals(items, s.cfg.ServiceChargeMinor)
	if err != nil {
		return billing.Record{}, err
	}

	log := logger.ForAppointment(s.log, appt.ID)
	rec, err := s.creator.CreateBilling(ctx, billing.CreateRequest{
		AppointmentID:      appt.ID,
		UserID:             appt.UserID,
		ProviderName:       appt.ProviderName,
		VehicleName:        appt.VehicleName,
		VehicleNumber:      appt.VehicleNumber,
		Items:              items,
		ServiceChargeMinor: totals.ChargeMinor,
		Currency:           s.cfg.Currency,
		IdempotencyKey:     s.newKey(),
	})
	if err != nil {
		log.Warn("create billing failed", "err", err)
		return billing.Record{}, err
	}
	if rec.TotalAmountMinor != totals.TotalMinor {
		log.Error("store total differs from local total", "billing_id", rec.ID, "store", rec.TotalAmountMinor, "local", totals.TotalMinor)
	}

	s.view.ApplyCreated(rec)
	log.Info("billing created", "billing_id", rec.ID, "total_minor", rec.TotalAmountMinor)
	if s.handoff != nil {
		s.handoff(ctx, rec)
	}
	return rec, nil
}

// Pay records a payment for the appointment's current bill. An already paid
// appointment is rejected without contacting the store.
func (s *Service) Pay(ctx context.Context, appointmentID int64, method string) (billing.Record, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return billing.Record{}, fmt.Errorf("%w: payment method is required", billing.ErrValidation)
	}
	class, rec, hasRec := s.view.Lookup(appointmentID)
	switch {
	case class == billing.ClassPaid:
		return billing.Record{}, fmt.Errorf("appointment %d: %w", appointmentID, billing.ErrAlreadyPaid)
	case !hasRec:
		return billing.Record{}, fmt.Errorf("appointment %d: %w", appointmentID, billing.ErrNotFound)
	}

	paid, err := s.payer.PayBilling(ctx, rec.ID, method)
	if err != nil {
		return billing.Record{}, err
	}
	s.view.ApplyPaid(paid)
	logger.ForAppointment(s.log, appointmentID).Info("payment recorded", "billing_id", paid.ID, "method", paid.PaymentMethod)
	return paid, nil
}
