package billing

import "time"

// Amounts are expressed in minor units (paise) using int64.

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// Classification is the derived payment state of one appointment.
type Classification string

const (
	ClassNoBilling Classification = "no-billing"
	ClassPending   Classification = "pending"
	ClassPaid      Classification = "paid"
)

type LineItem struct {
	ServiceID      string `json:"service_id,omitempty"`
	Name           string `json:"name"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	Quantity       int    `json:"quantity"`
}

func (li LineItem) AmountMinor() int64 {
	return li.UnitPriceMinor * int64(li.Quantity)
}

// Record is a bill for one appointment. It only changes once, pending -> paid.
type Record struct {
	ID            int64  `json:"id"`
	AppointmentID int64  `json:"appointment_id"`
	UserID        string `json:"user_id"`
	ProviderName  string `json:"provider_name"`
	VehicleName   string `json:"vehicle_name,omitempty"`
	VehicleNumber string `json:"vehicle_number,omitempty"`

	Items              []LineItem `json:"items"`
	ServicesTotalMinor int64      `json:"services_total_minor"`
	ServiceChargeMinor int64      `json:"service_charge_minor"`
	TotalAmountMinor   int64      `json:"total_amount_minor"`
	Currency           string     `json:"currency"`

	PaymentStatus PaymentStatus `json:"payment_status"`
	// PaymentMethod is set only once paid.
	PaymentMethod string     `json:"payment_method,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`

	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (r Record) IsPaid() bool { return r.PaymentStatus == PaymentPaid }

type CreateRequest struct {
	AppointmentID      int64      `json:"appointment_id"`
	UserID             string     `json:"user_id"`
	ProviderName       string     `json:"provider_name"`
	VehicleName        string     `json:"vehicle_name,omitempty"`
	VehicleNumber      string     `json:"vehicle_number,omitempty"`
	Items              []LineItem `json:"items"`
	ServiceChargeMinor int64      `json:"service_charge_minor"`
	Currency           string     `json:"currency,omitempty"`
	IdempotencyKey     string     `json:"idempotency_key,omitempty"`
}

type PayRequest struct {
	PaymentMethod string `json:"payment_method"`
}
