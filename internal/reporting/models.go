package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) contains(t time.Time) bool {
	if r.From.IsZero() && r.To.IsZero() {
		return true
	}
	if t.IsZero() {
		return true
	}
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	return r.To.IsZero() || t.Before(r.To)
}

// ProviderSummaryRequest requests the dashboard counters of one provider.
// Provider isolation: ProviderName is required. An empty range means all time.
type ProviderSummaryRequest struct {
	ProviderName string    `json:"provider_name"`
	Range        TimeRange `json:"range"`
}

type ProviderSummary struct {
	ProviderName string `json:"provider_name"`

	TotalAppointments     int `json:"total_appointments"`
	ActiveAppointments    int `json:"active_appointments"`
	PendingAppointments   int `json:"pending_appointments"`
	CompletedAppointments int `json:"completed_appointments"`
	CancelledAppointments int `json:"cancelled_appointments"`

	// Revenue counts the latest bill of each appointment only.
	Currency          string `json:"currency"`
	PaidRevenueMinor  int64  `json:"paid_revenue_minor"`
	OutstandingMinor  int64  `json:"outstanding_minor"`
	PaidBills         int    `json:"paid_bills"`
	PendingBills      int    `json:"pending_bills"`
	UnbilledCompleted int    `json:"unbilled_completed"`
}
