package billing

import (
	"fmt"
	"strings"
)

type Totals struct {
	ServicesMinor int64
	ChargeMinor   int64
	TotalMinor    int64
}

// ComputeTotals sums unit price x quantity over items and adds the service charge.
func ComputeTotals(items []LineItem, chargeMinor int64) (Totals, error) {
	if len(items) == 0 {
		return Totals{}, ErrNoLineItems
	}
	if chargeMinor < 0 {
		return Totals{}, fmt.Errorf("%w: service charge must not be negative", ErrValidation)
	}
	var services int64
	for i, li := range items {
		if strings.TrimSpace(li.Name) == "" && strings.TrimSpace(li.ServiceID) == "" {
			return Totals{}, fmt.Errorf("%w: item %d has no name", ErrValidation, i)
		}
		if li.Quantity <= 0 {
			return Totals{}, fmt.Errorf("%w: item %d quantity must be positive", ErrValidation, i)
		}
		if li.UnitPriceMinor < 0 {
			return Totals{}, fmt.Errorf("%w: item %d price must not be negative", ErrValidation, i)
		}
		services += li.AmountMinor()
	}
	return Totals{ServicesMinor: services, ChargeMinor: chargeMinor, TotalMinor: services + chargeMinor}, nil
}

// Verify reports a data-integrity defect when the stored totals do not match
// the line items.
func (r Record) Verify() error {
	var services int64
	for _, li := range r.Items {
		services += li.AmountMinor()
	}
	if services != r.ServicesTotalMinor || services+r.ServiceChargeMinor != r.TotalAmountMinor {
		return fmt.Errorf("%w: billing %d stored total %d, line items give %d + %d",
			ErrIntegrity, r.ID, r.TotalAmountMinor, services, r.ServiceChargeMinor)
	}
	return nil
}

// Latest returns the record with the greatest id.
func Latest(records []Record) (Record, bool) {
	var best Record
	found := false
	for _, r := range records {
		if !found || r.ID > best.ID {
			best = r
			found = true
		}
	}
	return best, found
}

// Classify derives the payment classification of one appointment from all of
// its billing records.
func Classify(records []Record) Classification {
	latest, ok := Latest(records)
	if !ok {
		return ClassNoBilling
	}
	if latest.IsPaid() {
		return ClassPaid
	}
	return ClassPending
}
