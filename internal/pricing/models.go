package pricing

import "time"

// Amounts are expressed in minor units (paise) using int64.

// ServicePrice is one catalog row: the price a provider charges for a
// service during an effective window. Rows with an empty ProviderName form
// the default catalog every provider falls back to.
type ServicePrice struct {
	ID           string `json:"id" db:"id"`
	ProviderName string `json:"provider_name,omitempty" db:"provider_name"`
	ServiceID    string `json:"service_id" db:"service_id"`
	Name         string `json:"name" db:"name"`

	Currency       string `json:"currency" db:"currency"`
	UnitPriceMinor int64  `json:"unit_price_minor" db:"unit_price_minor"`

	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status PricingStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (p ServicePrice) effectiveAt(at time.Time) bool {
	if p.Status != PricingStatusActive {
		return false
	}
	if at.Before(p.EffectiveFrom) {
		return false
	}
	return p.EffectiveTo == nil || at.Before(*p.EffectiveTo)
}

type PricingStatus string

const (
	PricingStatusActive   PricingStatus = "active"
	PricingStatusInactive PricingStatus = "inactive"
)

// Selection is one service picked for a bill. A zero UnitPriceMinor means
// "use the catalog price".
type Selection struct {
	ServiceID      string `json:"service_id"`
	Name           string `json:"name,omitempty"`
	UnitPriceMinor int64  `json:"unit_price_minor,omitempty"`
	Quantity       int    `json:"quantity"`
}

// DefaultCatalog is the seed catalog used when no provider-specific prices exist.
func DefaultCatalog(currency string) []ServicePrice {
	seed := []struct {
		id, name string
		price    int64
	}{
		{"oil-change", "Oil Change", 150000},
		{"brake-service", "Brake Service", 350000},
		{"car-wash", "Car Wash", 50000},
		{"wheel-alignment", "Wheel Alignment", 120000},
		{"battery-check", "Battery Check", 30000},
		{"general-service", "General Service", 250000},
	}
	out := make([]ServicePrice, 0, len(seed))
	for _, s := range seed {
		out = append(out, ServicePrice{
			ID:             "default-" + s.id,
			ServiceID:      s.id,
			Name:           s.name,
			Currency:       currency,
			UnitPriceMinor: s.price,
			Status:         PricingStatusActive,
		})
	}
	return out
}
