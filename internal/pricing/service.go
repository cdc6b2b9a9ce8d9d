package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autocare-platform/internal/billing"
)

// Service resolves service selections into priced line items.
//
// Contract:
// - Explicit unit prices on a selection win over the catalog.
// - Missing prices are looked up per provider, falling back to the default catalog.
// - Pure calculation + repository lookups.
type Service struct {
	repo  CatalogRepository
	clock func() time.Time
}

func NewService(repo CatalogRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrPricingNotFound   = errors.New("pricing not found")
	ErrInvalidPricingReq = errors.New("invalid pricing request")
)

// CatalogRepository abstracts catalog persistence.
type CatalogRepository interface {
	FindServicePrice(ctx context.Context, providerName, serviceID string, at time.Time) (ServicePrice, bool, error)
	ListServicePrices(ctx context.Context, providerName string, at time.Time) ([]ServicePrice, error)
}

// Catalog lists the prices currently in effect for a provider.
func (s *Service) Catalog(ctx context.Context, providerName string) ([]ServicePrice, error) {
	return s.repo.ListServicePrices(ctx, providerName, s.clock().UTC())
}

// Quote turns selections into line items. Quantity defaults to 1.
func (s *Service) Quote(ctx context.Context, providerName string, selections []Selection) ([]billing.LineItem, error) {
	at := s.clock().UTC()
	out := make([]billing.LineItem, 0, len(selections))
	for i, sel := range selections {
		qty := sel.Quantity
		if qty == 0 {
			qty = 1
		}
		if qty < 0 || sel.UnitPriceMinor < 0 {
			return nil, fmt.Errorf("%w: selection %d", ErrInvalidPricingReq, i)
		}
		li := billing.LineItem{
			ServiceID:      sel.ServiceID,
			Name:           strings.TrimSpace(sel.Name),
			UnitPriceMinor: sel.UnitPriceMinor,
			Quantity:       qty,
		}
		if li.UnitPriceMinor == 0 || li.Name == "" {
			if sel.ServiceID == "" {
				return nil, fmt.Errorf("%w: selection %d needs a service id or a name and price", ErrInvalidPricingReq, i)
			}
			p, ok, err := s.repo.FindServicePrice(ctx, providerName, sel.ServiceID, at)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrPricingNotFound, sel.ServiceID)
			}
			if li.UnitPriceMinor == 0 {
				li.UnitPriceMinor = p.UnitPriceMinor
			}
			if li.Name == "" {
				li.Name = p.Name
			}
		}
		out = append(out, li)
	}
	return out, nil
}
