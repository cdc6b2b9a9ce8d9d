package pricing

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixedService(repo CatalogRepository, at time.Time) *Service {
	s := NewService(repo)
	s.clock = func() time.Time { return at }
	return s
}

func TestQuote_FillsCatalogPrices(t *testing.T) {
	s := fixedService(NewMemoryRepo(DefaultCatalog("INR")...), time.Now())

	items, err := s.Quote(context.Background(), "Speedy Motors", []Selection{
		{ServiceID: "oil-change", Quantity: 1},
		{ServiceID: "brake-service"},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Name != "Oil Change" || items[0].UnitPriceMinor != 150000 {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[1].UnitPriceMinor != 350000 || items[1].Quantity != 1 {
		t.Fatalf("unexpected second item: %+v", items[1])
	}
}

func TestQuote_ExplicitPriceWins(t *testing.T) {
	s := fixedService(NewMemoryRepo(DefaultCatalog("INR")...), time.Now())
	items, err := s.Quote(context.Background(), "p", []Selection{{ServiceID: "car-wash", Name: "Premium Wash", UnitPriceMinor: 90000, Quantity: 2}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if items[0].UnitPriceMinor != 90000 || items[0].Name != "Premium Wash" || items[0].Quantity != 2 {
		t.Fatalf("unexpected item: %+v", items[0])
	}
}

func TestQuote_Errors(t *testing.T) {
	s := fixedService(NewMemoryRepo(DefaultCatalog("INR")...), time.Now())
	if _, err := s.Quote(context.Background(), "p", []Selection{{ServiceID: "teleport"}}); !errors.Is(err, ErrPricingNotFound) {
		t.Fatalf("expected ErrPricingNotFound, got %v", err)
	}
	if _, err := s.Quote(context.Background(), "p", []Selection{{ServiceID: "car-wash", Quantity: -1}}); !errors.Is(err, ErrInvalidPricingReq) {
		t.Fatalf("expected ErrInvalidPricingReq, got %v", err)
	}
	if _, err := s.Quote(context.Background(), "p", []Selection{{Quantity: 1}}); !errors.Is(err, ErrInvalidPricingReq) {
		t.Fatalf("expected ErrInvalidPricingReq, got %v", err)
	}
}

func TestFindServicePrice_EffectiveWindowAndOverride(t *testing.T) {
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	repo := NewMemoryRepo(
		ServicePrice{ServiceID: "oil-change", Name: "Oil Change", UnitPriceMinor: 100000, EffectiveFrom: jan, Status: PricingStatusActive},
		ServicePrice{ServiceID: "oil-change", Name: "Oil Change", UnitPriceMinor: 120000, EffectiveFrom: mar, Status: PricingStatusActive},
		ServicePrice{ServiceID: "oil-change", Name: "Oil Change", UnitPriceMinor: 999999, EffectiveFrom: mar, Status: PricingStatusInactive},
		ServicePrice{ProviderName: "Speedy Motors", ServiceID: "oil-change", Name: "Oil Change", UnitPriceMinor: 110000, EffectiveFrom: jan, Status: PricingStatusActive},
	)
	ctx := context.Background()

	p, ok, _ := repo.FindServicePrice(ctx, "Other Garage", "oil-change", jan.AddDate(0, 1, 0))
	if !ok || p.UnitPriceMinor != 100000 {
		t.Fatalf("expected january default, got %+v", p)
	}
	p, _, _ = repo.FindServicePrice(ctx, "Other Garage", "oil-change", mar.AddDate(0, 0, 1))
	if p.UnitPriceMinor != 120000 {
		t.Fatalf("expected march default, got %d", p.UnitPriceMinor)
	}
	p, _, _ = repo.FindServicePrice(ctx, "Speedy Motors", "oil-change", mar.AddDate(0, 0, 1))
	if p.UnitPriceMinor != 110000 {
		t.Fatalf("expected provider override, got %d", p.UnitPriceMinor)
	}
	if _, ok, _ := repo.FindServicePrice(ctx, "Other Garage", "oil-change", jan.AddDate(0, 0, -1)); ok {
		t.Fatalf("expected nothing before the window")
	}
}

func TestCatalog_ListsOnePerService(t *testing.T) {
	s := fixedService(NewMemoryRepo(DefaultCatalog("INR")...), time.Now())
	got, err := s.Catalog(context.Background(), "p")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("expected 6 catalog rows, got %d", len(got))
	}
}
