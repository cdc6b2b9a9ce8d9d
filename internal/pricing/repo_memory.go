package pricing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory catalog. The station seeds it from
// DefaultCatalog; tests add their own rows.
type MemoryRepo struct {
	mu     sync.RWMutex
	prices []ServicePrice
}

func NewMemoryRepo(seed ...ServicePrice) *MemoryRepo {
	return &MemoryRepo{prices: append([]ServicePrice(nil), seed...)}
}

func (r *MemoryRepo) Add(p ServicePrice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices = append(r.prices, p)
}

// FindServicePrice prefers the provider's own row over the default catalog,
// and the most recent effective row within each.
func (r *MemoryRepo) FindServicePrice(ctx context.Context, providerName, serviceID string, at time.Time) (ServicePrice, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best ServicePrice
	found := false
	for _, p := range r.prices {
		if p.ServiceID != serviceID || !p.effectiveAt(at) {
			continue
		}
		if p.ProviderName != "" && p.ProviderName != providerName {
			continue
		}
		if !found || better(p, best) {
			best = p
			found = true
		}
	}
	return best, found, nil
}

func better(p, than ServicePrice) bool {
	if (p.ProviderName != "") != (than.ProviderName != "") {
		return p.ProviderName != ""
	}
	return p.EffectiveFrom.After(than.EffectiveFrom)
}

func (r *MemoryRepo) ListServicePrices(ctx context.Context, providerName string, at time.Time) ([]ServicePrice, error) {
	r.mu.RLock()
	ids := map[string]struct{}{}
	for _, p := range r.prices {
		ids[p.ServiceID] = struct{}{}
	}
	r.mu.RUnlock()

	out := make([]ServicePrice, 0, len(ids))
	for id := range ids {
		p, ok, err := r.FindServicePrice(ctx, providerName, id, at)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
