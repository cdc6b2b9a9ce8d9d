package appointments

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Store for tests and local runs.
type MemoryRepo struct {
	mu    sync.Mutex
	items map[int64]Appointment
	now   func() time.Time
}

func NewMemoryRepo(seed ...Appointment) *MemoryRepo {
	r := &MemoryRepo{items: map[int64]Appointment{}, now: time.Now}
	for _, a := range seed {
		r.items[a.ID] = a
	}
	return r
}

func (r *MemoryRepo) Get(ctx context.Context, id int64) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) ListByProvider(ctx context.Context, providerName string) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool { return a.ProviderName == providerName }), nil
}

func (r *MemoryRepo) ListByCustomer(ctx context.Context, customerName string) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool { return a.CustomerName == customerName }), nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, id int64, status Status) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = r.now().UTC()
	r.items[id] = a
	return a, nil
}

func (r *MemoryRepo) filter(keep func(Appointment) bool) []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Appointment, 0)
	for _, a := range r.items {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
