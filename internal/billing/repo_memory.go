package billing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory repository for tests and local runs.
type MemoryRepo struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]Record
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: map[int64]Record{}}
}

func (r *MemoryRepo) Insert(ctx context.Context, rec Record) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.IdempotencyKey != "" {
		for _, existing := range r.records {
			if existing.IdempotencyKey == rec.IdempotencyKey {
				return existing, nil
			}
		}
	}
	r.nextID++
	rec.ID = r.nextID
	rec.Items = append([]LineItem(nil), rec.Items...)
	r.records[rec.ID] = rec
	return rec, nil
}

// Put stores a record as-is, keeping its id. Used to seed duplicates in tests.
func (r *MemoryRepo) Put(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID > r.nextID {
		r.nextID = rec.ID
	}
	r.records[rec.ID] = rec
}

func (r *MemoryRepo) Get(ctx context.Context, id int64) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) ListByAppointment(ctx context.Context, appointmentID int64) ([]Record, error) {
	return r.filter(func(rec Record) bool { return rec.AppointmentID == appointmentID }), nil
}

func (r *MemoryRepo) ListByProvider(ctx context.Context, providerName string) ([]Record, error) {
	return r.filter(func(rec Record) bool { return rec.ProviderName == providerName }), nil
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	return r.filter(func(rec Record) bool { return rec.UserID == userID }), nil
}

func (r *MemoryRepo) MarkPaid(ctx context.Context, id int64, method string, at time.Time) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.IsPaid() {
		return Record{}, ErrAlreadyPaid
	}
	rec.PaymentStatus = PaymentPaid
	rec.PaymentMethod = method
	rec.PaidAt = &at
	r.records[id] = rec
	return rec, nil
}

func (r *MemoryRepo) filter(keep func(Record) bool) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
