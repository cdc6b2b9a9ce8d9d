// Package reconcile derives the payment classification of a set of
// appointments from the billing store.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"autocare-platform/internal/appointments"
	"autocare-platform/internal/billing"
	"autocare-platform/pkg/logger"
)

// Source looks up every billing record of one appointment.
type Source interface {
	ListByAppointment(ctx context.Context, appointmentID int64) ([]billing.Record, error)
}

// AppointmentLister returns the appointments a pass covers.
type AppointmentLister interface {
	ListAppointments(ctx context.Context) ([]appointments.Appointment, error)
}

type ListerFunc func(ctx context.Context) ([]appointments.Appointment, error)

func (f ListerFunc) ListAppointments(ctx context.Context) ([]appointments.Appointment, error) {
	return f(ctx)
}

// ProviderScope lists the appointments of one provider.
func ProviderScope(store appointments.Store, providerName string) AppointmentLister {
	return ListerFunc(func(ctx context.Context) ([]appointments.Appointment, error) {
		return store.ListByProvider(ctx, providerName)
	})
}

// CustomerScope lists the appointments of one customer.
func CustomerScope(store appointments.Store, username string) AppointmentLister {
	return ListerFunc(func(ctx context.Context) ([]appointments.Appointment, error) {
		return store.ListByCustomer(ctx, username)
	})
}

// Snapshot is the result of one full pass. It is never mutated after it has
// been published; updates swap in a copy.
type Snapshot struct {
	Status       map[int64]billing.Classification `json:"status"`
	Details      map[int64]billing.Record         `json:"details"`
	Appointments []appointments.Appointment       `json:"appointments"`
	RefreshedAt  time.Time                        `json:"refreshed_at"`
	Pass         uint64                           `json:"pass"`
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Status:       map[int64]billing.Classification{},
		Details:      map[int64]billing.Record{},
		Appointments: []appointments.Appointment{},
	}
}

func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{
		Status:       make(map[int64]billing.Classification, len(s.Status)),
		Details:      make(map[int64]billing.Record, len(s.Details)),
		Appointments: s.Appointments,
		RefreshedAt:  s.RefreshedAt,
		Pass:         s.Pass,
	}
	for k, v := range s.Status {
		out.Status[k] = v
	}
	for k, v := range s.Details {
		out.Details[k] = v
	}
	return out
}

type Config struct {
	// Scope names the appointment set, e.g. "provider:Speedy Motors". It keys the lease.
	Scope       string
	Interval    time.Duration
	Concurrency int
}

// Engine runs reconciliation passes. At most one pass runs at a time; a
// trigger that arrives mid-pass is dropped.
type Engine struct {
	lister AppointmentLister
	source Source
	locker Locker
	cfg    Config
	log    *slog.Logger
	now    func() time.Time

	snap    atomic.Pointer[Snapshot]
	running atomic.Bool
	passes  atomic.Uint64

	cron    *cron.Cron
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewEngine(lister AppointmentLister, source Source, cfg Config, log *slog.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	e := &Engine{
		lister: lister,
		source: source,
		cfg:    cfg,
		log:    logger.Component(log, "reconcile").With("scope", cfg.Scope),
		now:    time.Now,
	}
	e.snap.Store(emptySnapshot())
	return e
}

// WithLocker makes passes also take a distributed lease, so several
// processes sharing a scope do not reconcile at once.
func (e *Engine) WithLocker(l Locker) *Engine {
	e.locker = l
	return e
}

// Snapshot returns the last complete pass, possibly with optimistic
// updates applied on top.
func (e *Engine) Snapshot() *Snapshot { return e.snap.Load() }

// Lookup returns the classification of one appointment and its latest
// bill, if any.
func (e *Engine) Lookup(appointmentID int64) (billing.Classification, billing.Record, bool) {
	s := e.snap.Load()
	class, ok := s.Status[appointmentID]
	if !ok {
		return billing.ClassNoBilling, billing.Record{}, false
	}
	rec, hasRec := s.Details[appointmentID]
	return class, rec, hasRec
}

// Refresh runs one pass now. It reports false when the pass was skipped
// because another one was in progress.
func (e *Engine) Refresh(ctx context.Context) (bool, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.log.Debug("pass skipped, one already running")
		return false, nil
	}
	defer e.running.Store(false)

	if e.locker != nil {
		release, err := e.locker.TryLock(ctx, "reconcile:"+e.cfg.Scope, 2*e.cfg.Interval)
		if errors.Is(err, ErrLocked) {
			e.log.Debug("pass skipped, lease held elsewhere")
			return false, nil
		}
		if err != nil {
			e.log.Warn("lease unavailable, reconciling anyway", "err", err)
		} else {
			defer release()
		}
	}

	return true, e.pass(ctx)
}

type lookup struct {
	records []billing.Record
	err     error
}

func (e *Engine) pass(ctx context.Context) error {
	started := e.now()
	base := e.snap.Load()
	appts, err := e.lister.ListAppointments(ctx)
	if err != nil {
		e.log.Warn("listing appointments failed, keeping previous snapshot", "err", err)
		return err
	}

	results := make([]lookup, len(appts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, a := range appts {
		g.Go(func() error {
			recs, err := e.source.ListByAppointment(gctx, a.ID)
			results[i] = lookup{records: recs, err: err}
			// one failed lookup never cancels the rest
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		e.log.Warn("pass cancelled, keeping previous snapshot", "err", err)
		return err
	}

	next := &Snapshot{
		Status:       make(map[int64]billing.Classification, len(appts)),
		Details:      make(map[int64]billing.Record, len(appts)),
		Appointments: appts,
		RefreshedAt:  e.now(),
		Pass:         e.passes.Add(1),
	}
	failed := 0
	for i, a := range appts {
		r := results[i]
		if r.err != nil {
			failed++
			e.log.Warn("billing lookup failed", "appointment_id", a.ID, "err", r.err)
			next.Status[a.ID] = billing.ClassNoBilling
			continue
		}
		next.Status[a.ID] = billing.Classify(r.records)
		if latest, ok := billing.Latest(r.records); ok {
			if err := latest.Verify(); err != nil {
				e.log.Error("billing integrity defect", "appointment_id", a.ID, "billing_id", latest.ID, "err", err)
			}
			next.Details[a.ID] = latest
		}
	}

	e.publish(base, next)
	e.log.Info("pass complete",
		"appointments", len(appts),
		"failed_lookups", failed,
		"duration_ms", e.now().Sub(started).Milliseconds(),
	)
	return nil
}

// publish swaps in a finished pass. Bills applied while the pass was running
// are newer than what the pass read, so they are carried over.
func (e *Engine) publish(base, next *Snapshot) {
	for {
		cur := e.snap.Load()
		out := next
		if cur != base {
			out = next.clone()
			for id, r := range cur.Details {
				if b, ok := base.Details[id]; ok && b.ID == r.ID && b.PaymentStatus == r.PaymentStatus {
					continue
				}
				if have, ok := out.Details[id]; ok && !newer(r, have) {
					continue
				}
				out.Details[id] = r
				out.Status[id] = cur.Status[id]
			}
		}
		if e.snap.CompareAndSwap(cur, out) {
			return
		}
	}
}

// newer reports whether a supersedes b: a later bill, or the same bill paid.
func newer(a, b billing.Record) bool {
	return a.ID > b.ID || (a.ID == b.ID && a.IsPaid() && !b.IsPaid())
}

// ApplyCreated records a freshly created bill for one appointment without
// waiting for the next pass.
func (e *Engine) ApplyCreated(rec billing.Record) { e.apply(rec) }

// ApplyPaid records a payment for one appointment without waiting for the next pass.
func (e *Engine) ApplyPaid(rec billing.Record) { e.apply(rec) }

func (e *Engine) apply(rec billing.Record) {
	for {
		cur := e.snap.Load()
		if existing, ok := cur.Details[rec.AppointmentID]; ok && existing.ID > rec.ID {
			return
		}
		next := cur.clone()
		next.Details[rec.AppointmentID] = rec
		next.Status[rec.AppointmentID] = billing.Classify([]billing.Record{rec})
		if e.snap.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Start runs the initial pass and schedules the periodic ones.
func (e *Engine) Start(ctx context.Context) error {
	e.baseCtx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if _, err := e.Refresh(e.baseCtx); err != nil {
		e.log.Warn("initial pass failed", "err", err)
	}

	e.cron = cron.New()
	if _, err := e.cron.AddFunc("@every "+e.cfg.Interval.String(), func() {
		_, _ = e.Refresh(e.baseCtx)
	}); err != nil {
		e.cancel()
		return err
	}
	e.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (e *Engine) Stop() {
	if e.cron == nil {
		return
	}
	done := e.cron.Stop()
	e.cancel()
	<-done.Done()
}
