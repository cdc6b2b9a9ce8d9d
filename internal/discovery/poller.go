// Package discovery polls the active-streams listing for one identity.
package discovery

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"autocare-platform/internal/signaling"
	"autocare-platform/pkg/logger"
)

const DefaultInterval = 5 * time.Second

// Lister is the one collaborator call a tick makes.
type Lister interface {
	ActiveStreams(ctx context.Context, identity string) ([]signaling.ActiveStream, error)
}

// Snapshot is the result of one tick. A failed tick carries Err and no
// streams; Added and Removed are relative to the last successful tick.
type Snapshot struct {
	Streams []signaling.ActiveStream
	Added   []int64
	Removed []int64
	Err     error
	At      time.Time
}

func (s Snapshot) Has(appointmentID int64) bool {
	for _, st := range s.Streams {
		if st.AppointmentID == appointmentID {
			return true
		}
	}
	return false
}

type Poller struct {
	lister   Lister
	identity string
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	known  map[int64]struct{}
	latest Snapshot
}

func New(lister Lister, identity string, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		lister:   lister,
		identity: identity,
		interval: interval,
		log:      logger.Component(log, "discovery").With("identity", identity),
		now:      time.Now,
	}
}

// Start begins polling and returns the snapshot stream. The first tick runs
// immediately. Starting a running poller restarts it. The channel is closed
// once the poller stops.
func (p *Poller) Start(ctx context.Context) <-chan Snapshot {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	loopCtx, cancel := context.WithCancel(ctx)
	out := make(chan Snapshot, 1)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go p.run(loopCtx, out, done)
	return out
}

// Stop cancels the timer and waits for the loop to exit. No lister call
// starts after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Latest returns the most recent snapshot, successful or not.
func (p *Poller) Latest() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

func (p *Poller) run(ctx context.Context, out chan Snapshot, done chan struct{}) {
	defer close(done)
	defer close(out)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		snap := p.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		deliver(out, snap)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// deliver replaces an undelivered snapshot so a slow consumer never stalls the ticker.
func deliver(out chan Snapshot, snap Snapshot) {
	select {
	case out <- snap:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- snap:
	default:
	}
}

// Poll runs a single tick. Errors are logged and folded into the snapshot.
func (p *Poller) Poll(ctx context.Context) Snapshot {
	streams, err := p.lister.ActiveStreams(ctx, p.identity)
	snap := Snapshot{At: p.now()}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("active streams poll failed", "err", err)
		}
		snap.Err = err
		snap.Streams = []signaling.ActiveStream{}
		p.latest = snap
		return snap
	}

	current := make(map[int64]struct{}, len(streams))
	for _, s := range streams {
		current[s.AppointmentID] = struct{}{}
		if _, ok := p.known[s.AppointmentID]; !ok {
			snap.Added = append(snap.Added, s.AppointmentID)
		}
	}
	for id := range p.known {
		if _, ok := current[id]; !ok {
			snap.Removed = append(snap.Removed, id)
		}
	}
	sort.Slice(snap.Removed, func(i, j int) bool { return snap.Removed[i] < snap.Removed[j] })
	if len(snap.Added) > 0 || len(snap.Removed) > 0 {
		p.log.Debug("active streams changed", "added", snap.Added, "removed", snap.Removed)
	}

	snap.Streams = streams
	p.known = current
	p.latest = snap
	return snap
}
