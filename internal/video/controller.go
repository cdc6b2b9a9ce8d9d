// Package video starts and stops provider broadcasts as appointments move
// through their lifecycle.
package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"autocare-platform/internal/appointments"
	"autocare-platform/internal/negotiator"
	"autocare-platform/internal/signaling"
	"autocare-platform/pkg/logger"
)

var (
	ErrNotLive = errors.New("video: no live broadcast")
	ErrClosed  = errors.New("video: controller closed")
)

// Live is a running broadcast.
type Live interface {
	SetStatus(ctx context.Context, status signaling.StreamStatus) error
	Stop(ctx context.Context) error
}

type Broadcaster interface {
	Start(ctx context.Context, req signaling.StartRequest, track webrtc.TrackLocal) (Live, error)
}

type publisherBroadcaster struct{ p *negotiator.Publisher }

func (b publisherBroadcaster) Start(ctx context.Context, req signaling.StartRequest, track webrtc.TrackLocal) (Live, error) {
	bc, err := b.p.Start(ctx, req, track)
	if err != nil {
		return nil, err
	}
	return bc, nil
}

// FromPublisher adapts a negotiator publisher to Broadcaster.
func FromPublisher(p *negotiator.Publisher) Broadcaster { return publisherBroadcaster{p: p} }

type BroadcastAudit interface {
	LogBroadcast(ctx context.Context, appointmentID int64, actor string, started bool) error
}

type Config struct {
	StartDelay time.Duration
	StopDelay  time.Duration
	// OpTimeout bounds a delayed start or stop.
	OpTimeout time.Duration
}

type broadcast struct {
	live   Live
	source MediaSource
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller owns the provider's broadcasts, one per appointment.
type Controller struct {
	broadcaster Broadcaster
	sources     SourceFactory
	audit       BroadcastAudit
	cfg         Config
	log         *slog.Logger

	mu      sync.Mutex
	live    map[int64]*broadcast
	pending map[int64]*time.Timer
	closed  bool
}

func NewController(b Broadcaster, sources SourceFactory, audit BroadcastAudit, cfg Config, log *slog.Logger) *Controller {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 30 * time.Second
	}
	return &Controller{
		broadcaster: b,
		sources:     sources,
		audit:       audit,
		cfg:         cfg,
		log:         logger.Component(log, "video"),
		live:        map[int64]*broadcast{},
		pending:     map[int64]*time.Timer{},
	}
}

// OnStatusChange schedules a start for in-progress and a stop for completed
// or cancelled. It never touches billing.
func (c *Controller) OnStatusChange(ctx context.Context, a appointments.Appointment, from appointments.Status) {
	switch a.Status {
	case appointments.StatusInProgress:
		c.schedule(a.ID, c.cfg.StartDelay, func(ctx context.Context) {
			if err := c.Start(ctx, a); err != nil {
				c.log.Warn("scheduled start failed", "appointment_id", a.ID, "err", err)
			}
		})
	case appointments.StatusCompleted, appointments.StatusCancelled:
		c.schedule(a.ID, c.cfg.StopDelay, func(ctx context.Context) {
			if err := c.stop(ctx, a.ID, a.ProviderName); err != nil {
				c.log.Warn("scheduled stop failed", "appointment_id", a.ID, "err", err)
			}
		})
	}
}

// schedule replaces any pending action for the appointment.
func (c *Controller) schedule(id int64, delay time.Duration, fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if t, ok := c.pending[id]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.pending[id] != t {
			c.mu.Unlock()
			return
		}
		delete(c.pending, id)
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
		defer cancel()
		fn(ctx)
	})
	c.pending[id] = t
}

func (c *Controller) cancelPending(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.pending[id]; ok {
		t.Stop()
		delete(c.pending, id)
	}
}

// Start begins a broadcast now, replacing one already running for the
// appointment.
func (c *Controller) Start(ctx context.Context, a appointments.Appointment) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := c.stopLive(ctx, a.ID); err != nil {
		c.log.Warn("stopping previous broadcast", "appointment_id", a.ID, "err", err)
	}

	src, err := c.sources(a.ID)
	if err != nil {
		return fmt.Errorf("media source: %w", err)
	}
	live, err := c.broadcaster.Start(ctx, signaling.StartRequest{
		AppointmentID: a.ID,
		ProviderName:  a.ProviderName,
		CustomerName:  a.CustomerName,
	}, src.Track())
	if err != nil {
		closeSource(src)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b := &broadcast{live: live, source: src, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(b.done)
		if err := src.Run(runCtx); err != nil {
			c.log.Warn("media source stopped", "appointment_id", a.ID, "err", err)
		}
	}()

	c.mu.Lock()
	if c.closed {
		// Close ran while the broadcaster was starting; nothing would stop this one.
		c.mu.Unlock()
		if err := c.retire(ctx, b); err != nil {
			c.log.Warn("stopping broadcast after close", "appointment_id", a.ID, "err", err)
		}
		return ErrClosed
	}
	prev := c.live[a.ID]
	c.live[a.ID] = b
	c.mu.Unlock()
	if prev != nil {
		// a concurrent Start won the race; retire the older one
		c.retire(ctx, prev)
	}

	c.logAudit(ctx, a.ID, a.ProviderName, true)
	c.log.Info("broadcast live", "appointment_id", a.ID)
	return nil
}

// Stop ends the broadcast and cancels a pending start. Stopping an
// appointment with nothing live is a no-op.
func (c *Controller) Stop(ctx context.Context, appointmentID int64) error {
	return c.stop(ctx, appointmentID, "")
}

func (c *Controller) stop(ctx context.Context, appointmentID int64, actor string) error {
	c.cancelPending(appointmentID)
	c.mu.Lock()
	_, wasLive := c.live[appointmentID]
	c.mu.Unlock()
	if err := c.stopLive(ctx, appointmentID); err != nil {
		return err
	}
	if wasLive {
		c.logAudit(ctx, appointmentID, actor, false)
	}
	return nil
}

func (c *Controller) stopLive(ctx context.Context, appointmentID int64) error {
	c.mu.Lock()
	b := c.live[appointmentID]
	delete(c.live, appointmentID)
	c.mu.Unlock()
	if b == nil {
		return nil
	}
	return c.retire(ctx, b)
}

func (c *Controller) retire(ctx context.Context, b *broadcast) error {
	b.cancel()
	<-b.done
	closeSource(b.source)
	return b.live.Stop(ctx)
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// closeSource releases sources that hold resources outside Run.
func closeSource(src MediaSource) {
	if cl, ok := src.(io.Closer); ok {
		_ = cl.Close()
	}
}

func (c *Controller) Play(ctx context.Context, appointmentID int64) error {
	return c.setPaused(ctx, appointmentID, false)
}

func (c *Controller) Pause(ctx context.Context, appointmentID int64) error {
	return c.setPaused(ctx, appointmentID, true)
}

func (c *Controller) setPaused(ctx context.Context, appointmentID int64, paused bool) error {
	c.mu.Lock()
	b := c.live[appointmentID]
	c.mu.Unlock()
	if b == nil {
		return ErrNotLive
	}
	b.source.SetPaused(paused)
	status := signaling.StreamActive
	if paused {
		status = signaling.StreamPaused
	}
	return b.live.SetStatus(ctx, status)
}

// Live lists appointments with a running broadcast.
func (c *Controller) Live() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.live))
	for id := range c.live {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close cancels pending actions and stops every broadcast.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	for id, t := range c.pending {
		t.Stop()
		delete(c.pending, id)
	}
	ids := make([]int64, 0, len(c.live))
	for id := range c.live {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.stop(ctx, id, ""); err != nil {
			c.log.Warn("stop on close failed", "appointment_id", id, "err", err)
		}
	}
}

func (c *Controller) logAudit(ctx context.Context, appointmentID int64, actor string, started bool) {
	if c.audit == nil {
		return
	}
	if err := c.audit.LogBroadcast(ctx, appointmentID, actor, started); err != nil {
		c.log.Warn("audit broadcast failed", "appointment_id", appointmentID, "err", err)
	}
}
