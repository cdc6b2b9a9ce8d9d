package negotiator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"autocare-platform/internal/signaling"
)

// session owns one peer connection and the goroutines that feed it. Its
// loops, callbacks and timers all stop in close.
type session struct {
	appointmentID int64
	pc            PeerConnection
	log           *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	attached bool
	timer    *time.Timer
	streamID string

	// applied is only touched by the candidate loop.
	applied map[string]struct{}

	iceKick    chan struct{}
	streamKick chan struct{}
}

func newSession(parent context.Context, appointmentID int64, log *slog.Logger) *session {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &session{
		appointmentID: appointmentID,
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
		applied:       map[string]struct{}{},
		iceKick:       make(chan struct{}, 1),
		streamKick:    make(chan struct{}, 1),
	}
}

// spawn runs fn as a tracked goroutine unless the session is closed.
func (s *session) spawn(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
	return true
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close cancels every loop, waits for them, then closes the peer
// connection. It reports whether a sink had been attached. Safe to call twice.
func (s *session) close() (attached bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	attached = s.attached
	timer := s.timer
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	s.cancel()
	s.wg.Wait()
	if s.pc != nil {
		if err := s.pc.Close(); err != nil {
			s.log.Debug("peer close", "err", err)
		}
	}
	return attached
}

// markAttached returns false when the session already has a sink or is closed.
func (s *session) markAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.attached {
		return false
	}
	s.attached = true
	return true
}

func (s *session) startTimer(d time.Duration, f func()) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, f)
}

func (s *session) resetTimer(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.timer == nil || d <= 0 {
		return
	}
	s.timer.Reset(d)
}

func kick(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// watch forwards exchange notifications to the session loops when the
// exchange can push them. Without it the loops rely on their tickers.
func (s *session) watch(ex signaling.Exchange, counterpart signaling.Role) {
	w, ok := ex.(signaling.Watcher)
	if !ok {
		return
	}
	events, err := w.Watch(s.ctx, s.appointmentID)
	if err != nil {
		s.log.Warn("watch failed, polling only", "err", err)
		return
	}
	s.spawn(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				switch ev.Kind {
				case signaling.EventCandidate:
					if ev.Role == counterpart {
						kick(s.iceKick)
					}
				case signaling.EventAnswer:
					kick(s.iceKick)
				default:
					kick(s.streamKick)
				}
			}
		}
	})
}

// pullCandidates applies the counterpart's candidates that this session has
// not applied yet. Redelivered candidates are skipped by key.
func (s *session) pullCandidates(ctx context.Context, ex signaling.Exchange, role signaling.Role) {
	cands, err := ex.Candidates(ctx, s.appointmentID, role)
	if err != nil {
		if errors.Is(err, signaling.ErrNotReady) || errors.Is(err, signaling.ErrStreamNotFound) || ctx.Err() != nil {
			return
		}
		s.log.Warn("candidate poll failed", "err", err)
		return
	}
	for _, c := range cands {
		if ctx.Err() != nil {
			// closed mid-batch; the rest are dropped
			return
		}
		key := c.Key()
		if _, ok := s.applied[key]; ok {
			continue
		}
		if err := s.pc.AddICECandidate(c.Init()); err != nil {
			s.log.Warn("apply candidate failed", "err", err)
			continue
		}
		s.applied[key] = struct{}{}
	}
}

// publishLocal pushes a locally gathered candidate as soon as it is found.
func (s *session) publishLocal(ex signaling.Exchange, c signaling.Candidate) {
	s.spawn(func(ctx context.Context) {
		if err := ex.PublishCandidate(ctx, s.appointmentID, c); err != nil && ctx.Err() == nil {
			s.log.Warn("publish candidate failed", "err", err)
		}
	})
}
