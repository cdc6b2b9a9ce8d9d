package negotiator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"autocare-platform/internal/signaling"
	"autocare-platform/pkg/logger"
)

type ViewerConfig struct {
	// Identity is the customer username used for the active-streams lookup.
	Identity          string
	ICEInterval       time.Duration
	DiscoveryInterval time.Duration
	OfferAttempts     int
	OfferRetry        time.Duration
	SessionTimeout    time.Duration
}

func (c ViewerConfig) withDefaults() ViewerConfig {
	if c.ICEInterval <= 0 {
		c.ICEInterval = 2 * time.Second
	}
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = 5 * time.Second
	}
	if c.OfferAttempts <= 0 {
		c.OfferAttempts = 1
	}
	if c.OfferRetry <= 0 {
		c.OfferRetry = time.Second
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Minute
	}
	return c
}

// Status is a point-in-time view of the viewer state machine.
type Status struct {
	State         State  `json:"state"`
	AppointmentID int64  `json:"appointment_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Viewer is the answering side. It owns at most one session; starting a
// view tears down the previous one first.
type Viewer struct {
	exchange signaling.Exchange
	peers    PeerFactory
	sink     Sink
	cfg      ViewerConfig
	log      *slog.Logger

	// mu serializes View, Stop, Retry and session teardown.
	mu sync.Mutex

	// stateMu guards the fields below; callbacks and loops take only this.
	stateMu       sync.Mutex
	state         State
	appointmentID int64
	lastErr       error
	sess          *session
	abortView     context.CancelFunc
}

func NewViewer(exchange signaling.Exchange, peers PeerFactory, sink Sink, cfg ViewerConfig, log *slog.Logger) *Viewer {
	return &Viewer{
		exchange: exchange,
		peers:    peers,
		sink:     sink,
		cfg:      cfg.withDefaults(),
		log:      logger.Component(log, "viewer"),
		state:    StateIdle,
	}
}

func (v *Viewer) State() State {
	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	return v.state
}

func (v *Viewer) Status() Status {
	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	st := Status{State: v.state, AppointmentID: v.appointmentID}
	if v.lastErr != nil {
		st.Error = v.lastErr.Error()
	}
	return st
}

func (v *Viewer) setStateLocked(to State, err error) {
	if !canTransition(v.state, to) {
		v.log.Error("illegal transition", "from", v.state.String(), "to", to.String())
		return
	}
	v.log.Debug("state", "appointment_id", v.appointmentID, "from", v.state.String(), "to", to.String())
	v.state = to
	v.lastErr = err
}

func (v *Viewer) setState(to State, err error) {
	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	v.setStateLocked(to, err)
}

func (v *Viewer) current() *session {
	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	return v.sess
}

// View starts watching the live stream of one appointment. Errors are
// returned to the caller and leave the viewer in FAILED.
func (v *Viewer) View(ctx context.Context, appointmentID int64) error {
	if appointmentID <= 0 {
		return fmt.Errorf("%w: appointment id required", signaling.ErrInvalid)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	v.teardownLocked()

	viewCtx, abort := context.WithCancel(ctx)
	defer abort()

	v.stateMu.Lock()
	// each view is a fresh session, whatever the previous one ended in
	v.state, v.lastErr, v.appointmentID = StateIdle, nil, appointmentID
	v.abortView = abort
	v.setStateLocked(StateFetchingOffer, nil)
	v.stateMu.Unlock()
	defer func() {
		v.stateMu.Lock()
		v.abortView = nil
		v.stateMu.Unlock()
	}()

	log := logger.ForAppointment(v.log, appointmentID)
	offer, streamID, err := v.fetchOffer(viewCtx, appointmentID, log)
	if err != nil {
		log.Info("offer unavailable", "err", err)
		v.setState(StateFailed, err)
		return err
	}

	v.setState(StateNegotiating, nil)
	sess := newSession(ctx, appointmentID, log)
	sess.streamID = streamID
	if err := v.negotiate(viewCtx, sess, offer); err != nil {
		v.closeSessionLocked(sess)
		v.stateMu.Lock()
		v.sess = nil
		v.setStateLocked(StateFailed, err)
		v.stateMu.Unlock()
		log.Warn("negotiation failed", "err", err)
		return err
	}

	sess.watch(v.exchange, signaling.RoleProvider)
	sess.spawn(func(ctx context.Context) { v.candidateLoop(ctx, sess) })
	sess.spawn(func(ctx context.Context) { v.streamLoop(ctx, sess) })
	return nil
}

// fetchOffer tries the stored offer first, then the stream record and the
// active-streams listing. A stream that exists without an offer is retried.
func (v *Viewer) fetchOffer(ctx context.Context, appointmentID int64, log *slog.Logger) (offer, streamID string, err error) {
	for attempt := 1; ; attempt++ {
		sdp, err := v.exchange.Offer(ctx, appointmentID)
		if err == nil {
			return sdp, v.lookupStreamID(ctx, appointmentID), nil
		}
		if !errors.Is(err, signaling.ErrNotReady) && !errors.Is(err, signaling.ErrNetwork) {
			return "", "", err
		}

		exists, sdp, streamID, altErr := v.alternatePaths(ctx, appointmentID)
		if sdp != "" {
			return sdp, streamID, nil
		}
		if !exists {
			if errors.Is(altErr, signaling.ErrNetwork) {
				return "", "", altErr
			}
			return "", "", signaling.ErrStreamNotFound
		}
		if attempt >= v.cfg.OfferAttempts {
			return "", "", fmt.Errorf("%w: no offer after %d attempts", signaling.ErrStreamNotFound, attempt)
		}
		log.Debug("stream has no offer yet", "attempt", attempt)

		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(v.cfg.OfferRetry):
		}
	}
}

func (v *Viewer) alternatePaths(ctx context.Context, appointmentID int64) (exists bool, offer, streamID string, err error) {
	s, err := v.exchange.GetStream(ctx, appointmentID)
	switch {
	case err == nil:
		if s.Status != signaling.StreamInactive {
			return true, s.Offer, s.StreamID, nil
		}
	case !errors.Is(err, signaling.ErrStreamNotFound):
		v.log.Warn("stream lookup failed", "appointment_id", appointmentID, "err", err)
	}

	if v.cfg.Identity == "" {
		return false, "", "", err
	}
	active, lerr := v.exchange.ActiveStreams(ctx, v.cfg.Identity)
	if lerr != nil {
		return false, "", "", lerr
	}
	for _, a := range active {
		if a.AppointmentID == appointmentID {
			return true, "", a.StreamID, nil
		}
	}
	return false, "", "", err
}

func (v *Viewer) lookupStreamID(ctx context.Context, appointmentID int64) string {
	s, err := v.exchange.GetStream(ctx, appointmentID)
	if err != nil {
		return ""
	}
	return s.StreamID
}

func (v *Viewer) negotiate(ctx context.Context, sess *session, offer string) error {
	pc, err := v.peers.NewPeer()
	if err != nil {
		return err
	}
	sess.pc = pc

	v.stateMu.Lock()
	v.sess = sess
	v.stateMu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || sess.isClosed() {
			return
		}
		sess.publishLocal(v.exchange, signaling.CandidateFromInit(signaling.RoleCustomer, c.ToJSON()))
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		v.onTrack(sess, track)
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		v.onPeerState(sess, st)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	if err := v.exchange.PublishAnswer(ctx, sess.appointmentID, answer.SDP); err != nil {
		return fmt.Errorf("publish answer: %w", err)
	}
	return nil
}

func (v *Viewer) candidateLoop(ctx context.Context, sess *session) {
	ticker := time.NewTicker(v.cfg.ICEInterval)
	defer ticker.Stop()
	for {
		sess.pullCandidates(ctx, v.exchange, signaling.RoleProvider)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-sess.iceKick:
		}
	}
}

// streamLoop watches the stream record and ends the session when the
// broadcast stops or is replaced by a new one.
func (v *Viewer) streamLoop(ctx context.Context, sess *session) {
	ticker := time.NewTicker(v.cfg.DiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-sess.streamKick:
		}

		s, err := v.exchange.GetStream(ctx, sess.appointmentID)
		if ctx.Err() != nil {
			return
		}
		ended := false
		switch {
		case errors.Is(err, signaling.ErrStreamNotFound):
			ended = true
		case err != nil:
			sess.log.Warn("stream poll failed", "err", err)
		case s.Status == signaling.StreamInactive:
			ended = true
		case sess.streamID != "" && s.StreamID != sess.streamID:
			ended = true
		}
		if ended {
			go v.endSession(sess, ErrStreamEnded)
			return
		}
	}
}

func (v *Viewer) onTrack(sess *session, track *webrtc.TrackRemote) {
	v.stateMu.Lock()
	if v.sess != sess || v.state != StateNegotiating {
		v.stateMu.Unlock()
		return
	}
	v.setStateLocked(StateConnected, nil)
	v.stateMu.Unlock()

	if sess.markAttached() {
		if err := v.sink.Attach(sess.appointmentID, track); err != nil {
			sess.log.Warn("sink attach failed", "err", err)
		}
	}
	sess.startTimer(v.cfg.SessionTimeout, func() { v.endSession(sess, ErrSessionTimeout) })
	sess.log.Info("connected")
}

func (v *Viewer) onPeerState(sess *session, st webrtc.PeerConnectionState) {
	if sess.isClosed() {
		return
	}
	sess.log.Debug("peer state", "state", st.String())
	if st == webrtc.PeerConnectionStateFailed {
		go v.endSession(sess, fmt.Errorf("%w: peer connection failed", ErrTransportFailure))
	}
}

// endSession tears down sess if it is still the current one. A connected
// session closes; one still negotiating fails and may be retried.
func (v *Viewer) endSession(sess *session, reason error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current() != sess {
		return
	}
	v.closeSessionLocked(sess)

	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	v.sess = nil
	if v.state == StateConnected {
		v.setStateLocked(StateClosed, reason)
	} else {
		v.setStateLocked(StateFailed, reason)
	}
	sess.log.Info("session ended", "reason", reason.Error(), "state", v.state.String())
}

func (v *Viewer) closeSessionLocked(sess *session) {
	if sess.close() {
		v.sink.Detach()
	}
}

// teardownLocked closes the current session without touching the state.
func (v *Viewer) teardownLocked() {
	v.stateMu.Lock()
	sess := v.sess
	v.sess = nil
	v.stateMu.Unlock()
	if sess != nil {
		v.closeSessionLocked(sess)
	}
}

// Stop closes the session from any state: loops stopped, peer connection
// closed and sink detached before it returns.
func (v *Viewer) Stop() {
	v.stateMu.Lock()
	if v.abortView != nil {
		v.abortView()
	}
	v.stateMu.Unlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.teardownLocked()

	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	if v.state != StateClosed {
		v.setStateLocked(StateClosed, nil)
	}
}

// Retry returns a failed viewer to IDLE.
func (v *Viewer) Retry() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	if v.state != StateFailed {
		return fmt.Errorf("%w: retry from %s", ErrInvalidState, v.state)
	}
	v.setStateLocked(StateIdle, nil)
	return nil
}

func (v *Viewer) Play() error  { return v.toggle(true) }
func (v *Viewer) Pause() error { return v.toggle(false) }

func (v *Viewer) toggle(play bool) error {
	v.stateMu.Lock()
	sess, state := v.sess, v.state
	v.stateMu.Unlock()
	if state != StateConnected || sess == nil {
		return fmt.Errorf("%w: not connected", ErrInvalidState)
	}
	if play {
		v.sink.Play()
	} else {
		v.sink.Pause()
	}
	sess.resetTimer(v.cfg.SessionTimeout)
	return nil
}
