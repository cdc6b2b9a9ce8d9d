package negotiator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"autocare-platform/internal/signaling"
	"autocare-platform/pkg/logger"
)

// Publisher is the offering side. It has no state machine of its own: it
// publishes an offer and its candidates, binds the first answer it sees and
// tears down on Stop.
type Publisher struct {
	exchange    signaling.Exchange
	peers       PeerFactory
	iceInterval time.Duration
	log         *slog.Logger
}

func NewPublisher(exchange signaling.Exchange, peers PeerFactory, iceInterval time.Duration, log *slog.Logger) *Publisher {
	if iceInterval <= 0 {
		iceInterval = 2 * time.Second
	}
	return &Publisher{
		exchange:    exchange,
		peers:       peers,
		iceInterval: iceInterval,
		log:         logger.Component(log, "publisher"),
	}
}

type Broadcast struct {
	exchange signaling.Exchange
	sess     *session
	stream   signaling.Stream
	interval time.Duration

	answered atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// Start creates the stream record, replacing any earlier one for the
// appointment, and publishes an offer carrying track.
func (p *Publisher) Start(ctx context.Context, req signaling.StartRequest, track webrtc.TrackLocal) (*Broadcast, error) {
	log := logger.ForAppointment(p.log, req.AppointmentID)
	pc, err := p.peers.NewPeer()
	if err != nil {
		return nil, err
	}
	sess := newSession(ctx, req.AppointmentID, log)
	sess.pc = pc

	sender, err := pc.AddTrack(track)
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("add track: %w", err)
	}
	if sender != nil {
		// RTCP must be read for interceptors to work; ends when the peer closes.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}

	stream, err := p.exchange.StartStream(ctx, req)
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("start stream: %w", err)
	}
	b := &Broadcast{exchange: p.exchange, sess: sess, stream: stream, interval: p.iceInterval}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || sess.isClosed() {
			return
		}
		sess.publishLocal(p.exchange, signaling.CandidateFromInit(signaling.RoleProvider, c.ToJSON()))
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		if sess.isClosed() {
			return
		}
		if st == webrtc.PeerConnectionStateFailed {
			log.Warn("viewer connection failed")
			return
		}
		log.Info("peer state", "state", st.String())
	})

	offer, err := pc.CreateOffer(nil)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err == nil {
		err = p.exchange.PublishOffer(ctx, req.AppointmentID, offer.SDP)
	}
	if err != nil {
		_ = b.Stop(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("publish offer: %w", err)
	}

	sess.watch(p.exchange, signaling.RoleCustomer)
	sess.spawn(b.answerLoop)
	log.Info("broadcast started", "stream_id", stream.StreamID)
	return b, nil
}

func (b *Broadcast) AppointmentID() int64     { return b.sess.appointmentID }
func (b *Broadcast) Stream() signaling.Stream { return b.stream }

// Answered reports whether a viewer answer has been bound.
func (b *Broadcast) Answered() bool { return b.answered.Load() }

func (b *Broadcast) answerLoop(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		if !b.answered.Load() {
			b.pollAnswer(ctx)
		}
		if b.answered.Load() {
			b.sess.pullCandidates(ctx, b.exchange, signaling.RoleCustomer)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-b.sess.iceKick:
		}
	}
}

func (b *Broadcast) pollAnswer(ctx context.Context) {
	sdp, err := b.exchange.Answer(ctx, b.sess.appointmentID)
	if err != nil {
		if !errors.Is(err, signaling.ErrNotReady) && ctx.Err() == nil {
			b.sess.log.Warn("answer poll failed", "err", err)
		}
		return
	}
	if err := b.sess.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		b.sess.log.Warn("apply answer failed", "err", err)
		return
	}
	b.answered.Store(true)
	b.sess.log.Info("viewer answer bound")
}

// SetStatus marks the stream active or paused for viewers.
func (b *Broadcast) SetStatus(ctx context.Context, status signaling.StreamStatus) error {
	return b.exchange.SetStatus(ctx, b.sess.appointmentID, status)
}

// Stop closes the peer connection and removes the stream record. Later
// calls return the first result.
func (b *Broadcast) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		b.sess.close()
		if err := b.exchange.StopStream(ctx, b.sess.appointmentID); err != nil {
			b.stopErr = fmt.Errorf("stop stream: %w", err)
		}
		b.sess.log.Info("broadcast stopped")
	})
	return b.stopErr
}
