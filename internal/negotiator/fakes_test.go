package negotiator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"autocare-platform/internal/signaling"
)

type fakePeer struct {
	mu        sync.Mutex
	onICE     func(*webrtc.ICECandidate)
	onTrack   func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onState   func(webrtc.PeerConnectionState)
	remote    []webrtc.SessionDescription
	local     []webrtc.SessionDescription
	applied   []webrtc.ICECandidateInit
	tracks    int
	closed    bool
	remoteErr error
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteErr != nil {
		return p.remoteErr
	}
	p.remote = append(p.remote, desc)
	return nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = append(p.local, desc)
	return nil
}

func (p *fakePeer) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "fake-offer"}, nil
}

func (p *fakePeer) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fake-answer"}, nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, c)
	return nil
}

func (p *fakePeer) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks++
	return nil, nil
}

func (p *fakePeer) OnICECandidate(f func(*webrtc.ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = f
}

func (p *fakePeer) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = f
}

func (p *fakePeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = f
}

func (p *fakePeer) ConnectionState() webrtc.PeerConnectionState {
	return webrtc.PeerConnectionStateNew
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) fireTrack() {
	p.mu.Lock()
	f := p.onTrack
	p.mu.Unlock()
	f(nil, nil)
}

func (p *fakePeer) fireState(st webrtc.PeerConnectionState) {
	p.mu.Lock()
	f := p.onState
	p.mu.Unlock()
	f(st)
}

func (p *fakePeer) fireCandidate() {
	p.mu.Lock()
	f := p.onICE
	p.mu.Unlock()
	f(&webrtc.ICECandidate{
		Foundation: "1",
		Priority:   2130706431,
		Address:    "10.0.0.5",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       50000,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	})
}

func (p *fakePeer) appliedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.applied)
}

func (p *fakePeer) remoteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.remote)
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) NewPeer() (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) peer(i int) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.peers) {
		return nil
	}
	return f.peers[i]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

type fakeSink struct {
	attached atomic.Int32
	detached atomic.Int32
	paused   atomic.Bool
}

func (s *fakeSink) Attach(int64, *webrtc.TrackRemote) error {
	s.attached.Add(1)
	return nil
}
func (s *fakeSink) Play()   { s.paused.Store(false) }
func (s *fakeSink) Pause()  { s.paused.Store(true) }
func (s *fakeSink) Detach() { s.detached.Add(1) }

// countingExchange counts the polling calls a session makes.
type countingExchange struct {
	*signaling.MemoryExchange
	calls atomic.Int64
}

func (c *countingExchange) Offer(ctx context.Context, id int64) (string, error) {
	c.calls.Add(1)
	return c.MemoryExchange.Offer(ctx, id)
}

func (c *countingExchange) GetStream(ctx context.Context, id int64) (signaling.Stream, error) {
	c.calls.Add(1)
	return c.MemoryExchange.GetStream(ctx, id)
}

func (c *countingExchange) Candidates(ctx context.Context, id int64, role signaling.Role) ([]signaling.Candidate, error) {
	c.calls.Add(1)
	return c.MemoryExchange.Candidates(ctx, id, role)
}

func (c *countingExchange) ActiveStreams(ctx context.Context, identity string) ([]signaling.ActiveStream, error) {
	c.calls.Add(1)
	return c.MemoryExchange.ActiveStreams(ctx, identity)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
