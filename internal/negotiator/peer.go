package negotiator

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// PeerConnection is the part of *webrtc.PeerConnection the negotiator drives.
type PeerConnection interface {
	SetRemoteDescription(desc webrtc.SessionDescription) error
	SetLocalDescription(desc webrtc.SessionDescription) error
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	ConnectionState() webrtc.PeerConnectionState
	Close() error
}

var _ PeerConnection = (*webrtc.PeerConnection)(nil)

type PeerFactory interface {
	NewPeer() (PeerConnection, error)
}

// PionFactory builds pion peer connections with the default codecs.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

type FactoryOption func(*webrtc.SettingEngine)

// WithLoopbackCandidates gathers 127.0.0.1 candidates, which lets two peers
// in one process connect without a network.
func WithLoopbackCandidates() FactoryOption {
	return func(se *webrtc.SettingEngine) { se.SetIncludeLoopbackCandidate(true) }
}

func NewPionFactory(iceServers []string, opts ...FactoryOption) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{}
	for _, opt := range opts {
		opt(&se)
	}

	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &PionFactory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)),
		config: cfg,
	}, nil
}

func (f *PionFactory) NewPeer() (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return pc, nil
}
