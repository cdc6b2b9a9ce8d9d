package negotiator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"autocare-platform/internal/signaling"
	"autocare-platform/pkg/logger"
)

func startBroadcast(t *testing.T, ex signaling.Exchange) (*Broadcast, *fakePeer) {
	t.Helper()
	f := &fakeFactory{}
	p := NewPublisher(ex, f, 5*time.Millisecond, logger.Discard())
	b, err := p.Start(context.Background(), signaling.StartRequest{AppointmentID: 42, ProviderName: "Speedy Motors", CustomerName: "ravi"}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return b, f.peer(0)
}

func TestPublisher_PublishesOfferAndBindsFirstAnswer(t *testing.T) {
	ex := signaling.NewMemoryExchange()
	b, pc := startBroadcast(t, ex)
	ctx := context.Background()

	if offer, err := ex.Offer(ctx, 42); err != nil || offer != "fake-offer" {
		t.Fatalf("expected offer published, got %q %v", offer, err)
	}
	if b.Stream().StreamID == "" {
		t.Fatalf("expected stream id")
	}

	pc.fireCandidate()
	if !waitFor(func() bool {
		c, _ := ex.Candidates(ctx, 42, signaling.RoleProvider)
		return len(c) == 1
	}) {
		t.Fatalf("expected provider candidate published")
	}

	_ = ex.PublishAnswer(ctx, 42, "viewer-1")
	if !waitFor(b.Answered) {
		t.Fatalf("expected answer bound")
	}
	_ = ex.PublishAnswer(ctx, 42, "viewer-2")
	time.Sleep(20 * time.Millisecond)
	if pc.remoteCount() != 1 {
		t.Fatalf("expected later answers ignored, got %d remote descriptions", pc.remoteCount())
	}

	c := signaling.Candidate{Role: signaling.RoleCustomer, Candidate: "candidate:2 1 udp 1 10.0.0.2 6000 typ host"}
	_ = ex.PublishCandidate(ctx, 42, c)
	_ = ex.PublishCandidate(ctx, 42, c)
	if !waitFor(func() bool { return pc.appliedCount() == 1 }) {
		t.Fatalf("expected customer candidate applied once")
	}
	time.Sleep(20 * time.Millisecond)
	if pc.appliedCount() != 1 {
		t.Fatalf("expected redelivered candidate skipped, got %d", pc.appliedCount())
	}
}

func TestBroadcast_StopRemovesStream(t *testing.T) {
	ex := signaling.NewMemoryExchange()
	b, pc := startBroadcast(t, ex)

	if err := b.SetStatus(context.Background(), signaling.StreamPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if s, _ := ex.GetStream(context.Background(), 42); s.Status != signaling.StreamPaused {
		t.Fatalf("expected paused stream, got %s", s.Status)
	}

	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("expected second stop to be a no-op, got %v", err)
	}
	if !pc.isClosed() {
		t.Fatalf("expected peer closed")
	}
	if _, err := ex.GetStream(context.Background(), 42); !errors.Is(err, signaling.ErrStreamNotFound) {
		t.Fatalf("expected stream removed, got %v", err)
	}
}

func TestPionFactory_OfferWithSampleTrack(t *testing.T) {
	f, err := NewPionFactory(nil, WithLoopbackCandidates())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	pc, err := f.NewPeer()
	if err != nil {
		t.Fatalf("peer: %v", err)
	}
	defer pc.Close()

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "test")
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		t.Fatalf("add track: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if offer.SDP == "" {
		t.Fatalf("expected sdp")
	}
	// writing before negotiation is dropped, not an error
	if err := track.WriteSample(media.Sample{Data: []byte{0x10, 0x02, 0x00}, Duration: time.Second / 30}); err != nil {
		t.Fatalf("write sample: %v", err)
	}
}

func TestIVFSink_RejectsNilTrack(t *testing.T) {
	s := NewIVFSink(t.TempDir(), logger.Discard())
	if err := s.Attach(1, nil); err == nil {
		t.Fatalf("expected error for nil track")
	}
	s.Pause()
	s.Play()
	s.Detach()
	if s.Path() != "" {
		t.Fatalf("expected no recording path")
	}
}
