package negotiator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"autocare-platform/internal/signaling"
	"autocare-platform/pkg/logger"
)

func testViewer(ex signaling.Exchange) (*Viewer, *fakeFactory, *fakeSink) {
	f := &fakeFactory{}
	sink := &fakeSink{}
	v := NewViewer(ex, f, sink, ViewerConfig{
		Identity:          "ravi",
		ICEInterval:       5 * time.Millisecond,
		DiscoveryInterval: 5 * time.Millisecond,
		OfferAttempts:     2,
		OfferRetry:        5 * time.Millisecond,
		SessionTimeout:    time.Minute,
	}, logger.Discard())
	return v, f, sink
}

func publishedStream(t *testing.T, ex *signaling.MemoryExchange, id int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := ex.StartStream(ctx, signaling.StartRequest{AppointmentID: id, ProviderName: "Speedy Motors", CustomerName: "ravi"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ex.PublishOffer(ctx, id, "provider-offer"); err != nil {
		t.Fatalf("offer: %v", err)
	}
}

func TestView_NoOfferNoStreamFails(t *testing.T) {
	ex := signaling.NewMemoryExchange()
	v, f, _ := testViewer(ex)

	err := v.View(context.Background(), 7)
	if !errors.Is(err, signaling.ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound, got %v", err)
	}
	if v.State() != StateFailed {
		t.Fatalf("expected FAILED, got %s", v.State())
	}
	if f.count() != 0 {
		t.Fatalf("expected no peer connection, got %d", f.count())
	}
	if err := v.Retry(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if v.State() != StateIdle {
		t.Fatalf("expected IDLE after retry, got %s", v.State())
	}
}

func TestView_StreamWithoutOfferRetriesThenFails(t *testing.T) {
	ex := &countingExchange{MemoryExchange: signaling.NewMemoryExchange()}
	_, _ = ex.StartStream(context.Background(), signaling.StartRequest{AppointmentID: 3, ProviderName: "p", CustomerName: "ravi"})
	v, _, _ := testViewer(ex)

	err := v.View(context.Background(), 3)
	if !errors.Is(err, signaling.ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound, got %v", err)
	}
	// two attempts, each one offer call and one stream lookup
	if got := ex.calls.Load(); got != 4 {
		t.Fatalf("expected 4 calls, got %d", got)
	}
}

func TestView_PicksUpLateOffer(t *testing.T) {
	ex := signaling.NewMemoryExchange()
	_, _ = ex.StartStream(context.Background(), signaling.StartRequest{AppointmentID: 5, ProviderName: "p", CustomerName: "ravi"})
	v, _, _ := testViewer(ex)

	go func() {
		time.Sleep(2 * time.Millisecond)
		_ = ex.PublishOffer(context.Background(), 5, "late-offer")
	}()
	v.cfg.OfferAttempts = 50
	if err := v.View(context.Background(), 5); err != nil {
		t.Fatalf("expected late offer to be picked up, got %v", err)
	}
	defer v.Stop()
	if v.State() != StateNegotiating {
		t.Fatalf("expected NEGOTIATING, got %s", v.State())
	}
}

func TestView_NegotiatesAndConnects(t *testing.T) {
	ex := signaling.NewMemoryExchange()
	publishedStream(t, ex, 42)
	v, f, sink := testViewer(ex)

	if err := v.View(context.Background(), 42); err != nil {
		t.Fatalf("view: %v", err)
	}
	if v.State() != StateNegotiating {
		t.Fatalf("expected NEGOTIATING, got %s", v.State())
	}
	if ans, err := ex.Answer(context.Background(), 42); err != nil || ans != "fake-answer" {
		t.Fatalf("expected answer published, got %q %v", ans, err)
	}
	pc := f.peer(0)
	if pc.remoteCount() != 1 {
		t.Fatalf("expected remote offer applied")
	}

	pc.fireCandidate()
	if !waitFor(func() bool {
		c, _ := ex.Candidates(context.Background(), 42, signaling.RoleCustomer)
		return len(c) == 1
	}) {
		t.Fatalf("expected local candidate published with customer role")
	}

	pc.fireTrack()
	if v.State() != StateConnected {
		t.Fatalf("expected CONNECTED, got %s", v.State())
	}
	if sink.attached.Load() != 1 {
		t.Fatalf("expected sink attached once")
	}
	pc.fireTrack()
	if sink.attached.Load() != 1 {
		t.Fatalf("expected second track to be ignored")
	}

	if err := v.Pause(); err != nil || !sink.paused.Load() {
		t.Fatalf("expected paused sink, err %v", err)
	}
	if err := v.Play(); err != nil || sink.paused.Load() {
		t.Fatalf("expected playing sink, err %v", err)
	}

	v.Stop()
	if v.State() != StateClosed {
		t.Fatalf("expected CLOSED, got %s", v.State())
	}
	if !pc.isClosed() || sink.detached.Load() != 1 {
		t.Fatalf("expected peer closed and sink detached")
	}
	if err := v.Play(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after stop, got %v", err)
	}
}

func TestView_AppliesEachCandidateOnce(t *testing.T) {
	ex := signaling.NewMemoryExchange()
	publishedStream(t, ex, 42)
	v, f, _ := testViewer(ex)
	if err := v.View(context.Background(), 42); err != nil {
		t.Fatalf("view: %v", err)
	}
	defer v.Stop()

	c := signaling.Candidate{Role: signaling.RoleProvider, Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}
	_ = ex.PublishCandidate(context.Background(), 42, c)
	_ = ex.PublishCandidate(context.Background(), 42, c)
	_ = ex.PublishCandidate(context.Background(), 42, signaling.Candidate{Role: signaling.RoleCustomer, Candidate: "candidate:own"})

	pc := f.peer(0)
	if !waitFor(func() bool { return pc.appliedCount() == 1 }) {
		t.Fatalf("expected one applied candidate, got %d", pc.appliedCount())
	}
	// several more ticks redeliver the same list
	time.Sleep(30 * time.Millisecond)
	if got := pc.appliedCount(); got != 1 {
		t.Fatalf("expected redelivery to be a no-op, got %d applications", got)
	}
}

func TestStop_NoCallsAfterReturn(t *testing.T) {
	ex := &countingExchange{MemoryExchange: signaling.NewMemoryExchange()}
	publishedStream(t, ex.MemoryExchange, 42)
	v, f, _ := testViewer(ex)
	if err := v.View(context.Background(), 42); err != nil {
		t.Fatalf("view: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	v.Stop()
	after := ex.calls.Load()
	_ = ex.PublishCandidate(context.Background(), 42, signaling.Candidate{Role: signaling.RoleProvider, Candidate: "candidate:late"})
	time.Sleep(30 * time.Millisecond)

	if got := ex.calls.Load(); got != after {
		t.Fatalf("expected no calls after stop, got %d more", got-after)
	}
	if f.peer(0).appliedCount() != 0 {
		t.Fatalf("expected candidates after close to be discarded")
	}
}

func TestView_TransportFailureFails(t *testing.T) {
	ex := signaling.NewMemoryExchange()
	publishedStream(t, ex, 42)
	v, f, _ := testViewer(ex)
	if err := v.View(context.Background(), 42); err != nil {
		t.Fatalf("view: %v", err)
	}

	f.peer(0).fireState(webrtc.PeerConnectionStateFailed)
	if !waitFor(func() bool { return v.State() == StateFailed }) {
		t.Fatalf("expected FAILED, got %s", v.State())
	}
	if !f.peer(0).isClosed() {
		t.Fatalf("expected peer closed on failure")
	}
	if st := v.Status(); st.Error == "" {
		t.Fatalf("expected error in status")
	}
	if err := v.Retry(); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestView_StreamStopClosesConnectedSession(t *testing.T) {
	ex := signaling.NewMemoryExchange()
	publishedStream(t, ex, 42)
	v, f, sink := testViewer(ex)
	if err := v.View(context.Background(), 42); err != nil {
		t.Fatalf("view: %v", err)
	}
	f.peer(0).fireTrack()

	_ = ex.StopStream(context.Background(), 42)
	if !waitFor(func() bool { return v.State() == StateClosed }) {
		t.Fatalf("expected CLOSED after stream stop, got %s", v.State())
	}
	if sink.detached.Load() != 1 {
		t.Fatalf("expected sink detached")
	}
}

func TestView_InactivityTimeoutCloses(t *testing.T) {
	ex := signaling.NewMemoryExchange()
	publishedStream(t, ex, 42)
	v, f, _ := testViewer(ex)
	v.cfg.SessionTimeout = 20 * time.Millisecond
	if err := v.View(context.Background(), 42); err != nil {
		t.Fatalf("view: %v", err)
	}
	f.peer(0).fireTrack()

	if !waitFor(func() bool { return v.State() == StateClosed }) {
		t.Fatalf("expected CLOSED after timeout, got %s", v.State())
	}
	if st := v.Status(); st.Error != ErrSessionTimeout.Error() {
		t.Fatalf("expected timeout error, got %q", st.Error)
	}
}

func TestView_NewViewTearsDownPrevious(t *testing.T) {
	ex := signaling.NewMemoryExchange()
	publishedStream(t, ex, 1)
	publishedStream(t, ex, 2)
	v, f, _ := testViewer(ex)

	if err := v.View(context.Background(), 1); err != nil {
		t.Fatalf("view 1: %v", err)
	}
	if err := v.View(context.Background(), 2); err != nil {
		t.Fatalf("view 2: %v", err)
	}
	defer v.Stop()
	if !f.peer(0).isClosed() {
		t.Fatalf("expected first session's peer closed")
	}
	if st := v.Status(); st.AppointmentID != 2 {
		t.Fatalf("expected appointment 2, got %d", st.AppointmentID)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateIdle, StateFetchingOffer, true},
		{StateIdle, StateConnected, false},
		{StateFetchingOffer, StateFailed, true},
		{StateNegotiating, StateConnected, true},
		{StateConnected, StateFailed, false},
		{StateFailed, StateIdle, true},
		{StateConnected, StateClosed, true},
		{StateClosed, StateIdle, false},
	}
	for _, c := range cases {
		if got := canTransition(c.from, c.to); got != c.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", c.from, c.to, c.ok, got)
		}
	}
}
