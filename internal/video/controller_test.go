package video

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"autocare-platform/internal/appointments"
	"autocare-platform/internal/signaling"
	"autocare-platform/pkg/logger"
)

type fakeLive struct {
	mu       sync.Mutex
	statuses []signaling.StreamStatus
	stops    int
}

func (l *fakeLive) SetStatus(ctx context.Context, s signaling.StreamStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, s)
	return nil
}

func (l *fakeLive) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops++
	return nil
}

func (l *fakeLive) stopCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stops
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	starts []signaling.StartRequest
	lives  []*fakeLive
	err    error

	// entered and release hold a Start call in flight when set.
	entered chan struct{}
	release chan struct{}
}

func (b *fakeBroadcaster) Start(ctx context.Context, req signaling.StartRequest, track webrtc.TrackLocal) (Live, error) {
	if b.entered != nil {
		b.entered <- struct{}{}
		<-b.release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	l := &fakeLive{}
	b.starts = append(b.starts, req)
	b.lives = append(b.lives, l)
	return l, nil
}

func (b *fakeBroadcaster) startCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.starts)
}

func (b *fakeBroadcaster) live(i int) *fakeLive {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lives[i]
}

type fakeSource struct {
	mu     sync.Mutex
	paused bool
	closes int
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSource) Track() webrtc.TrackLocal { return nil }
func (s *fakeSource) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
func (s *fakeSource) SetPaused(p bool) {
	s.mu.Lock()
	s.paused = p
	s.mu.Unlock()
}

type memAudit struct {
	mu     sync.Mutex
	events []bool
}

func (m *memAudit) LogBroadcast(ctx context.Context, id int64, actor string, started bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, started)
	return nil
}

func (m *memAudit) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func newTestController(delay time.Duration) (*Controller, *fakeBroadcaster, *memAudit) {
	b := &fakeBroadcaster{}
	a := &memAudit{}
	sources := func(int64) (MediaSource, error) { return &fakeSource{}, nil }
	c := NewController(b, sources, a, Config{StartDelay: delay, StopDelay: delay}, logger.Discard())
	return c, b, a
}

func appt(status appointments.Status) appointments.Appointment {
	return appointments.Appointment{ID: 42, Status: status, ProviderName: "Speedy Motors", CustomerName: "ravi"}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestOnStatusChange_InProgressStartsAfterDelay(t *testing.T) {
	c, b, a := newTestController(20 * time.Millisecond)
	defer c.Close(context.Background())

	c.OnStatusChange(context.Background(), appt(appointments.StatusInProgress), appointments.StatusConfirmed)
	if b.startCount() != 0 {
		t.Fatalf("expected start to wait for the delay")
	}
	if !eventually(func() bool { return b.startCount() == 1 }) {
		t.Fatalf("expected broadcast started")
	}
	if got := b.starts[0]; got.AppointmentID != 42 || got.ProviderName != "Speedy Motors" || got.CustomerName != "ravi" {
		t.Fatalf("unexpected start request: %+v", got)
	}
	if !eventually(func() bool { return len(c.Live()) == 1 && a.count() == 1 }) {
		t.Fatalf("expected 42 live and audited, got %v", c.Live())
	}
	if !a.events[0] {
		t.Fatalf("expected broadcast_started audit")
	}
}

func TestOnStatusChange_CompletedStops(t *testing.T) {
	c, b, _ := newTestController(5 * time.Millisecond)
	if err := c.Start(context.Background(), appt(appointments.StatusInProgress)); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.OnStatusChange(context.Background(), appt(appointments.StatusCompleted), appointments.StatusInProgress)
	if !eventually(func() bool { return b.live(0).stopCount() == 1 }) {
		t.Fatalf("expected broadcast stopped")
	}
	if len(c.Live()) != 0 {
		t.Fatalf("expected nothing live")
	}
}

func TestOnStatusChange_CancelBeforeStartSkipsStart(t *testing.T) {
	c, b, _ := newTestController(30 * time.Millisecond)
	c.OnStatusChange(context.Background(), appt(appointments.StatusInProgress), appointments.StatusConfirmed)
	c.OnStatusChange(context.Background(), appt(appointments.StatusCancelled), appointments.StatusInProgress)

	time.Sleep(80 * time.Millisecond)
	if b.startCount() != 0 {
		t.Fatalf("expected pending start to be cancelled, got %d starts", b.startCount())
	}
}

func TestStart_SupersedesPrevious(t *testing.T) {
	c, b, _ := newTestController(time.Millisecond)
	defer c.Close(context.Background())
	_ = c.Start(context.Background(), appt(appointments.StatusInProgress))
	_ = c.Start(context.Background(), appt(appointments.StatusInProgress))

	if b.live(0).stopCount() != 1 {
		t.Fatalf("expected first broadcast stopped")
	}
	if len(c.Live()) != 1 {
		t.Fatalf("expected one live broadcast")
	}
}

func TestStopPlayPause_Idempotent(t *testing.T) {
	c, b, _ := newTestController(time.Millisecond)
	ctx := context.Background()

	if err := c.Stop(ctx, 42); err != nil {
		t.Fatalf("expected stop without broadcast to be a no-op, got %v", err)
	}
	if err := c.Pause(ctx, 42); !errors.Is(err, ErrNotLive) {
		t.Fatalf("expected ErrNotLive, got %v", err)
	}

	_ = c.Start(ctx, appt(appointments.StatusInProgress))
	if err := c.Pause(ctx, 42); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := c.Pause(ctx, 42); err != nil {
		t.Fatalf("second pause: %v", err)
	}
	if err := c.Play(ctx, 42); err != nil {
		t.Fatalf("play: %v", err)
	}
	got := b.live(0).statuses
	if len(got) != 3 || got[0] != signaling.StreamPaused || got[2] != signaling.StreamActive {
		t.Fatalf("unexpected statuses: %v", got)
	}

	if err := c.Stop(ctx, 42); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.Stop(ctx, 42); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if b.live(0).stopCount() != 1 {
		t.Fatalf("expected exactly one transport stop, got %d", b.live(0).stopCount())
	}
}

func TestNewSourceFactory(t *testing.T) {
	if _, err := NewSourceFactory("ivf", ""); err == nil {
		t.Fatalf("expected error for ivf without path")
	}
	if _, err := NewSourceFactory("webcam", ""); err == nil {
		t.Fatalf("expected error for unknown source")
	}
	f, err := NewSourceFactory("placeholder", "")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	src, err := f(42)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if src.Track() == nil || src.Track().Kind() != webrtc.RTPCodecTypeVideo {
		t.Fatalf("expected a video track")
	}
}

func TestPlaceholderFrameIsKeyFrame(t *testing.T) {
	f := placeholderFrame(320, 240)
	if f[0]&1 != 0 {
		t.Fatalf("expected key frame bit clear")
	}
	if f[3] != 0x9d || f[4] != 0x01 || f[5] != 0x2a {
		t.Fatalf("expected vp8 start code")
	}
	if w := uint16(f[6]) | uint16(f[7])<<8; w != 320 {
		t.Fatalf("expected width 320, got %d", w)
	}
}

func TestStart_AfterCloseRefused(t *testing.T) {
	c, b, _ := newTestController(time.Millisecond)
	c.Close(context.Background())

	if err := c.Start(context.Background(), appt(appointments.StatusInProgress)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if b.startCount() != 0 {
		t.Fatalf("expected no broadcast started")
	}
}

func TestStart_CloseDuringStartStopsBroadcast(t *testing.T) {
	c, b, _ := newTestController(time.Millisecond)
	b.entered = make(chan struct{})
	b.release = make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- c.Start(context.Background(), appt(appointments.StatusInProgress)) }()
	<-b.entered
	c.Close(context.Background())
	close(b.release)

	if err := <-errc; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if got := b.live(0).stopCount(); got != 1 {
		t.Fatalf("expected the late broadcast stopped, got %d stops", got)
	}
	if len(c.Live()) != 0 {
		t.Fatalf("expected nothing live after close, got %v", c.Live())
	}
}

func TestStart_BroadcasterFailureClosesSource(t *testing.T) {
	b := &fakeBroadcaster{err: errors.New("signaling down")}
	src := &fakeSource{}
	c := NewController(b, func(int64) (MediaSource, error) { return src, nil }, nil, Config{}, logger.Discard())
	defer c.Close(context.Background())

	if err := c.Start(context.Background(), appt(appointments.StatusInProgress)); err == nil {
		t.Fatalf("expected start error")
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.closes != 1 {
		t.Fatalf("expected source closed once, got %d", src.closes)
	}
}
