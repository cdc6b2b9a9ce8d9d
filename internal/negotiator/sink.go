package negotiator

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"

	"autocare-platform/pkg/logger"
)

// Sink receives the remote video of a connected session. Play and Pause
// affect only the sink, never the transport.
type Sink interface {
	Attach(appointmentID int64, track *webrtc.TrackRemote) error
	Play()
	Pause()
	Detach()
}

// IVFSink records the remote VP8 track into an IVF file per session.
// Packets received while paused are dropped.
type IVFSink struct {
	dir string
	log *slog.Logger
	now func() time.Time

	mu     sync.Mutex
	w      *ivfwriter.IVFWriter
	paused bool
	path   string
}

func NewIVFSink(dir string, log *slog.Logger) *IVFSink {
	return &IVFSink{dir: dir, log: logger.Component(log, "ivf_sink"), now: time.Now}
}

func (s *IVFSink) Attach(appointmentID int64, track *webrtc.TrackRemote) error {
	if track == nil {
		return errors.New("ivf sink: nil track")
	}
	if mime := track.Codec().MimeType; !strings.EqualFold(mime, webrtc.MimeTypeVP8) {
		return fmt.Errorf("ivf sink: unsupported codec %q", mime)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("ivf sink: %w", err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("appointment-%d-%s.ivf", appointmentID, s.now().UTC().Format("20060102T150405")))
	w, err := ivfwriter.New(path)
	if err != nil {
		return fmt.Errorf("ivf sink: %w", err)
	}

	s.mu.Lock()
	prev := s.w
	s.w, s.path, s.paused = w, path, false
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	s.log.Info("recording", "appointment_id", appointmentID, "path", path)
	go s.copy(track, w)
	return nil
}

func (s *IVFSink) copy(track *webrtc.TrackRemote, w *ivfwriter.IVFWriter) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.w != w {
			s.mu.Unlock()
			return
		}
		if !s.paused {
			if err := w.WriteRTP(pkt); err != nil {
				s.log.Warn("ivf write failed", "err", err)
			}
		}
		s.mu.Unlock()
	}
}

func (s *IVFSink) Play() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *IVFSink) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *IVFSink) Detach() {
	s.mu.Lock()
	w := s.w
	s.w = nil
	s.mu.Unlock()
	if w != nil {
		if err := w.Close(); err != nil {
			s.log.Warn("ivf close failed", "err", err)
		}
	}
}

// Path is the file of the current or last recording.
func (s *IVFSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}
