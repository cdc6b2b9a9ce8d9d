package video

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

const (
	SourcePlaceholder = "placeholder"
	SourceIVF         = "ivf"
)

// MediaSource produces the broadcast track. Run feeds samples until ctx
// ends; a paused source keeps running but writes nothing.
type MediaSource interface {
	Track() webrtc.TrackLocal
	Run(ctx context.Context) error
	SetPaused(paused bool)
}

// SourceFactory builds a fresh source for one appointment's broadcast.
type SourceFactory func(appointmentID int64) (MediaSource, error)

// NewSourceFactory picks the source implementation by name.
func NewSourceFactory(kind, path string) (SourceFactory, error) {
	switch kind {
	case "", SourcePlaceholder:
		return func(id int64) (MediaSource, error) { return NewPlaceholderSource(id) }, nil
	case SourceIVF:
		if path == "" {
			return nil, errors.New("video: ivf source needs a path")
		}
		return func(id int64) (MediaSource, error) { return NewIVFSource(id, path) }, nil
	default:
		return nil, fmt.Errorf("video: unknown source %q", kind)
	}
}

func newVP8Track(appointmentID int64) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		fmt.Sprintf("appointment-%d", appointmentID),
	)
}

// PlaceholderSource emits a fixed synthetic VP8 key frame at a steady rate.
type PlaceholderSource struct {
	track  *webrtc.TrackLocalStaticSample
	frame  []byte
	rate   time.Duration
	paused atomic.Bool
}

func NewPlaceholderSource(appointmentID int64) (*PlaceholderSource, error) {
	track, err := newVP8Track(appointmentID)
	if err != nil {
		return nil, err
	}
	return &PlaceholderSource{track: track, frame: placeholderFrame(320, 240), rate: time.Second / 15}, nil
}

func (s *PlaceholderSource) Track() webrtc.TrackLocal { return s.track }
func (s *PlaceholderSource) SetPaused(p bool)         { s.paused.Store(p) }

func (s *PlaceholderSource) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if s.paused.Load() {
			continue
		}
		if err := s.track.WriteSample(media.Sample{Data: s.frame, Duration: s.rate}); err != nil {
			return fmt.Errorf("placeholder write: %w", err)
		}
	}
}

// placeholderFrame builds a VP8 key frame header for a w×h picture followed
// by an empty first partition.
func placeholderFrame(w, h uint16) []byte {
	const partition = 16
	frame := make([]byte, 10+partition)
	// frame tag: key frame, version 0, shown, first partition size
	tag := uint32(1<<4) | uint32(partition)<<5
	frame[0] = byte(tag)
	frame[1] = byte(tag >> 8)
	frame[2] = byte(tag >> 16)
	frame[3], frame[4], frame[5] = 0x9d, 0x01, 0x2a
	binary.LittleEndian.PutUint16(frame[6:], w&0x3fff)
	binary.LittleEndian.PutUint16(frame[8:], h&0x3fff)
	return frame
}

// IVFSource loops the VP8 frames of an IVF file.
type IVFSource struct {
	track  *webrtc.TrackLocalStaticSample
	path   string
	paused atomic.Bool
}

func NewIVFSource(appointmentID int64, path string) (*IVFSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("ivf source: %w", err)
	}
	track, err := newVP8Track(appointmentID)
	if err != nil {
		return nil, err
	}
	return &IVFSource{track: track, path: path}, nil
}

func (s *IVFSource) Track() webrtc.TrackLocal { return s.track }
func (s *IVFSource) SetPaused(p bool)         { s.paused.Store(p) }

func (s *IVFSource) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := s.playOnce(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *IVFSource) playOnce(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("ivf source: %w", err)
	}
	defer f.Close()

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("ivf source: %w", err)
	}
	frameDur := time.Second / 30
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frameDur = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()
	for frames := 0; ; frames++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if frames == 0 {
				return errors.New("ivf source: file has no frames")
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("ivf source: %w", err)
		}
		if s.paused.Load() {
			continue
		}
		if err := s.track.WriteSample(media.Sample{Data: frame, Duration: frameDur}); err != nil {
			return fmt.Errorf("ivf source: %w", err)
		}
	}
}
