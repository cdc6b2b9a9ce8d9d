package signaling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memStream struct {
	stream Stream
	ice    map[Role][]Candidate
}

// MemoryExchange is an in-process Exchange used by tests and single-node runs.
type MemoryExchange struct {
	mu       sync.Mutex
	streams  map[int64]*memStream
	watchers map[int64]map[chan Event]struct{}
	clock    func() time.Time
}

func NewMemoryExchange() *MemoryExchange {
	return &MemoryExchange{
		streams:  map[int64]*memStream{},
		watchers: map[int64]map[chan Event]struct{}{},
		clock:    time.Now,
	}
}

func (m *MemoryExchange) StartStream(ctx context.Context, req StartRequest) (Stream, error) {
	if err := validateStart(req); err != nil {
		return Stream{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stream{
		AppointmentID: req.AppointmentID,
		StreamID:      uuid.NewString(),
		Status:        StreamActive,
		ProviderName:  req.ProviderName,
		CustomerName:  req.CustomerName,
		StartedAt:     m.clock().UTC(),
	}
	m.streams[req.AppointmentID] = &memStream{stream: s, ice: map[Role][]Candidate{}}
	m.notifyLocked(Event{AppointmentID: req.AppointmentID, Kind: EventStarted})
	return s, nil
}

func (m *MemoryExchange) GetStream(ctx context.Context, appointmentID int64) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.streams[appointmentID]
	if !ok {
		return Stream{}, ErrStreamNotFound
	}
	return ms.stream, nil
}

func (m *MemoryExchange) SetStatus(ctx context.Context, appointmentID int64, status StreamStatus) error {
	if !status.Valid() {
		return ErrInvalid
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.streams[appointmentID]
	if !ok {
		return ErrStreamNotFound
	}
	ms.stream.Status = status
	m.notifyLocked(Event{AppointmentID: appointmentID, Kind: EventStatus})
	return nil
}

func (m *MemoryExchange) StopStream(ctx context.Context, appointmentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[appointmentID]; !ok {
		return nil
	}
	delete(m.streams, appointmentID)
	m.notifyLocked(Event{AppointmentID: appointmentID, Kind: EventStopped})
	return nil
}

func (m *MemoryExchange) PublishOffer(ctx context.Context, appointmentID int64, sdp string) error {
	return m.setSDP(appointmentID, sdp, EventOffer)
}

func (m *MemoryExchange) PublishAnswer(ctx context.Context, appointmentID int64, sdp string) error {
	return m.setSDP(appointmentID, sdp, EventAnswer)
}

func (m *MemoryExchange) setSDP(appointmentID int64, sdp string, kind EventKind) error {
	if sdp == "" {
		return ErrInvalid
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.streams[appointmentID]
	if !ok {
		return ErrStreamNotFound
	}
	if kind == EventOffer {
		ms.stream.Offer = sdp
	} else {
		ms.stream.Answer = sdp
	}
	m.notifyLocked(Event{AppointmentID: appointmentID, Kind: kind})
	return nil
}

func (m *MemoryExchange) Offer(ctx context.Context, appointmentID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.streams[appointmentID]
	if !ok || ms.stream.Offer == "" {
		return "", ErrNotReady
	}
	return ms.stream.Offer, nil
}

func (m *MemoryExchange) Answer(ctx context.Context, appointmentID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.streams[appointmentID]
	if !ok || ms.stream.Answer == "" {
		return "", ErrNotReady
	}
	return ms.stream.Answer, nil
}

func (m *MemoryExchange) PublishCandidate(ctx context.Context, appointmentID int64, c Candidate) error {
	if err := validateCandidate(c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.streams[appointmentID]
	if !ok {
		return ErrStreamNotFound
	}
	ms.ice[c.Role] = append(ms.ice[c.Role], c)
	m.notifyLocked(Event{AppointmentID: appointmentID, Kind: EventCandidate, Role: c.Role})
	return nil
}

func (m *MemoryExchange) Candidates(ctx context.Context, appointmentID int64, role Role) ([]Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.streams[appointmentID]
	if !ok {
		return nil, ErrStreamNotFound
	}
	out := make([]Candidate, len(ms.ice[role]))
	copy(out, ms.ice[role])
	return out, nil
}

func (m *MemoryExchange) ActiveStreams(ctx context.Context, identity string) ([]ActiveStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ActiveStream, 0)
	for _, ms := range m.streams {
		s := ms.stream
		if s.Status == StreamInactive {
			continue
		}
		if s.ProviderName != identity && s.CustomerName != identity {
			continue
		}
		out = append(out, ActiveStream{
			AppointmentID: s.AppointmentID,
			ProviderName:  s.ProviderName,
			CustomerName:  s.CustomerName,
			Status:        s.Status,
			StreamID:      s.StreamID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentID < out[j].AppointmentID })
	return out, nil
}

// Watch delivers change events for one appointment. Slow receivers miss
// events rather than block publishers.
func (m *MemoryExchange) Watch(ctx context.Context, appointmentID int64) (<-chan Event, error) {
	ch := make(chan Event, 16)
	m.mu.Lock()
	if m.watchers[appointmentID] == nil {
		m.watchers[appointmentID] = map[chan Event]struct{}{}
	}
	m.watchers[appointmentID][ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers[appointmentID], ch)
		if len(m.watchers[appointmentID]) == 0 {
			delete(m.watchers, appointmentID)
		}
		m.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (m *MemoryExchange) notifyLocked(ev Event) {
	for ch := range m.watchers[ev.AppointmentID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
