package signaling

import (
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// Role tags which side of a session produced a candidate.
type Role string

const (
	RoleProvider Role = "provider"
	RoleCustomer Role = "customer"
)

func (r Role) Valid() bool { return r == RoleProvider || r == RoleCustomer }

// Counterpart is the role whose candidates this role applies.
func (r Role) Counterpart() Role {
	if r == RoleProvider {
		return RoleCustomer
	}
	return RoleProvider
}

type StreamStatus string

const (
	StreamInactive StreamStatus = "inactive"
	StreamActive   StreamStatus = "active"
	StreamPaused   StreamStatus = "paused"
)

func (s StreamStatus) Valid() bool {
	return s == StreamInactive || s == StreamActive || s == StreamPaused
}

// Stream is the shared record through which a broadcaster and a viewer meet.
// There is at most one per appointment; starting again replaces it.
type Stream struct {
	AppointmentID int64        `json:"appointment_id"`
	StreamID      string       `json:"stream_id"`
	Status        StreamStatus `json:"status"`
	Offer         string       `json:"offer,omitempty"`
	Answer        string       `json:"answer,omitempty"`
	ProviderName  string       `json:"provider_name"`
	CustomerName  string       `json:"customer_name"`
	StartedAt     time.Time    `json:"started_at"`
}

type StartRequest struct {
	AppointmentID int64  `json:"appointment_id"`
	ProviderName  string `json:"provider_name"`
	CustomerName  string `json:"customer_name"`
}

// ActiveStream is one row of the active-streams-by-identity listing.
type ActiveStream struct {
	AppointmentID int64        `json:"appointment_id"`
	ProviderName  string       `json:"provider_name"`
	CustomerName  string       `json:"customer_name"`
	Status        StreamStatus `json:"status"`
	StreamID      string       `json:"stream_id"`
}

// Candidate is an ICE candidate as exchanged through the stream record.
type Candidate struct {
	Role             Role    `json:"role"`
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdp_mline_index,omitempty"`
	UsernameFragment *string `json:"username_fragment,omitempty"`
}

// Key identifies a candidate for at-most-once application. Redelivered copies
// of one candidate share a key.
func (c Candidate) Key() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(c.Candidate))
	b.WriteByte('|')
	if c.SDPMid != nil {
		b.WriteString(*c.SDPMid)
	}
	b.WriteByte('|')
	if c.SDPMLineIndex != nil {
		fmt.Fprintf(&b, "%d", *c.SDPMLineIndex)
	}
	return b.String()
}

func (c Candidate) Init() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func CandidateFromInit(role Role, init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Role:             role,
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

// EventKind names what changed on a stream record.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventStatus    EventKind = "status"
	EventOffer     EventKind = "offer"
	EventAnswer    EventKind = "answer"
	EventCandidate EventKind = "candidate"
	EventStopped   EventKind = "stopped"
)

type Event struct {
	AppointmentID int64     `json:"appointment_id"`
	Kind          EventKind `json:"kind"`
	Role          Role      `json:"role,omitempty"`
}
