// Package negotiator drives WebRTC peer connections for live appointment
// video over the request/poll signaling exchange.
package negotiator

import (
	"errors"
	"fmt"

	"autocare-platform/internal/signaling"
)

type State int32

const (
	StateIdle State = iota
	StateFetchingOffer
	StateNegotiating
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFetchingOffer:
		return "FETCHING_OFFER"
	case StateNegotiating:
		return "NEGOTIATING"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var transitions = map[State][]State{
	StateIdle:          {StateFetchingOffer},
	StateFetchingOffer: {StateNegotiating, StateFailed},
	StateNegotiating:   {StateConnected, StateFailed},
	StateConnected:     {StateClosed},
	StateFailed:        {StateIdle, StateClosed},
}

// canTransition reports whether from -> to is allowed. Stop may close a
// session from any state.
func canTransition(from, to State) bool {
	if to == StateClosed && from != StateClosed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	// ErrTransportFailure means the peer connection reported failed.
	ErrTransportFailure = errors.New("negotiator: transport failure")
	ErrInvalidState     = errors.New("negotiator: invalid state")
	ErrSessionTimeout   = errors.New("negotiator: session timed out")
	// ErrStreamEnded is reported when the stream record disappears or is
	// replaced while a session is live.
	ErrStreamEnded = fmt.Errorf("%w: stream ended", signaling.ErrStreamNotFound)
)
