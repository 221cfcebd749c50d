package l2cap

import (
	"time"

	"github.com/smjoseph/btchat/bdaddr"
)

// State represents where a Conn is in its lifecycle.
type State int32

const (
	StateUnbound    State = iota // No socket yet
	StateListening               // Bound and waiting for the single incoming connection
	StateConnecting              // Outgoing connect in progress
	StateConnected               // Duplex channel open
	StateClosed                  // Session over; the socket has been closed
	StateFailed                  // Establishment failed; the handle owns no socket
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateUnbound:
		return "Unbound"
	case StateListening:
		return "Listening"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// StateEvent is emitted on every state transition of a Conn.
type StateEvent struct {
	State     State          // The new state
	Local     bdaddr.Address // Local adapter address, Any if unknown
	Remote    bdaddr.Address // Peer address, Any until known
	PSM       uint16         // Service the connection targets
	Accepted  bool           // True when the connection came from Listen
	Timestamp time.Time      // When the transition occurred
	Error     error          // Non-nil for StateFailed
}

// StateHandler receives state transitions. It is called synchronously, in
// transition order, on the goroutine that caused the transition.
type StateHandler func(event StateEvent)
