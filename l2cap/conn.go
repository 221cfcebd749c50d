package l2cap

import (
	"sync/atomic"
	"time"

	"github.com/smjoseph/btchat/bdaddr"
)

// Conn is the connection handle: the exclusive owner of one L2CAP
// sequenced-packet socket. Its state doubles as the session liveness flag.
//
// Conn is normally driven by a single goroutine. State, Connected and Close
// are safe to call from others.
type Conn struct {
	sys      Sys
	fd       int
	state    atomic.Int32
	local    bdaddr.Address
	remote   bdaddr.Address
	psm      uint16
	accepted bool
	onState  StateHandler
}

func newConn(sys Sys, psm uint16, onState StateHandler) *Conn {
	return &Conn{sys: sys, fd: -1, psm: psm, onState: onState}
}

// Fd returns the socket descriptor, or -1 when the handle owns no socket.
func (c *Conn) Fd() int {
	if !c.Connected() {
		return -1
	}

	return c.fd
}

// State returns the current state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Connected reports whether the duplex channel is open.
func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

// Local returns the local adapter address (Any when the kernel picked it).
func (c *Conn) Local() bdaddr.Address {
	return c.local
}

// Remote returns the peer address.
func (c *Conn) Remote() bdaddr.Address {
	return c.remote
}

// PSM returns the service the connection targets.
func (c *Conn) PSM() uint16 {
	return c.psm
}

// Read reads one frame of at most len(p) bytes. A return of 0, nil means the
// peer closed the connection.
func (c *Conn) Read(p []byte) (int, error) {
	if !c.Connected() {
		return 0, ErrNotConnected
	}

	return c.sys.Read(c.fd, p)
}

// Write sends p as one frame.
func (c *Conn) Write(p []byte) (int, error) {
	if !c.Connected() {
		return 0, ErrNotConnected
	}

	return c.sys.Write(c.fd, p)
}

// Close closes the socket and moves a connected handle to Closed. Handles
// that never connected keep their state. Safe to call multiple times.
func (c *Conn) Close() error {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateClosed)) {
		return nil
	}

	err := c.sys.Close(c.fd)
	c.emit(StateClosed, nil)
	return err
}

func (c *Conn) setState(s State, err error) {
	c.state.Store(int32(s))
	c.emit(s, err)
}

// fail moves the handle to Failed and returns err for convenience.
func (c *Conn) fail(err error) error {
	c.fd = -1
	c.setState(StateFailed, err)
	return err
}

func (c *Conn) emit(s State, err error) {
	if c.onState == nil {
		return
	}

	c.onState(StateEvent{
		State:     s,
		Local:     c.local,
		Remote:    c.remote,
		PSM:       c.psm,
		Accepted:  c.accepted,
		Timestamp: time.Now(),
		Error:     err,
	})
}
