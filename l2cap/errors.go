package l2cap

import (
	"errors"
	"fmt"

	"github.com/smjoseph/btchat/bdaddr"
)

var (
	// ErrNotConnected is returned by I/O on a handle that is not Connected.
	ErrNotConnected = errors.New("l2cap: not connected")
	// ErrNoAdapter means no local Bluetooth adapter is up.
	ErrNoAdapter = errors.New("l2cap: no bluetooth adapter is up")
)

// ConnectionError reports a failed socket, bind, listen, connect, poll or
// accept call while establishing a connection.
type ConnectionError struct {
	Op   string
	Addr bdaddr.Address
	PSM  uint16
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("l2cap %s %s psm 0x%04x: %v", e.Op, e.Addr, e.PSM, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
