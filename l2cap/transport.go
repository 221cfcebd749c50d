// Package l2cap establishes a single Bluetooth L2CAP sequenced-packet
// connection, either by dialing a peer or by accepting exactly one incoming
// connection. It is Linux (BlueZ) only.
package l2cap

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
	"github.com/smjoseph/btchat/bdaddr"
	"github.com/smjoseph/btchat/logger"
	"golang.org/x/sys/unix"
)

// DefaultPollInterval bounds every readiness wait the transport makes.
const DefaultPollInterval = 500 * time.Millisecond

// Transport creates connection handles. The zero value is usable: it talks to
// the kernel, logs nothing and does not retry.
type Transport struct {
	// Logger receives structured diagnostics; nil discards them.
	Logger logger.Logger
	// Sys is the syscall surface; nil means UnixSys.
	Sys Sys
	// Adapters resolves the local adapter for Listen; nil creates one on first use.
	Adapters *AdapterResolver
	// PollInterval bounds each wait while listening and while a connect completes.
	PollInterval time.Duration
	// ConnectRetries is the number of extra connect attempts after a failure.
	ConnectRetries uint
	// RetryDelay is the initial backoff between connect attempts.
	RetryDelay time.Duration
	// OnState is called synchronously on every handle state transition.
	OnState StateHandler
}

// Connect dials remote on psm and returns the connection handle.
//
// The returned *Conn is never nil. On failure it is in StateFailed, owns no
// socket, and the error is a *ConnectionError. No retry happens unless
// ConnectRetries is set; each retry uses a fresh socket.
//
// Parameters:
//   - ctx: Cancels pending retries and an interrupted connect
//   - remote: Peer device address
//   - psm: Service to connect to
//
// Returns:
//   - The handle, Connected on success
//   - nil or the last connect error
func (t *Transport) Connect(ctx context.Context, remote bdaddr.Address, psm uint16) (*Conn, error) {
	log := t.log().With(logger.F("remote", remote.String()), logger.F("psm", psm))

	c := newConn(t.sys(), psm, t.OnState)
	c.remote = remote
	c.setState(StateConnecting, nil)

	attempt := func() error {
		return t.dial(ctx, c)
	}

	var err error
	if t.ConnectRetries == 0 {
		err = attempt()
	} else {
		err = retry.Do(attempt,
			retry.Context(ctx),
			retry.Attempts(t.ConnectRetries+1),
			retry.Delay(t.retryDelay()),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				log.Warn("connect attempt failed", logger.F("attempt", n+1), logger.Err(err))
			}),
		)
	}

	if err != nil {
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			err = &ConnectionError{Op: "connect", Addr: remote, PSM: psm, Err: err}
		}

		log.Error("connect failed", logger.Err(err))
		return c, c.fail(err)
	}

	log.Info("connected", logger.F("fd", c.fd))
	c.setState(StateConnected, nil)
	return c, nil
}

// dial makes one connect attempt on a new socket. On success c owns the socket.
func (t *Transport) dial(ctx context.Context, c *Conn) error {
	sys := t.sys()
	connErr := func(op string, err error) error {
		return &ConnectionError{Op: op, Addr: c.remote, PSM: c.psm, Err: err}
	}

	fd, err := sys.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return connErr("socket", err)
	}

	sa := &unix.SockaddrL2{PSM: c.psm, Addr: [6]uint8(c.remote)}
	err = sys.Connect(fd, sa)
	if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EINPROGRESS) {
		err = t.awaitConnect(ctx, fd)
	}

	if err != nil {
		_ = sys.Close(fd)
		return connErr("connect", err)
	}

	c.fd = fd
	return nil
}

// awaitConnect waits for a connect interrupted by a signal to finish and
// returns its outcome.
func (t *Transport) awaitConnect(ctx context.Context, fd int) error {
	sys := t.sys()
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := sys.Poll(fds, t.pollTimeout())
		if errors.Is(err, unix.EINTR) {
			continue
		}

		if err != nil {
			return err
		}

		if n == 0 {
			continue
		}

		soErr, err := sys.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}

		if soErr != 0 {
			return unix.Errno(soErr)
		}

		return nil
	}
}

// Listen binds psm on the local adapter, waits for exactly one incoming
// connection and returns its handle. The listening socket is closed before
// Listen returns, whatever the outcome, so no second connection is accepted.
//
// The returned *Conn is never nil. On failure it is in StateFailed and the
// error is a *ConnectionError.
//
// Parameters:
//   - ctx: Checked between bounded waits; cancelling it aborts the listen
//   - psm: Service to accept connections for
//
// Returns:
//   - The handle, Connected on success
//   - nil or the failure
func (t *Transport) Listen(ctx context.Context, psm uint16) (*Conn, error) {
	sys := t.sys()
	log := t.log().With(logger.F("psm", psm))

	c := newConn(sys, psm, t.OnState)

	local, err := t.adapters().Resolve(ctx)
	if err != nil {
		log.Warn("no local adapter found, binding to any", logger.Err(err))
		local = bdaddr.Any
	}
	c.local = local

	connErr := func(op string, err error) error {
		err = &ConnectionError{Op: op, Addr: local, PSM: psm, Err: err}
		log.Error("listen failed", logger.Err(err))
		return c.fail(err)
	}

	lfd, err := sys.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return c, connErr("socket", err)
	}

	listening := true
	closeListener := func() {
		if listening {
			listening = false
			_ = sys.Close(lfd)
		}
	}
	defer closeListener()

	if err := sys.Bind(lfd, &unix.SockaddrL2{PSM: psm, Addr: [6]uint8(local)}); err != nil {
		return c, connErr("bind", err)
	}

	if err := sys.Listen(lfd, 1); err != nil {
		return c, connErr("listen", err)
	}

	log.Info("listening", logger.F("local", local.String()))
	c.setState(StateListening, nil)

	fds := []unix.PollFd{{Fd: int32(lfd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return c, connErr("accept", err)
		}

		fds[0].Revents = 0
		n, err := sys.Poll(fds, t.pollTimeout())
		if errors.Is(err, unix.EINTR) {
			continue
		}

		if err != nil {
			return c, connErr("poll", err)
		}

		if n == 0 {
			continue
		}

		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return c, connErr("poll", unix.EIO)
		}

		if fds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		fd, sa, err := sys.Accept(lfd)
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ECONNABORTED) {
			continue
		}

		if err != nil {
			return c, connErr("accept", err)
		}

		closeListener()

		c.fd = fd
		c.accepted = true
		if l2, ok := sa.(*unix.SockaddrL2); ok {
			c.remote = bdaddr.FromWire(l2.Addr)
		}

		log.Info("accepted connection", logger.F("remote", c.remote.String()), logger.F("fd", fd))
		c.setState(StateConnected, nil)
		return c, nil
	}
}

func (t *Transport) sys() Sys {
	if t.Sys == nil {
		return UnixSys{}
	}

	return t.Sys
}

func (t *Transport) log() logger.Logger {
	if t.Logger == nil {
		return logger.Nop()
	}

	return t.Logger
}

func (t *Transport) adapters() *AdapterResolver {
	if t.Adapters == nil {
		t.Adapters = NewAdapterResolver(nil, time.Minute)
	}

	return t.Adapters
}

func (t *Transport) pollTimeout() int {
	d := t.PollInterval
	if d <= 0 {
		d = DefaultPollInterval
	}

	return int(d / time.Millisecond)
}

func (t *Transport) retryDelay() time.Duration {
	if t.RetryDelay <= 0 {
		return time.Second
	}

	return t.RetryDelay
}
