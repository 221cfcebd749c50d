// Package session runs the chat event loop over an established connection.
//
// A single goroutine waits, with a bounded timeout, for either local input or
// the remote socket to become readable, then services whichever is ready:
// one typed line goes out as one fixed-size frame, one received frame is
// decoded and shown. The loop ends when the peer disconnects, the context is
// cancelled or a receive fails. Local EOF only stops reading input.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/smjoseph/btchat/frame"
	"github.com/smjoseph/btchat/logger"
	"golang.org/x/sys/unix"
)

// DefaultPollInterval bounds each readiness wait.
const DefaultPollInterval = 500 * time.Millisecond

var (
	// ErrNotConnected is returned by Run when the channel is not connected.
	ErrNotConnected = errors.New("session: channel is not connected")
	// ErrTransmit wraps a failed or short frame write. It is logged, never returned.
	ErrTransmit = errors.New("session: transmit failed")
	// ErrReceive wraps a read error that ends the session.
	ErrReceive = errors.New("session: receive failed")
	// ErrBufferTooSmall is returned by Run when a frame has no room for text after the prompt.
	ErrBufferTooSmall = errors.New("session: buffer size leaves no room for text after the prompt")
)

// Channel is the open duplex connection the loop drives. One Write is one
// frame and one Read returns at most one frame. *l2cap.Conn implements it.
type Channel interface {
	Fd() int
	Connected() bool
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Input is the local line source. *os.File implements it.
type Input interface {
	io.Reader
	Fd() uintptr
}

// Stats counts what a session did.
type Stats struct {
	Sent         int
	Received     int
	SendFailures int
}

// Loop multiplexes local input and the remote connection.
type Loop struct {
	// Conn is the connected channel. Run closes it on return.
	Conn Channel
	// Input supplies typed lines; nil means receive only.
	Input Input
	// Output shows echoed and received lines and status text.
	Output io.Writer
	// Prompt is put in front of every outgoing line.
	Prompt string
	// BufferSize is the frame size in bytes.
	BufferSize int
	// PollInterval bounds each wait; zero means DefaultPollInterval.
	PollInterval time.Duration
	// Logger receives diagnostics; nil discards them.
	Logger logger.Logger

	stats Stats
	log   logger.Logger
}

// Run services both sources until the session ends. A peer disconnect and
// context cancellation end it cleanly with a nil error. When local input
// reaches EOF the buffered lines are still sent and the loop keeps receiving.
// Run never touches a channel that is not connected, nor one it is given with
// a frame too small for the prompt.
//
// Parameters:
//   - ctx: Checked once per wake; cancellation is noticed within one PollInterval
//
// Returns:
//   - nil on a clean end, ErrNotConnected, an error wrapping ErrBufferTooSmall,
//     or an error wrapping ErrReceive
func (l *Loop) Run(ctx context.Context) error {
	if l.Conn == nil || !l.Conn.Connected() {
		return ErrNotConnected
	}

	if frame.MaxLine(l.Prompt, l.BufferSize) < 1 {
		return fmt.Errorf("%w: %d bytes for prompt %q", ErrBufferTooSmall, l.BufferSize, l.Prompt)
	}
	defer l.Conn.Close()

	l.log = l.Logger
	if l.log == nil {
		l.log = logger.Nop()
	}
	defer func() {
		l.log.Info("session ended",
			logger.F("sent", l.stats.Sent),
			logger.F("received", l.stats.Received),
			logger.F("send_failures", l.stats.SendFailures))
	}()

	outBuf := make([]byte, l.BufferSize)
	inBuf := make([]byte, l.BufferSize)

	var lines *lineReader
	if l.Input != nil {
		lines = newLineReader(l.Input, frame.MaxLine(l.Prompt, l.BufferSize))
	}

	timeout := int(l.pollInterval() / time.Millisecond)
	fds := make([]unix.PollFd, 0, 2)
	inputClosed := false

	for l.Conn.Connected() {
		if ctx.Err() != nil {
			l.log.Info("session cancelled")
			return nil
		}

		fds = fds[:0]
		inputIdx := -1
		if lines != nil && !lines.eof {
			inputIdx = len(fds)
			fds = append(fds, unix.PollFd{Fd: int32(l.Input.Fd()), Events: unix.POLLIN})
		}
		sockIdx := len(fds)
		fds = append(fds, unix.PollFd{Fd: int32(l.Conn.Fd()), Events: unix.POLLIN})

		wait := timeout
		if lines != nil && lines.hasLine() {
			wait = 0
		}

		if _, err := unix.Poll(fds, wait); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			return fmt.Errorf("poll: %w", err)
		}

		if lines != nil {
			if inputIdx >= 0 && fds[inputIdx].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
				if err := lines.fill(); err != nil {
					return fmt.Errorf("read local input: %w", err)
				}
			}

			if line, ok := lines.next(); ok {
				l.send(outBuf, line)
			}
		}

		if rev := fds[sockIdx].Revents; rev != 0 {
			if rev&unix.POLLNVAL != 0 {
				return fmt.Errorf("%w: %w", ErrReceive, unix.EBADF)
			}

			if done, err := l.receive(inBuf); done {
				return err
			}
		}

		if lines != nil && !inputClosed && lines.done() {
			inputClosed = true
			l.log.Info("local input closed, still receiving")
		}
	}

	return nil
}

// Stats returns the counters of the last Run.
func (l *Loop) Stats() Stats {
	return l.stats
}

// send encodes one line, echoes it and writes the frame. Failures are
// reported and the message is dropped.
func (l *Loop) send(buf, line []byte) {
	frame.EncodeInto(buf, l.Prompt, string(line))
	l.display(frame.Decode(buf))

	n, err := l.Conn.Write(buf)
	if err != nil || n != len(buf) {
		if err == nil {
			err = fmt.Errorf("short write: %d of %d bytes", n, len(buf))
		}

		l.stats.SendFailures++
		l.display("failed to send")
		l.log.Warn("failed to send", logger.Err(fmt.Errorf("%w: %w", ErrTransmit, err)))
		return
	}

	l.stats.Sent++
	l.log.Debug("frame sent", logger.F("bytes", n))
}

// receive reads one frame. It reports done when the session must end.
func (l *Loop) receive(buf []byte) (bool, error) {
	clear(buf)

	n, err := l.Conn.Read(buf)
	switch {
	case errors.Is(err, unix.EINTR), errors.Is(err, unix.EAGAIN):
		return false, nil
	case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.ENOTCONN):
		l.log.Info("peer disconnected", logger.Err(err))
		return true, nil
	case err != nil:
		l.log.Error("receive failed", logger.Err(err))
		return true, fmt.Errorf("%w: %w", ErrReceive, err)
	case n == 0:
		l.log.Info("peer disconnected")
		return true, nil
	}

	l.stats.Received++
	l.log.Debug("frame received", logger.F("bytes", n))
	l.display(frame.Decode(buf[:n]))
	return false, nil
}

func (l *Loop) display(text string) {
	if l.Output == nil {
		return
	}

	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	if _, err := io.WriteString(l.Output, text); err != nil {
		l.log.Warn("failed to write output", logger.Err(err))
	}
}

func (l *Loop) pollInterval() time.Duration {
	if l.PollInterval <= 0 {
		return DefaultPollInterval
	}

	return l.PollInterval
}
