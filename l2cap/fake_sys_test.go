package l2cap

import (
	"golang.org/x/sys/unix"
)

// fakeSys scripts the syscalls a Transport makes and records what happened.
type fakeSys struct {
	nextFd int
	open   map[int]bool
	closes map[int]int
	calls  []string

	socketErr   error
	bindErr     error
	listenErr   error
	connectErrs []error
	soError     int

	bound     unix.Sockaddr
	connected []unix.Sockaddr
	backlog   int

	// pending is the number of peers waiting to be accepted; pollsUntilReady
	// is how many empty polls happen before the first one is reported.
	pending         int
	pollsUntilReady int
	onPoll          func(n int)
	polls           int
	peerWire        [6]byte
	accepts         int

	reads  [][]byte
	writes [][]byte
}

func newFakeSys() *fakeSys {
	return &fakeSys{nextFd: 10, open: map[int]bool{}, closes: map[int]int{}}
}

var _ Sys = (*fakeSys)(nil)

func (f *fakeSys) Socket(domain, typ, proto int) (int, error) {
	f.calls = append(f.calls, "socket")
	if f.socketErr != nil {
		return -1, f.socketErr
	}

	fd := f.nextFd
	f.nextFd++
	f.open[fd] = true
	return fd, nil
}

func (f *fakeSys) Bind(fd int, sa unix.Sockaddr) error {
	f.calls = append(f.calls, "bind")
	f.bound = sa
	return f.bindErr
}

func (f *fakeSys) Connect(fd int, sa unix.Sockaddr) error {
	f.calls = append(f.calls, "connect")
	f.connected = append(f.connected, sa)
	if len(f.connectErrs) == 0 {
		return nil
	}

	err := f.connectErrs[0]
	f.connectErrs = f.connectErrs[1:]
	return err
}

func (f *fakeSys) Listen(fd int, backlog int) error {
	f.calls = append(f.calls, "listen")
	f.backlog = backlog
	return f.listenErr
}

func (f *fakeSys) Accept(fd int) (int, unix.Sockaddr, error) {
	f.calls = append(f.calls, "accept")
	if !f.open[fd] {
		return -1, nil, unix.EBADF
	}

	if f.pending == 0 {
		return -1, nil, unix.EAGAIN
	}

	f.pending--
	f.accepts++
	nfd := f.nextFd
	f.nextFd++
	f.open[nfd] = true
	return nfd, &unix.SockaddrL2{PSM: 0x1213, Addr: f.peerWire}, nil
}

func (f *fakeSys) Poll(fds []unix.PollFd, timeoutMs int) (int, error) {
	f.calls = append(f.calls, "poll")
	f.polls++
	if f.onPoll != nil {
		f.onPoll(f.polls)
	}

	if f.polls <= f.pollsUntilReady || f.pending == 0 && fds[0].Events == unix.POLLIN {
		return 0, nil
	}

	fds[0].Revents = fds[0].Events
	return 1, nil
}

func (f *fakeSys) GetsockoptInt(fd, level, opt int) (int, error) {
	f.calls = append(f.calls, "getsockopt")
	return f.soError, nil
}

func (f *fakeSys) Read(fd int, p []byte) (int, error) {
	f.calls = append(f.calls, "read")
	if len(f.reads) == 0 {
		return 0, nil
	}

	n := copy(p, f.reads[0])
	f.reads = f.reads[1:]
	return n, nil
}

func (f *fakeSys) Write(fd int, p []byte) (int, error) {
	f.calls = append(f.calls, "write")
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeSys) Close(fd int) error {
	f.calls = append(f.calls, "close")
	f.closes[fd]++
	if !f.open[fd] {
		return unix.EBADF
	}

	delete(f.open, fd)
	return nil
}

func (f *fakeSys) count(call string) int {
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}

	return n
}
