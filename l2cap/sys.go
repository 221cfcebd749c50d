package l2cap

import "golang.org/x/sys/unix"

// Sys is the set of socket calls the transport makes. The default
// implementation goes straight to the kernel through x/sys/unix; tests swap in
// a fake to script connects, accepts and failures.
type Sys interface {
	Socket(domain, typ, proto int) (int, error)
	Bind(fd int, sa unix.Sockaddr) error
	Connect(fd int, sa unix.Sockaddr) error
	Listen(fd int, backlog int) error
	Accept(fd int) (int, unix.Sockaddr, error)
	Poll(fds []unix.PollFd, timeoutMs int) (int, error)
	GetsockoptInt(fd, level, opt int) (int, error)
	Read(fd int, p []byte) (int, error)
	Write(fd int, p []byte) (int, error)
	Close(fd int) error
}

// UnixSys is the kernel-backed Sys.
type UnixSys struct{}

var _ Sys = UnixSys{}

func (UnixSys) Socket(domain, typ, proto int) (int, error) {
	return unix.Socket(domain, typ|unix.SOCK_CLOEXEC, proto)
}

func (UnixSys) Bind(fd int, sa unix.Sockaddr) error {
	return unix.Bind(fd, sa)
}

func (UnixSys) Connect(fd int, sa unix.Sockaddr) error {
	return unix.Connect(fd, sa)
}

func (UnixSys) Listen(fd int, backlog int) error {
	return unix.Listen(fd, backlog)
}

func (UnixSys) Accept(fd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(fd, unix.SOCK_CLOEXEC)
}

func (UnixSys) Poll(fds []unix.PollFd, timeoutMs int) (int, error) {
	return unix.Poll(fds, timeoutMs)
}

func (UnixSys) GetsockoptInt(fd, level, opt int) (int, error) {
	return unix.GetsockoptInt(fd, level, opt)
}

func (UnixSys) Read(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

func (UnixSys) Write(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}

func (UnixSys) Close(fd int) error {
	return unix.Close(fd)
}
