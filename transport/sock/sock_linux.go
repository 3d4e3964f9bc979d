//go:build linux

// Package sock implements the transport contracts on raw OS sockets.
//
// Sockets are put in non-blocking mode right after creation: connect
// returns EINPROGRESS and completion is detected via poll(2) on POLLOUT,
// read/write report EAGAIN as transport.ErrWouldBlock.
//
// TODO: darwin (kqueue-friendly poll) and windows (x/sys/windows) dialers.
package sock

import (
	"net/netip"
	"sync"

	"gamewire/transport"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type Dialer struct{}

var _ transport.Dialer = Dialer{}

func (Dialer) Dial(bind netip.Addr, addr netip.AddrPort) (transport.Attempt, error) {
	family := unix.AF_INET
	if addr.Addr().Is6() && !addr.Addr().Is4In6() {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, errors.Wrap(err, "creating socket")
	}
	unix.CloseOnExec(fd)

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "setting socket non-blocking")
	}

	if bind.IsValid() {
		if err := unix.Bind(fd, sockaddr(netip.AddrPortFrom(bind, 0))); err != nil {
			unix.Close(fd)
			return nil, errors.Wrapf(err, "binding socket to %s", bind)
		}
	}

	err = unix.Connect(fd, sockaddr(addr))
	switch {
	case err == nil:
		// Completed immediately (e.g. loopback).
		return &attempt{fd: fd, addr: addr, ready: true}, nil
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR):
		return &attempt{fd: fd, addr: addr}, nil
	default:
		unix.Close(fd)
		return nil, errors.Wrapf(err, "connecting to %s", addr)
	}
}

func sockaddr(ap netip.AddrPort) unix.Sockaddr {
	if a := ap.Addr(); a.Is4() || a.Is4In6() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: a.As4()}
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}
}

type attempt struct {
	fd   int
	addr netip.AddrPort

	ready bool // connect completed synchronously
	done  bool
}

var _ transport.Attempt = (*attempt)(nil)

func (a *attempt) Addr() netip.AddrPort { return a.addr }

func (a *attempt) Poll() (transport.Conn, bool, error) {
	if a.done {
		return nil, true, errors.New("attempt already concluded")
	}

	if !a.ready {
		fds := []unix.PollFd{{Fd: int32(a.fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, 0)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				return nil, false, nil
			}
			a.finish()
			return nil, true, errors.Wrap(err, "polling connect progress")
		}
		if n == 0 {
			return nil, false, nil
		}

		soerr, err := unix.GetsockoptInt(a.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			a.finish()
			return nil, true, errors.Wrap(err, "reading SO_ERROR")
		}
		if soerr != 0 {
			a.finish()
			return nil, true, errors.Wrapf(unix.Errno(soerr), "connecting to %s", a.addr)
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			a.finish()
			return nil, true, errors.Errorf("connecting to %s: connection reset", a.addr)
		}
		if fds[0].Revents&unix.POLLOUT == 0 {
			return nil, false, nil
		}
	}

	a.done = true
	return &conn{fd: a.fd, addr: a.addr}, true, nil
}

// finish closes the socket and marks the attempt concluded.
func (a *attempt) finish() {
	a.done = true
	unix.Close(a.fd)
}

func (a *attempt) Abort() {
	if !a.done {
		a.finish()
	}
}

type conn struct {
	fd   int
	addr netip.AddrPort

	mu     sync.Mutex
	closed bool
}

var _ transport.Conn = (*conn)(nil)

func (c *conn) RemoteAddr() netip.AddrPort { return c.addr }

func (c *conn) Read(p []byte) (int, error) {
	if c.isClosed() {
		return 0, transport.ErrConnClosed
	}

	n, err := unix.Read(c.fd, p)
	switch {
	case err == nil && n == 0 && len(p) > 0:
		// Graceful close from the peer.
		return 0, transport.ErrConnClosed
	case err == nil:
		return n, nil
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, transport.ErrWouldBlock
	default:
		return 0, errors.Wrap(err, "reading from socket")
	}
}

func (c *conn) Write(p []byte) (int, error) {
	if c.isClosed() {
		return 0, transport.ErrConnClosed
	}

	n, err := unix.Write(c.fd, p)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, transport.ErrWouldBlock
	default:
		return 0, errors.Wrap(err, "writing to socket")
	}
}

func (c *conn) Ready() (readable, writable bool, err error) {
	if c.isClosed() {
		return false, false, transport.ErrConnClosed
	}

	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN | unix.POLLOUT}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, false, nil
		}
		return false, false, errors.Wrap(err, "polling socket readiness")
	}
	if n == 0 {
		return false, false, nil
	}

	revents := fds[0].Revents
	return revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
		revents&unix.POLLOUT != 0, nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return errors.Wrap(unix.Close(c.fd), "closing socket")
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
