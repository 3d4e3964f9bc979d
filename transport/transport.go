// Package transport defines the non-blocking socket contracts the
// connection and framing layers sit on. The production implementation
// lives in transport/sock; transport/test holds scriptable in-memory
// implementations.
package transport

import (
	"errors"
	"net/netip"
)

var (
	// ErrConnClosed is returned once a connection is closed, locally or
	// by a graceful close from the peer.
	ErrConnClosed = errors.New("connection is closed")
	// ErrWouldBlock means the operation cannot make progress right now.
	// It is not a failure; retry on the next poll.
	ErrWouldBlock = errors.New("operation would block")
)

// Conn is one connected, non-blocking socket.
//
// Read and Write may transfer fewer bytes than asked and return
// ErrWouldBlock when the OS buffer is empty respectively full. A graceful
// close by the peer surfaces as ErrConnClosed from Read; every other error
// is fatal for the socket.
type Conn interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)

	// Ready probes readiness without transferring bytes.
	Ready() (readable, writable bool, err error)

	// Close is idempotent.
	Close() error

	RemoteAddr() netip.AddrPort
}

// Attempt is one in-flight non-blocking connect to a candidate address.
type Attempt interface {
	// Addr is the candidate this attempt is connecting to.
	Addr() netip.AddrPort

	// Poll never blocks. done stays false while the handshake is in
	// progress; once done, either conn or err is set and the attempt
	// must not be polled again.
	Poll() (conn Conn, done bool, err error)

	// Abort closes the underlying socket. Calling it after Poll reported
	// done is a no-op.
	Abort()
}

// Dialer starts non-blocking connect attempts.
type Dialer interface {
	// Dial opens a socket to addr, optionally bound to bind
	// (bind.IsValid() == false means no binding), and initiates the
	// handshake without waiting for it.
	Dial(bind netip.Addr, addr netip.AddrPort) (Attempt, error)
}
