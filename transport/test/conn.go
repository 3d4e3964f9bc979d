// Package test provides scriptable in-memory implementations of the
// transport contracts. Backpressure, peer closes, and connect completion
// are all driven explicitly by the test.
package test

import (
	"bytes"
	"net/netip"

	"gamewire/transport"
)

// Conn is an in-memory transport.Conn.
//
// Bytes written by the code under test accumulate in Sent; bytes the test
// Feeds become readable. A write quota scripts partial writes and
// would-block outcomes.
type Conn struct {
	addr netip.AddrPort

	recv bytes.Buffer
	sent bytes.Buffer

	quota      int // bytes Write may still accept; -1 means unlimited
	peerClosed bool
	closed     bool
}

var _ transport.Conn = (*Conn)(nil)

func NewConn(addr netip.AddrPort) *Conn {
	return &Conn{addr: addr, quota: -1}
}

func (c *Conn) RemoteAddr() netip.AddrPort { return c.addr }

func (c *Conn) Read(p []byte) (int, error) {
	if c.closed {
		return 0, transport.ErrConnClosed
	}
	if c.recv.Len() == 0 {
		if c.peerClosed {
			return 0, transport.ErrConnClosed
		}
		return 0, transport.ErrWouldBlock
	}
	return c.recv.Read(p)
}

func (c *Conn) Write(p []byte) (int, error) {
	if c.closed {
		return 0, transport.ErrConnClosed
	}
	if c.quota == 0 {
		return 0, transport.ErrWouldBlock
	}

	n := len(p)
	if c.quota > 0 && n > c.quota {
		n = c.quota
	}
	c.sent.Write(p[:n])
	if c.quota > 0 {
		c.quota -= n
	}
	return n, nil
}

func (c *Conn) Ready() (readable, writable bool, err error) {
	if c.closed {
		return false, false, transport.ErrConnClosed
	}
	return c.recv.Len() > 0 || c.peerClosed, c.quota != 0, nil
}

func (c *Conn) Close() error {
	c.closed = true
	return nil
}

// Feed makes b readable by the code under test.
func (c *Conn) Feed(b []byte) { c.recv.Write(b) }

// PeerClose simulates a graceful close from the remote side: pending bytes
// stay readable, then reads report the connection closed.
func (c *Conn) PeerClose() { c.peerClosed = true }

// SetWriteQuota scripts how many more bytes Write accepts. -1 lifts the cap.
func (c *Conn) SetWriteQuota(n int) { c.quota = n }

// Sent is everything the code under test put on the wire so far.
func (c *Conn) Sent() []byte { return c.sent.Bytes() }

func (c *Conn) Closed() bool { return c.closed }
