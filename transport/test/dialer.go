package test

import (
	"net/netip"

	"gamewire/transport"
)

// Attempt is a transport.Attempt whose outcome the test decides by calling
// Succeed or Fail. Until then Poll reports in-progress.
type Attempt struct {
	addr netip.AddrPort
	bind netip.Addr

	conn    transport.Conn
	err     error
	decided bool

	done    bool
	aborted bool
}

var _ transport.Attempt = (*Attempt)(nil)

func NewAttempt(addr netip.AddrPort) *Attempt {
	return &Attempt{addr: addr}
}

func (a *Attempt) Addr() netip.AddrPort { return a.addr }

// Bind is the local address the dial asked for, if any.
func (a *Attempt) Bind() netip.Addr { return a.bind }

// Succeed completes the handshake. A nil conn gets a fresh Conn to a.addr.
func (a *Attempt) Succeed(conn transport.Conn) {
	if conn == nil {
		conn = NewConn(a.addr)
	}
	a.conn, a.decided = conn, true
}

// Fail concludes the handshake with err.
func (a *Attempt) Fail(err error) {
	a.err, a.decided = err, true
}

func (a *Attempt) Poll() (transport.Conn, bool, error) {
	if !a.decided || a.done {
		return nil, a.done, nil
	}
	a.done = true
	return a.conn, true, a.err
}

func (a *Attempt) Abort() {
	if !a.done {
		a.done = true
		a.aborted = true
	}
}

func (a *Attempt) Aborted() bool { return a.aborted }

// Dialer records every dial and hands back Attempts for the test to drive.
type Dialer struct {
	attempts []*Attempt
	dialErrs map[netip.AddrPort]error
}

var _ transport.Dialer = (*Dialer)(nil)

func NewDialer() *Dialer {
	return &Dialer{dialErrs: make(map[netip.AddrPort]error)}
}

// FailDial makes Dial to addr fail immediately with err.
func (d *Dialer) FailDial(addr netip.AddrPort, err error) {
	d.dialErrs[addr] = err
}

func (d *Dialer) Dial(bind netip.Addr, addr netip.AddrPort) (transport.Attempt, error) {
	if err, ok := d.dialErrs[addr]; ok {
		return nil, err
	}

	a := NewAttempt(addr)
	a.bind = bind
	d.attempts = append(d.attempts, a)
	return a, nil
}

// Attempts lists every attempt in dial order.
func (d *Dialer) Attempts() []*Attempt { return d.attempts }
