// Package connect establishes outbound TCP connections without blocking
// the thread that drives the game loop.
//
// A Connecter resolves its target on a background goroutine, then iterates
// the candidate addresses with non-blocking connect attempts, bounded by a
// per-candidate timeout. All state transitions and both callbacks happen
// only when the owning thread polls, so consumers never race their own
// state. The resolution goroutine communicates through a single atomic
// status acting as a handoff token: it owns the candidate list until it
// publishes Connecting (or Failure), and never touches it again after.
package connect

import (
	"context"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"gamewire/resolve"
	"gamewire/transport"

	"github.com/benbjohnson/clock"
)

// DefaultAttemptTimeout bounds how long one candidate may sit unanswered
// before the next one is tried. A tuning knob, not a correctness constant.
const DefaultAttemptTimeout = 3 * time.Second

// Status of a connecter. Connected and Failure are terminal.
type Status uint8

const (
	StatusInit Status = iota
	StatusResolving
	StatusFailure
	StatusConnecting
	StatusConnected
)

// Handler receives the outcome of a connecter. Exactly one of the two
// methods fires, exactly once, and only from a poll on the owning thread.
type Handler interface {
	// OnConnect hands over the live socket.
	OnConnect(conn transport.Conn)
	OnFailure()
}

type Options struct {
	// DefaultPort applies when the connection string carries no port.
	DefaultPort uint16

	// Family restricts which resolved addresses are eligible.
	Family resolve.Family

	// Bind is the local address outgoing sockets bind to. A valid Bind
	// forces Family to Bind's family.
	Bind netip.Addr

	// AttemptTimeout is the per-candidate connect timeout.
	// Zero means DefaultAttemptTimeout.
	AttemptTimeout time.Duration
}

// Connecter is the unit of work for establishing one logical outbound
// connection. Create it through a Registry and drive it by polling.
type Connecter struct {
	connectionString string
	opts             Options

	handler  Handler
	resolver resolve.Resolver
	dialer   transport.Dialer
	logger   *slog.Logger
	clock    clock.Clock

	// status is the handoff token between the resolution goroutine and
	// the owning thread; see the package comment.
	status atomic.Uint32
	killed atomic.Bool

	resolveCtx    context.Context
	resolveCancel context.CancelFunc

	// Written by the resolution goroutine before it publishes
	// Connecting; read-only for the owning thread afterwards.
	addresses []netip.AddrPort

	// Owning thread only.
	current     int
	attempts    []transport.Attempt
	lastAttempt time.Time
	finished    bool

	winnerConn transport.Conn
	winnerAddr netip.AddrPort
}

func newConnecter(
	connectionString string,
	handler Handler,
	resolver resolve.Resolver,
	dialer transport.Dialer,
	logger *slog.Logger,
	clk clock.Clock,
	opts Options,
) *Connecter {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.Bind.IsValid() {
		opts.Family = resolve.FamilyOf(opts.Bind)
	}

	c := &Connecter{
		connectionString: connectionString,
		opts:             opts,
		handler:          handler,
		resolver:         resolver,
		dialer:           dialer,
		logger:           logger,
		clock:            clk,
	}
	c.resolveCtx, c.resolveCancel = context.WithCancel(context.Background())

	host, port, err := resolve.ParseConnectionString(connectionString, opts.DefaultPort)
	if err != nil {
		c.logger.Debug("bad connection string", "target", connectionString, "err", err)
		c.status.Store(uint32(StatusFailure))
		return c
	}

	if addr, ok := resolve.Literal(host, port); ok {
		// Already an address literal; no resolution needed.
		c.addresses = resolve.FilterFamily([]netip.AddrPort{addr}, opts.Family)
		if len(c.addresses) == 0 {
			c.status.Store(uint32(StatusFailure))
		} else {
			c.status.Store(uint32(StatusConnecting))
		}
		return c
	}

	c.status.Store(uint32(StatusResolving))
	go c.resolveHost(host, port)

	return c
}

// resolveHost runs on the background goroutine. It performs the only
// blocking call in this package and hands its result off via the status.
func (c *Connecter) resolveHost(host string, port uint16) {
	addrs, err := c.resolver.Resolve(c.resolveCtx, host, port)
	if err == nil {
		addrs = resolve.FilterFamily(addrs, c.opts.Family)
	}

	if err != nil || len(addrs) == 0 {
		c.logger.Debug("resolving failed", "target", c.connectionString, "err", err)
		c.status.Store(uint32(StatusFailure))
		return
	}

	c.addresses = addrs
	c.status.Store(uint32(StatusConnecting))
}

func (c *Connecter) state() Status { return Status(c.status.Load()) }

// Kill abandons the request: no callback will fire after this returns.
// Teardown happens on the next poll; an in-flight resolution is asked to
// stop but may finish in the background on its own time.
func (c *Connecter) Kill() {
	c.killed.Store(true)
	c.resolveCancel()
}

// checkActivity advances the state machine by one poll. It reports whether
// the connecter reached a terminal state and can be dropped.
func (c *Connecter) checkActivity() bool {
	if c.finished {
		return true
	}

	if c.killed.Load() {
		c.teardown()
		return true
	}

	switch c.state() {
	case StatusInit, StatusResolving:
		return false

	case StatusFailure:
		c.conclude(nil)
		return true

	case StatusConnecting:
		return c.checkConnecting()

	case StatusConnected:
		return true
	}

	return false
}

func (c *Connecter) checkConnecting() bool {
	var won transport.Conn
	var wonAddr netip.AddrPort

	remaining := make([]transport.Attempt, 0, len(c.attempts))
	for _, a := range c.attempts {
		if won != nil {
			remaining = append(remaining, a)
			continue
		}

		conn, done, err := a.Poll()
		switch {
		case !done:
			remaining = append(remaining, a)
		case err != nil:
			c.logger.Debug("connect attempt failed", "addr", a.Addr(), "err", err)
		default:
			won, wonAddr = conn, a.Addr()
		}
	}
	c.attempts = remaining

	if won != nil {
		// First success wins; the remaining in-flight sockets go.
		c.abortAttempts()
		c.winnerConn, c.winnerAddr = won, wonAddr
		c.status.Store(uint32(StatusConnected))
		c.logger.Debug("connected", "addr", wonAddr)
		c.conclude(won)
		return true
	}

	timedOut := c.clock.Now().Sub(c.lastAttempt) >= c.opts.AttemptTimeout
	if len(c.attempts) > 0 && !timedOut {
		return false
	}

	if c.current < len(c.addresses) {
		// A timed-out attempt stays in flight; the OS may still finish
		// the handshake and it can still win. We just stop waiting.
		c.tryNextAddress()
		return false
	}

	// Candidates exhausted and nothing pending answered in time.
	c.abortAttempts()
	c.status.Store(uint32(StatusFailure))
	c.logger.Debug("out of candidates", "target", c.connectionString)
	c.conclude(nil)
	return true
}

// tryNextAddress opens a non-blocking connect to the next candidate.
// Candidates whose dial fails outright are skipped on the spot.
func (c *Connecter) tryNextAddress() {
	c.lastAttempt = c.clock.Now()

	for c.current < len(c.addresses) {
		addr := c.addresses[c.current]
		c.current++

		attempt, err := c.dialer.Dial(c.opts.Bind, addr)
		if err != nil {
			c.logger.Debug("starting connect attempt failed", "addr", addr, "err", err)
			continue
		}

		c.logger.Debug("connecting", "addr", addr)
		c.attempts = append(c.attempts, attempt)
		return
	}
}

// conclude fires the one callback this connecter gets.
func (c *Connecter) conclude(conn transport.Conn) {
	c.finished = true
	c.resolveCancel()

	if conn != nil {
		c.handler.OnConnect(conn)
	} else {
		c.handler.OnFailure()
	}
}

// teardown releases resources without firing callbacks.
func (c *Connecter) teardown() {
	c.finished = true
	c.resolveCancel()
	c.abortAttempts()
}

func (c *Connecter) abortAttempts() {
	for _, a := range c.attempts {
		a.Abort()
	}
	c.attempts = nil
}
