package connect

import (
	"log/slog"

	sliceutil "gamewire/lib/slice"
	"gamewire/resolve"
	"gamewire/transport"

	"github.com/benbjohnson/clock"
)

// poller is what the registry drives. ServerConnecter overrides the
// Connecter poll, so dispatch goes through this.
type poller interface {
	checkActivity() bool
	Kill()
}

// Registry holds shared ownership of every live connecter so callers may
// fire and forget. It belongs to the networking subsystem's lifecycle and
// must only be touched from the owning thread.
type Registry struct {
	resolver resolve.Resolver
	dialer   transport.Dialer
	logger   *slog.Logger
	clock    clock.Clock

	connecters []poller
}

func NewRegistry(
	resolver resolve.Resolver,
	dialer transport.Dialer,
	logger *slog.Logger,
	clk clock.Clock,
) *Registry {
	return &Registry{
		resolver: resolver,
		dialer:   dialer,
		logger:   logger,
		clock:    clk,
	}
}

// Start creates a connecter for "host[:port]" and registers it. The caller
// may keep the handle (e.g. to Kill it) or drop it; the registry polls it
// either way.
func (r *Registry) Start(connectionString string, handler Handler, opts Options) *Connecter {
	c := newConnecter(connectionString, handler, r.resolver, r.dialer, r.logger, r.clock, opts)
	r.connecters = append(r.connecters, c)
	return c
}

// StartServer is Start for a server-bound connecter.
func (r *Registry) StartServer(connectionString string, handler Handler, opts Options) *ServerConnecter {
	s := &ServerConnecter{
		Connecter: newConnecter(connectionString, handler, r.resolver, r.dialer, r.logger, r.clock, opts),
	}
	r.connecters = append(r.connecters, s)
	return s
}

// CheckCallbacks polls every live connecter once and drops the ones that
// reached a terminal state. Invoke it regularly, e.g. once per game-loop
// tick.
func (r *Registry) CheckCallbacks() {
	r.connecters = sliceutil.Filter(r.connecters, func(c poller) bool {
		return !c.checkActivity()
	})
}

// KillAll abandons every pending connecter without firing callbacks.
// For shutdown.
func (r *Registry) KillAll() {
	for _, c := range r.connecters {
		c.Kill()
	}
	r.CheckCallbacks()
}

// Len is the number of connecters still being polled.
func (r *Registry) Len() int { return len(r.connecters) }
