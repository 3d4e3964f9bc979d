package connect

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"gamewire/resolve"
	"gamewire/transport"
	ttest "gamewire/transport/test"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

const (
	testHost = "server.example.net"
	testPort = uint16(3979)
)

var (
	v4a = netip.MustParseAddr("192.0.2.1")
	v4b = netip.MustParseAddr("192.0.2.2")
	v6a = netip.MustParseAddr("2001:db8::1")
)

type recordingHandler struct {
	conns    []transport.Conn
	failures int
}

var _ Handler = (*recordingHandler)(nil)

func (h *recordingHandler) OnConnect(conn transport.Conn) { h.conns = append(h.conns, conn) }
func (h *recordingHandler) OnFailure()                    { h.failures++ }

// gateResolver blocks until released, the way a name lookup syscall that
// ignores cancellation would.
type gateResolver struct {
	release chan struct{}
	addrs   []netip.AddrPort
}

var _ resolve.Resolver = (*gateResolver)(nil)

func (r *gateResolver) Resolve(context.Context, string, uint16) ([]netip.AddrPort, error) {
	<-r.release
	return r.addrs, nil
}

type ConnecterTestSuite struct {
	suite.Suite

	clock    *clock.Mock
	dialer   *ttest.Dialer
	handler  *recordingHandler
	logger   *slog.Logger
	resolver *resolve.MapResolver
	reg      *Registry
}

func TestConnecterTestSuite(t *testing.T) {
	suite.Run(t, new(ConnecterTestSuite))
}

func (s *ConnecterTestSuite) SetupTest() {
	s.clock = clock.NewMock()
	s.dialer = ttest.NewDialer()
	s.handler = &recordingHandler{}
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.resolver = resolve.NewMapResolver(map[string][]netip.Addr{
		testHost: {v4a, v4b, v6a},
	})
	s.reg = NewRegistry(s.resolver, s.dialer, s.logger, s.clock)
}

func (s *ConnecterTestSuite) TearDownTest() {
	goleak.VerifyNone(s.T())
}

func (s *ConnecterTestSuite) waitResolved(c *Connecter) {
	s.Require().Eventually(func() bool {
		return c.state() != StatusResolving
	}, time.Second, time.Millisecond)
}

func (s *ConnecterTestSuite) start(opts Options) *Connecter {
	if opts.DefaultPort == 0 {
		opts.DefaultPort = testPort
	}
	c := s.reg.Start(testHost, s.handler, opts)
	s.waitResolved(c)
	return c
}

func (s *ConnecterTestSuite) TestFirstCandidateSucceeds() {
	s.start(Options{})

	// First poll opens the first attempt; no callback yet.
	s.reg.CheckCallbacks()
	attempts := s.dialer.Attempts()
	s.Require().Len(attempts, 1)
	s.Equal(netip.AddrPortFrom(v4a, testPort), attempts[0].Addr())
	s.Empty(s.handler.conns)

	conn := ttest.NewConn(attempts[0].Addr())
	attempts[0].Succeed(conn)

	s.reg.CheckCallbacks()
	s.Require().Len(s.handler.conns, 1)
	s.Same(conn, s.handler.conns[0].(*ttest.Conn))
	s.Zero(s.handler.failures)
	s.Zero(s.reg.Len())
}

func (s *ConnecterTestSuite) TestFallbackToLaterCandidate() {
	s.start(Options{})

	// Candidates 1 and 2 fail outright; 3 succeeds.
	s.reg.CheckCallbacks()
	s.dialer.Attempts()[0].Fail(errors.New("connection refused"))

	s.reg.CheckCallbacks()
	s.Require().Len(s.dialer.Attempts(), 2)
	s.dialer.Attempts()[1].Fail(errors.New("connection refused"))

	s.reg.CheckCallbacks()
	s.Require().Len(s.dialer.Attempts(), 3)
	s.Equal(netip.AddrPortFrom(v6a, testPort), s.dialer.Attempts()[2].Addr())

	conn := ttest.NewConn(s.dialer.Attempts()[2].Addr())
	s.dialer.Attempts()[2].Succeed(conn)

	s.reg.CheckCallbacks()
	s.Require().Len(s.handler.conns, 1)
	s.Same(conn, s.handler.conns[0].(*ttest.Conn))
	s.Zero(s.handler.failures)
}

func (s *ConnecterTestSuite) TestAllCandidatesFail() {
	s.start(Options{})

	for i := 0; i < 3; i++ {
		s.reg.CheckCallbacks()
		attempts := s.dialer.Attempts()
		attempts[len(attempts)-1].Fail(errors.New("connection refused"))
	}

	s.reg.CheckCallbacks()
	s.Equal(1, s.handler.failures)
	s.Empty(s.handler.conns)
	s.Zero(s.reg.Len())
}

func (s *ConnecterTestSuite) TestCallbackFiresOnce() {
	c := s.start(Options{})

	s.reg.CheckCallbacks()
	s.dialer.Attempts()[0].Succeed(nil)
	s.reg.CheckCallbacks()
	s.Require().Len(s.handler.conns, 1)

	// Polling a terminal connecter again must not refire.
	s.True(c.checkActivity())
	s.True(c.checkActivity())
	s.Len(s.handler.conns, 1)
	s.Zero(s.handler.failures)
}

func (s *ConnecterTestSuite) TestAttemptTimeoutStartsNextCandidate() {
	s.start(Options{})

	s.reg.CheckCallbacks()
	s.Require().Len(s.dialer.Attempts(), 1)

	// The first candidate never answers. One poll after the timeout the
	// next candidate must be in flight; the stale one is not aborted yet
	// since the OS may still complete it.
	s.clock.Add(DefaultAttemptTimeout)
	s.reg.CheckCallbacks()
	s.Require().Len(s.dialer.Attempts(), 2)
	s.False(s.dialer.Attempts()[0].Aborted())

	conn := ttest.NewConn(s.dialer.Attempts()[1].Addr())
	s.dialer.Attempts()[1].Succeed(conn)

	s.reg.CheckCallbacks()
	s.Require().Len(s.handler.conns, 1)
	s.Same(conn, s.handler.conns[0].(*ttest.Conn))

	// The loser got closed.
	s.True(s.dialer.Attempts()[0].Aborted())
}

func (s *ConnecterTestSuite) TestTimeoutExhaustsCandidates() {
	s.resolver.Set("lonely.example.net", []netip.Addr{v4a})
	c := s.reg.Start("lonely.example.net", s.handler, Options{DefaultPort: testPort})
	s.waitResolved(c)

	s.reg.CheckCallbacks()
	s.Require().Len(s.dialer.Attempts(), 1)

	s.clock.Add(DefaultAttemptTimeout)
	s.reg.CheckCallbacks()

	s.Equal(1, s.handler.failures)
	s.Empty(s.handler.conns)
	s.True(s.dialer.Attempts()[0].Aborted())
	s.Zero(s.reg.Len())
}

func (s *ConnecterTestSuite) TestConfigurableTimeout() {
	timeout := 250 * time.Millisecond
	s.start(Options{AttemptTimeout: timeout})

	s.reg.CheckCallbacks()
	s.clock.Add(timeout - time.Millisecond)
	s.reg.CheckCallbacks()
	s.Len(s.dialer.Attempts(), 1)

	s.clock.Add(time.Millisecond)
	s.reg.CheckCallbacks()
	s.Len(s.dialer.Attempts(), 2)
}

func (s *ConnecterTestSuite) TestDialErrorSkipsCandidate() {
	s.dialer.FailDial(netip.AddrPortFrom(v4a, testPort), errors.New("no route to host"))
	s.start(Options{})

	s.reg.CheckCallbacks()
	attempts := s.dialer.Attempts()
	s.Require().Len(attempts, 1)
	s.Equal(netip.AddrPortFrom(v4b, testPort), attempts[0].Addr())
}

func (s *ConnecterTestSuite) TestLiteralSkipsResolution() {
	c := s.reg.Start("198.51.100.7:1234", s.handler, Options{DefaultPort: testPort})

	// No background resolution: connecting straight away.
	s.Equal(StatusConnecting, c.state())

	s.reg.CheckCallbacks()
	attempts := s.dialer.Attempts()
	s.Require().Len(attempts, 1)
	s.Equal(netip.MustParseAddrPort("198.51.100.7:1234"), attempts[0].Addr())
}

func (s *ConnecterTestSuite) TestResolutionFailure() {
	c := s.reg.Start("unknown.example.net", s.handler, Options{DefaultPort: testPort})
	s.waitResolved(c)

	s.reg.CheckCallbacks()
	s.Equal(1, s.handler.failures)
	s.Empty(s.handler.conns)
	s.Zero(s.reg.Len())
}

func (s *ConnecterTestSuite) TestBadConnectionString() {
	c := s.reg.Start("[half-bracketed", s.handler, Options{DefaultPort: testPort})
	s.Equal(StatusFailure, c.state())

	s.reg.CheckCallbacks()
	s.Equal(1, s.handler.failures)
}

func (s *ConnecterTestSuite) TestFamilyFilter() {
	s.start(Options{Family: resolve.FamilyIPv6})

	s.reg.CheckCallbacks()
	attempts := s.dialer.Attempts()
	s.Require().Len(attempts, 1)
	s.Equal(netip.AddrPortFrom(v6a, testPort), attempts[0].Addr())
}

func (s *ConnecterTestSuite) TestFamilyFilterLeavesNothing() {
	s.resolver.Set("v4only.example.net", []netip.Addr{v4a, v4b})
	c := s.reg.Start("v4only.example.net", s.handler, Options{
		DefaultPort: testPort,
		Family:      resolve.FamilyIPv6,
	})
	s.waitResolved(c)

	s.reg.CheckCallbacks()
	s.Equal(1, s.handler.failures)
	s.Empty(s.dialer.Attempts())
}

func (s *ConnecterTestSuite) TestBindForcesFamilyAndIsPassedOn() {
	bind := netip.MustParseAddr("10.0.0.1")
	s.start(Options{Bind: bind, Family: resolve.FamilyIPv6})

	s.reg.CheckCallbacks()
	attempts := s.dialer.Attempts()
	s.Require().Len(attempts, 1)
	s.Equal(netip.AddrPortFrom(v4a, testPort), attempts[0].Addr())
	s.Equal(bind, attempts[0].Bind())
}

func (s *ConnecterTestSuite) TestKillDuringConnecting() {
	c := s.reg.Start("198.51.100.7:1234", s.handler, Options{})

	s.reg.CheckCallbacks()
	s.Require().Len(s.dialer.Attempts(), 1)

	c.Kill()
	s.reg.CheckCallbacks()

	s.True(s.dialer.Attempts()[0].Aborted())
	s.Empty(s.handler.conns)
	s.Zero(s.handler.failures)
	s.Zero(s.reg.Len())
}

func (s *ConnecterTestSuite) TestKillBeforeResolveFiresNothing() {
	release := make(chan struct{})
	resolver := &gateResolver{
		release: release,
		addrs:   []netip.AddrPort{netip.AddrPortFrom(v4a, testPort)},
	}
	reg := NewRegistry(resolver, s.dialer, s.logger, s.clock)

	c := reg.Start(testHost, s.handler, Options{DefaultPort: testPort})
	c.Kill()

	// The lookup completes only after the kill.
	close(release)
	s.waitResolved(c)

	reg.CheckCallbacks()
	s.Empty(s.handler.conns)
	s.Zero(s.handler.failures)
	s.Zero(reg.Len())
	s.Empty(s.dialer.Attempts())
}
