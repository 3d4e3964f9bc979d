package connect

import (
	"net/netip"

	ttest "gamewire/transport/test"
)

const serverLiteral = "198.51.100.7:1234"

func (s *ConnecterTestSuite) TestServerRecordsWinner() {
	sc := s.reg.StartServer(serverLiteral, s.handler, Options{})

	_, _, ok := sc.Connected()
	s.False(ok)

	s.reg.CheckCallbacks()
	s.Require().Len(s.dialer.Attempts(), 1)

	conn := ttest.NewConn(s.dialer.Attempts()[0].Addr())
	s.dialer.Attempts()[0].Succeed(conn)
	s.reg.CheckCallbacks()

	s.Require().Len(s.handler.conns, 1)

	got, addr, ok := sc.Connected()
	s.Require().True(ok)
	s.Same(conn, got.(*ttest.Conn))
	s.Equal(netip.MustParseAddrPort(serverLiteral), addr)
}

func (s *ConnecterTestSuite) TestServerSetConnected() {
	sc := s.reg.StartServer(serverLiteral, s.handler, Options{})

	s.reg.CheckCallbacks()
	s.Require().Len(s.dialer.Attempts(), 1)

	// A broker (say, a relay) produced the socket out of band.
	extAddr := netip.MustParseAddrPort("203.0.113.5:7777")
	extConn := ttest.NewConn(extAddr)
	sc.SetConnected(extConn, extAddr)

	s.reg.CheckCallbacks()

	s.Require().Len(s.handler.conns, 1)
	s.Same(extConn, s.handler.conns[0].(*ttest.Conn))
	s.True(s.dialer.Attempts()[0].Aborted())
	s.Zero(s.reg.Len())

	got, addr, ok := sc.Connected()
	s.Require().True(ok)
	s.Same(extConn, got.(*ttest.Conn))
	s.Equal(extAddr, addr)
}

func (s *ConnecterTestSuite) TestServerSetFailure() {
	sc := s.reg.StartServer(serverLiteral, s.handler, Options{})

	s.reg.CheckCallbacks()
	sc.SetFailure()
	s.reg.CheckCallbacks()

	s.Equal(1, s.handler.failures)
	s.Empty(s.handler.conns)
	s.True(s.dialer.Attempts()[0].Aborted())

	_, _, ok := sc.Connected()
	s.False(ok)
}

func (s *ConnecterTestSuite) TestServerKillBeatsForcedOutcome() {
	sc := s.reg.StartServer(serverLiteral, s.handler, Options{})

	s.reg.CheckCallbacks()
	sc.SetConnected(ttest.NewConn(netip.MustParseAddrPort("203.0.113.5:7777")), netip.AddrPort{})
	sc.Kill()

	s.reg.CheckCallbacks()
	s.Empty(s.handler.conns)
	s.Zero(s.handler.failures)
	s.Zero(s.reg.Len())
}
