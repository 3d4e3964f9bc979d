package connect

func (s *ConnecterTestSuite) TestSweepKeepsPendingConnecters() {
	s.reg.Start("198.51.100.7:1234", s.handler, Options{})
	s.reg.Start("[broken", s.handler, Options{})
	s.Equal(2, s.reg.Len())

	// The bad one concludes on the first poll; the pending one stays.
	s.reg.CheckCallbacks()
	s.Equal(1, s.reg.Len())
	s.Equal(1, s.handler.failures)
}

func (s *ConnecterTestSuite) TestKillAll() {
	s.reg.Start("198.51.100.7:1234", s.handler, Options{})
	s.start(Options{})

	s.reg.CheckCallbacks()
	s.Require().NotEmpty(s.dialer.Attempts())

	s.reg.KillAll()
	s.Zero(s.reg.Len())
	s.Empty(s.handler.conns)
	s.Zero(s.handler.failures)

	for _, a := range s.dialer.Attempts() {
		s.True(a.Aborted())
	}
}
