package connect

import (
	"net/netip"

	"gamewire/transport"
)

type forcedState uint8

const (
	forcedNone forcedState = iota
	forcedConnected
	forcedFailure
)

// ServerConnecter is a connecter bound to one game server. On top of the
// generic path it records the winning socket and resolved address for the
// caller to inspect, and lets an external broker conclude the attempt via
// SetConnected / SetFailure. Callbacks still fire only from the poll.
type ServerConnecter struct {
	*Connecter

	forced forcedState

	serverConn transport.Conn
	serverAddr netip.AddrPort
	connected  bool
}

// SetConnected hands in a socket that was established out of band. It
// takes effect, and fires the success callback, on the next poll.
func (s *ServerConnecter) SetConnected(conn transport.Conn, addr netip.AddrPort) {
	s.forced = forcedConnected
	s.serverConn, s.serverAddr = conn, addr
}

// SetFailure marks this particular server attempt as concluded without a
// connection. The failure callback fires on the next poll.
func (s *ServerConnecter) SetFailure() {
	s.forced = forcedFailure
}

// Connected reports the concluded attempt: the live socket and the server
// address it reached. ok is false until the success callback has fired.
func (s *ServerConnecter) Connected() (conn transport.Conn, addr netip.AddrPort, ok bool) {
	if !s.connected {
		return nil, netip.AddrPort{}, false
	}
	return s.serverConn, s.serverAddr, true
}

func (s *ServerConnecter) checkActivity() bool {
	if s.finished {
		return true
	}

	if s.killed.Load() {
		s.teardown()
		return true
	}

	switch s.forced {
	case forcedConnected:
		s.abortAttempts()
		s.status.Store(uint32(StatusConnected))
		s.connected = true
		s.conclude(s.serverConn)
		return true

	case forcedFailure:
		s.abortAttempts()
		s.status.Store(uint32(StatusFailure))
		s.conclude(nil)
		return true
	}

	done := s.Connecter.checkActivity()
	if done && s.state() == StatusConnected {
		s.serverConn, s.serverAddr = s.winnerConn, s.winnerAddr
		s.connected = true
	}
	return done
}
