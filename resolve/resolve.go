// Package resolve turns connection strings into ordered candidate address
// lists. Resolution blocks; the connecter confines it to a background
// goroutine and the rest of this module never calls it.
package resolve

import (
	"context"
	"maps"
	"net"
	"net/netip"
	"strconv"
	"strings"

	sliceutil "gamewire/lib/slice"

	"github.com/pkg/errors"
)

var ErrNoAddresses = errors.New("no addresses resolved")

// Family restricts which candidate addresses are eligible.
type Family uint8

const (
	FamilyAny Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) Matches(a netip.Addr) bool {
	switch f {
	case FamilyIPv4:
		return a.Is4() || a.Is4In6()
	case FamilyIPv6:
		return a.Is6() && !a.Is4In6()
	default:
		return true
	}
}

// FamilyOf is the family a bind address forces on candidates.
func FamilyOf(a netip.Addr) Family {
	if a.Is4() || a.Is4In6() {
		return FamilyIPv4
	}
	return FamilyIPv6
}

// FilterFamily keeps the candidates whose family matches, preserving
// resolver order.
func FilterFamily(addrs []netip.AddrPort, family Family) []netip.AddrPort {
	return sliceutil.Filter(addrs, func(ap netip.AddrPort) bool {
		return family.Matches(ap.Addr())
	})
}

type Resolver interface {
	// Resolve looks host up and pairs every address with port, in
	// resolver-returned order.
	Resolve(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error)
}

// NetResolver resolves through the OS (net.DefaultResolver unless another
// *net.Resolver is set).
type NetResolver struct {
	Resolver *net.Resolver
}

var _ Resolver = (*NetResolver)(nil)

func (r *NetResolver) Resolve(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error) {
	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}

	ips, err := res.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, errors.Wrapf(err, "looking up %q", host)
	}

	addrs := sliceutil.Map(ips, func(ip net.IPAddr) netip.AddrPort {
		a, _ := netip.AddrFromSlice(ip.IP)
		return netip.AddrPortFrom(a.Unmap(), port)
	})
	addrs = sliceutil.Filter(addrs, func(ap netip.AddrPort) bool {
		return ap.Addr().IsValid()
	})

	if len(addrs) == 0 {
		return nil, ErrNoAddresses
	}
	return addrs, nil
}

// MapResolver is a fixed host table, for tests.
type MapResolver struct {
	set map[string][]netip.Addr
}

var _ Resolver = (*MapResolver)(nil)

func NewMapResolver(set map[string][]netip.Addr) *MapResolver {
	if set == nil {
		set = make(map[string][]netip.Addr)
	}
	return &MapResolver{set: maps.Clone(set)}
}

func (m *MapResolver) Resolve(_ context.Context, host string, port uint16) ([]netip.AddrPort, error) {
	addrs, ok := m.set[host]
	if !ok {
		return nil, ErrNoAddresses
	}
	return sliceutil.Map(addrs, func(a netip.Addr) netip.AddrPort {
		return netip.AddrPortFrom(a, port)
	}), nil
}

func (m *MapResolver) Set(host string, addrs []netip.Addr) {
	if len(addrs) == 0 {
		return
	}
	m.set[host] = addrs
}

func (m *MapResolver) Del(host string) { delete(m.set, host) }

// Literal reports whether host is already an address literal, skipping
// resolution entirely.
func Literal(host string, port uint16) (netip.AddrPort, bool) {
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(a.Unmap(), port), true
}

// ParseConnectionString splits "host[:port]" into its parts. IPv6 literals
// with an explicit port need brackets ("[::1]:3979"); a bare literal with
// multiple colons is taken as a host. An absent port yields defaultPort.
func ParseConnectionString(s string, defaultPort uint16) (host string, port uint16, err error) {
	port = defaultPort

	switch {
	case s == "":
		return "", 0, errors.New("empty connection string")

	case strings.HasPrefix(s, "["):
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", 0, errors.Errorf("missing ']' in %q", s)
		}
		host = s[1:end]

		if rest := s[end+1:]; rest != "" {
			if !strings.HasPrefix(rest, ":") {
				return "", 0, errors.Errorf("unexpected trailer after ']' in %q", s)
			}
			if port, err = parsePort(rest[1:]); err != nil {
				return "", 0, err
			}
		}

	case strings.Count(s, ":") > 1:
		// Bare IPv6 literal.
		host = s

	default:
		host = s
		if idx := strings.LastIndexByte(s, ':'); idx >= 0 {
			host = s[:idx]
			if port, err = parsePort(s[idx+1:]); err != nil {
				return "", 0, err
			}
		}
	}

	if host == "" {
		return "", 0, errors.Errorf("no host in %q", s)
	}
	return host, port, nil
}

func parsePort(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid port %q", s)
	}
	return uint16(v), nil
}
