// Package netcfg manages the IP forwarding table and per-interface
// attributes for the tunnel session. All mutations go through a Table so
// the reconciliation logic stays independent of the OS binding.
package netcfg

import (
	"errors"
	"net/netip"
)

// Family selects the IPv4 or IPv6 side of a dual-stack interface.
type Family int

const (
	V4 Family = iota
	V6
)

func (f Family) String() string {
	if f == V6 {
		return "v6"
	}
	return "v4"
}

// Zero returns the family's unspecified address, used as the on-link
// next-hop encoding.
func (f Family) Zero() netip.Addr {
	if f == V6 {
		return netip.IPv6Unspecified()
	}
	return netip.IPv4Unspecified()
}

// FamilyOf returns the family of an address.
func FamilyOf(a netip.Addr) Family {
	if a.Is4() || a.Is4In6() {
		return V4
	}
	return V6
}

// HostBits returns the host prefix length for the family (32 or 128).
func (f Family) HostBits() int {
	if f == V6 {
		return 128
	}
	return 32
}

// Route is one forwarding entry. A zero (unspecified) NextHop means
// on-link delivery. Owned reports whether the entry carries our origin
// tag and may therefore be deleted on revert.
type Route struct {
	Destination netip.Prefix
	NextHop     netip.Addr
	IfLUID      uint64
	IfIndex     uint32
	Metric      uint32
	Owned       bool
}

// OnLink reports whether the route delivers directly on its interface.
func (r Route) OnLink() bool {
	return !r.NextHop.IsValid() || r.NextHop.IsUnspecified()
}

// IfaceState is the per-family attribute row of an interface.
type IfaceState struct {
	AutomaticMetric bool
	Metric          uint32
	MTU             uint32
}

// Table abstracts the OS forwarding table and interface attribute rows.
// Implementations must treat "object already exists" on CreateRoute and
// AddAddress as success, and "invalid parameter" on SetMetric, SetMTU and
// RestoreIface as success (some interfaces refuse those writes).
type Table interface {
	// Routes returns every forwarding entry of the family.
	Routes(f Family) ([]Route, error)
	// BestRoute returns the OS-computed best route to dst, or nil when
	// no route exists. A missing route is not an error.
	BestRoute(dst netip.Addr) (*Route, error)
	// CreateRoute adds an entry tagged with our origin.
	CreateRoute(r Route) error
	// UpdateRoute rewrites an existing entry in place (matched by
	// destination prefix), tagging it with our origin.
	UpdateRoute(r Route) error
	// DeleteRoute removes an entry.
	DeleteRoute(r Route) error
	// AddAddress creates (or updates) a unicast address on the interface.
	AddAddress(luid uint64, p netip.Prefix) error
	// SetMetric disables automatic metric and writes a manual one.
	SetMetric(luid uint64, f Family, metric uint32) error
	// SetMTU writes the link MTU.
	SetMTU(luid uint64, f Family, mtu uint32) error
	// Iface reads the family's attribute row.
	Iface(luid uint64, f Family) (*IfaceState, error)
	// RestoreIface writes metric fields and MTU back from a snapshot.
	RestoreIface(luid uint64, f Family, st IfaceState) error
}

// ErrNoRoute is returned by helpers that require a route candidate.
var ErrNoRoute = errors.New("no route")
