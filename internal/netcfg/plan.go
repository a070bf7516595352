package netcfg

import (
	"fmt"
	"net/netip"
)

// On-link prefix lengths for the tunnel addresses. The peer sits inside
// the on-link prefix, so no explicit peer route is needed.
const (
	PrefixLen4 = 22
	PrefixLen6 = 64
)

// Plan is the address plan of one session: local/peer pairs for both
// families plus the link MTU. It is fixed before the reconciler runs.
type Plan struct {
	Local4 netip.Addr
	Peer4  netip.Addr
	Local6 netip.Addr
	Peer6  netip.Addr
	MTU    uint32
}

// NewPlan parses and validates an address plan from string literals.
func NewPlan(local4, peer4, local6, peer6 string, mtu int) (Plan, error) {
	var p Plan
	var err error

	if p.Local4, err = parseFamily(local4, V4); err != nil {
		return Plan{}, fmt.Errorf("invalid local4: %w", err)
	}
	if p.Peer4, err = parseFamily(peer4, V4); err != nil {
		return Plan{}, fmt.Errorf("invalid peer4: %w", err)
	}
	if p.Local6, err = parseFamily(local6, V6); err != nil {
		return Plan{}, fmt.Errorf("invalid local6: %w", err)
	}
	if p.Peer6, err = parseFamily(peer6, V6); err != nil {
		return Plan{}, fmt.Errorf("invalid peer6: %w", err)
	}

	if mtu < 576 || mtu > 9200 {
		return Plan{}, fmt.Errorf("invalid mtu %d: must be in [576..9200]", mtu)
	}
	p.MTU = uint32(mtu)

	return p, nil
}

// Local returns the family's local address.
func (p Plan) Local(f Family) netip.Addr {
	if f == V6 {
		return p.Local6
	}
	return p.Local4
}

// Peer returns the family's peer (VPN gateway) address.
func (p Plan) Peer(f Family) netip.Addr {
	if f == V6 {
		return p.Peer6
	}
	return p.Peer4
}

// LocalPrefix returns the local address with its on-link prefix length.
func (p Plan) LocalPrefix(f Family) netip.Prefix {
	if f == V6 {
		return netip.PrefixFrom(p.Local6, PrefixLen6)
	}
	return netip.PrefixFrom(p.Local4, PrefixLen4)
}

func parseFamily(s string, f Family) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	if FamilyOf(a) != f {
		return netip.Addr{}, fmt.Errorf("'%s' is not an %s address", s, f)
	}
	return a, nil
}
