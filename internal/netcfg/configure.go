package netcfg

import (
	"net/netip"

	"github.com/flowforge/flowforge/internal/logger"
)

// tunnelMetric is the metric applied to the tunnel interface and every
// route this package installs: it must outweigh ambient routes.
const tunnelMetric = 1

// SplitDefaults returns the family's split-default destination pair: two
// half-space prefixes that together cover everything without replacing
// the system default route.
func SplitDefaults(f Family) [2]netip.Prefix {
	if f == V6 {
		return [2]netip.Prefix{
			netip.PrefixFrom(netip.IPv6Unspecified(), 1),
			netip.PrefixFrom(netip.MustParseAddr("8000::"), 1),
		}
	}
	return [2]netip.Prefix{
		netip.PrefixFrom(netip.IPv4Unspecified(), 1),
		netip.PrefixFrom(netip.MustParseAddr("128.0.0.0"), 1),
	}
}

// IsSplitDefault reports whether a prefix is one of the family halves.
func IsSplitDefault(p netip.Prefix) bool {
	if p.Bits() != 1 {
		return false
	}
	halves := SplitDefaults(FamilyOf(p.Addr()))
	return p == halves[0] || p == halves[1]
}

// ConfigureFamily drives one family of the tunnel interface to the
// desired state: MTU, local address and metric, then — when the server
// address belongs to this family — the pinned host route to the server
// and the split-default pair through the tunnel peer.
//
// Split defaults are installed only after the server pin is in place;
// otherwise the encrypted transport would be routed into the tunnel it
// feeds. When no pin candidate exists the family is left without split
// defaults and the system default keeps carrying its traffic.
func (m *Manager) ConfigureFamily(luid uint64, plan Plan, server netip.Addr, f Family) error {
	logger.Info("route", "configure %s: begin (server=%s)", f, server)

	if err := m.SetInterfaceMTU(luid, f, plan.MTU); err != nil {
		return err
	}
	if err := m.AddAddress(luid, plan.LocalPrefix(f)); err != nil {
		return err
	}
	if err := m.SetInterfaceMetric(luid, f, tunnelMetric); err != nil {
		return err
	}

	pinned := false
	if FamilyOf(server) == f {
		via, err := m.BestRouteTo(server)
		if err != nil {
			return err
		}
		if via == nil || via.IfLUID == luid {
			if via, err = m.FallbackDefaultRouteExcluding(luid, f); err != nil {
				return err
			}
		}

		if via != nil {
			if err := m.UpsertHostRouteVia(server, via, tunnelMetric); err != nil {
				return err
			}
			logger.Info("route", "pinned %s host route to %s via luid=%d", f, server, via.IfLUID)
			pinned = true
		} else {
			logger.Warning("route", "no %s route to server before switch", f)
		}
	} else {
		logger.Debug("route", "pin not needed: server family differs from %s", f)
	}

	if pinned {
		peer := plan.Peer(f)
		for _, half := range SplitDefaults(f) {
			if err := m.AddRouteViaGateway(luid, half, peer, tunnelMetric); err != nil {
				return err
			}
		}
		logger.Info("route", "defaults activated via tunnel peer (%s)", f)
	}

	logger.Info("route", "configure %s: done", f)
	return nil
}

// RemoveSplitDefaults deletes the owned split-default halves installed on
// the interface for both families. Each family's sweep runs even if the
// other fails; the last error wins.
func (m *Manager) RemoveSplitDefaults(luid uint64) error {
	var firstErr error
	for _, f := range []Family{V4, V6} {
		err := m.deleteOwnedWhere(f, func(r Route) bool {
			return r.IfLUID == luid && IsSplitDefault(r.Destination)
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RemovePinnedHostRoute deletes the owned host route to the server,
// whatever interface it landed on.
func (m *Manager) RemovePinnedHostRoute(server netip.Addr) error {
	f := FamilyOf(server)
	want := netip.PrefixFrom(server, f.HostBits())
	return m.deleteOwnedWhere(f, func(r Route) bool {
		return r.Destination == want
	})
}

func (m *Manager) deleteOwnedWhere(f Family, pred func(Route) bool) error {
	rows, err := m.table.Routes(f)
	if err != nil {
		return err
	}

	var firstErr error
	removed := 0
	for _, r := range rows {
		if !r.Owned || !pred(r) {
			continue
		}
		if err := m.table.DeleteRoute(r); err != nil {
			logger.Warning("route", "delete %s failed: %v", r.Destination, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	logger.Debug("route", "owned routes removed: %s count=%d", f, removed)
	return firstErr
}
