package netcfg

import (
	"fmt"
	"net/netip"

	"github.com/flowforge/flowforge/internal/logger"
)

// Manager exposes the route-table operations the reconciler composes.
type Manager struct {
	table Table
}

// NewManager creates a route-table manager over the given table.
func NewManager(t Table) *Manager {
	return &Manager{table: t}
}

// Table returns the underlying table.
func (m *Manager) Table() Table {
	return m.table
}

// AddAddress creates (or updates) the tunnel's unicast address.
func (m *Manager) AddAddress(luid uint64, p netip.Prefix) error {
	if err := m.table.AddAddress(luid, p); err != nil {
		return fmt.Errorf("route: add address %s: %w", p, err)
	}
	logger.Info("route", "unicast address ensured: %s", p)
	return nil
}

// SetInterfaceMetric writes a manual metric on the interface.
func (m *Manager) SetInterfaceMetric(luid uint64, f Family, metric uint32) error {
	if err := m.table.SetMetric(luid, f, metric); err != nil {
		return fmt.Errorf("route: set %s metric=%d: %w", f, metric, err)
	}
	logger.Debug("route", "interface metric set: %s metric=%d", f, metric)
	return nil
}

// SetInterfaceMTU writes the link MTU on the interface.
func (m *Manager) SetInterfaceMTU(luid uint64, f Family, mtu uint32) error {
	if err := m.table.SetMTU(luid, f, mtu); err != nil {
		return fmt.Errorf("route: set %s mtu=%d: %w", f, mtu, err)
	}
	logger.Debug("route", "interface MTU set: %s mtu=%d", f, mtu)
	return nil
}

// AddOnLinkRoute creates an on-link route for a prefix.
func (m *Manager) AddOnLinkRoute(luid uint64, f Family, prefix netip.Prefix, metric uint32) error {
	r := Route{
		Destination: prefix,
		NextHop:     f.Zero(),
		IfLUID:      luid,
		Metric:      metric,
		Owned:       true,
	}
	if err := m.table.CreateRoute(r); err != nil {
		return fmt.Errorf("route: add on-link %s: %w", prefix, err)
	}
	logger.Info("route", "on-link route ensured: %s %s metric=%d", f, prefix, metric)
	return nil
}

// AddOnLinkHostRoute creates an on-link host (/32 or /128) route.
func (m *Manager) AddOnLinkHostRoute(luid uint64, ip netip.Addr, metric uint32) error {
	f := FamilyOf(ip)
	return m.AddOnLinkRoute(luid, f, netip.PrefixFrom(ip, f.HostBits()), metric)
}

// AddRouteViaGateway creates a route with an explicit next-hop.
func (m *Manager) AddRouteViaGateway(luid uint64, prefix netip.Prefix, gateway netip.Addr, metric uint32) error {
	r := Route{
		Destination: prefix,
		NextHop:     gateway,
		IfLUID:      luid,
		Metric:      metric,
		Owned:       true,
	}
	if err := m.table.CreateRoute(r); err != nil {
		return fmt.Errorf("route: add %s via %s: %w", prefix, gateway, err)
	}
	logger.Info("route", "route via gateway ensured: %s via %s metric=%d", prefix, gateway, metric)
	return nil
}

// BestRouteTo returns the best forwarding entry to ip, or nil when the
// table holds no route there.
func (m *Manager) BestRouteTo(ip netip.Addr) (*Route, error) {
	r, err := m.table.BestRoute(ip)
	if err != nil {
		return nil, fmt.Errorf("route: best route to %s: %w", ip, err)
	}
	return r, nil
}

// FallbackDefaultRouteExcluding scans the forwarding table for default
// routes on any interface other than luid and returns the one with the
// smallest metric, or nil when none exists.
func (m *Manager) FallbackDefaultRouteExcluding(luid uint64, f Family) (*Route, error) {
	rows, err := m.table.Routes(f)
	if err != nil {
		return nil, fmt.Errorf("route: list %s routes: %w", f, err)
	}

	var best *Route
	for i := range rows {
		r := rows[i]
		if r.IfLUID == luid {
			continue
		}
		if r.Destination.Bits() != 0 {
			continue
		}
		if best == nil || r.Metric < best.Metric {
			best = &r
		}
	}
	if best != nil {
		logger.Debug("route", "fallback default picked: luid=%d metric=%d", best.IfLUID, best.Metric)
	}
	return best, nil
}

// UpsertHostRouteVia sets or replaces the host route to host so that it
// travels the same interface (and gateway, if any) as via. An existing
// host entry is mutated in place; otherwise a new entry is created.
func (m *Manager) UpsertHostRouteVia(host netip.Addr, via *Route, metric uint32) error {
	f := FamilyOf(host)
	if via == nil {
		return fmt.Errorf("route: upsert host route %s: %w", host, ErrNoRoute)
	}
	if FamilyOf(via.Destination.Addr()) != f {
		return fmt.Errorf("route: upsert host route %s: family mismatch with via entry", host)
	}

	desired := Route{
		Destination: netip.PrefixFrom(host, f.HostBits()),
		IfLUID:      via.IfLUID,
		IfIndex:     via.IfIndex,
		Metric:      metric,
		Owned:       true,
	}
	// Reuse the via entry's gateway; a family-zero next-hop stays on-link.
	if via.NextHop.IsValid() && !via.NextHop.IsUnspecified() {
		desired.NextHop = via.NextHop
	} else {
		desired.NextHop = f.Zero()
	}

	rows, err := m.table.Routes(f)
	if err != nil {
		return fmt.Errorf("route: list %s routes: %w", f, err)
	}
	for _, r := range rows {
		if r.Destination == desired.Destination {
			if err := m.table.UpdateRoute(desired); err != nil {
				return fmt.Errorf("route: update host route %s: %w", host, err)
			}
			logger.Info("route", "host route updated: %s metric=%d", host, metric)
			return nil
		}
	}

	if err := m.table.CreateRoute(desired); err != nil {
		return fmt.Errorf("route: create host route %s: %w", host, err)
	}
	logger.Info("route", "host route created: %s metric=%d", host, metric)
	return nil
}
