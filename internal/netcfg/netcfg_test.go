package netcfg

import (
	"fmt"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tunLUID  uint64 = 42
	ethLUID  uint64 = 7
	ethIndex uint32 = 3
)

// fakeTable is an in-memory Table for exercising the reconciler.
type fakeTable struct {
	routes []Route
	iface  map[string]IfaceState // key: luid/family
	fail   map[string]error      // op name -> injected error
}

func newFakeTable() *fakeTable {
	return &fakeTable{
		iface: map[string]IfaceState{
			ifaceKey(tunLUID, V4): {AutomaticMetric: true, Metric: 25, MTU: 1500},
			ifaceKey(tunLUID, V6): {AutomaticMetric: true, Metric: 25, MTU: 1500},
		},
		fail: map[string]error{},
	}
}

func ifaceKey(luid uint64, f Family) string {
	return fmt.Sprintf("%d/%s", luid, f)
}

func (t *fakeTable) Routes(f Family) ([]Route, error) {
	if err := t.fail["routes"]; err != nil {
		return nil, err
	}
	var out []Route
	for _, r := range t.routes {
		if FamilyOf(r.Destination.Addr()) == f {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *fakeTable) BestRoute(dst netip.Addr) (*Route, error) {
	// Longest-prefix match with lowest metric, like the OS would.
	var best *Route
	for i := range t.routes {
		r := t.routes[i]
		if FamilyOf(r.Destination.Addr()) != FamilyOf(dst) || !r.Destination.Contains(dst) {
			continue
		}
		if best == nil ||
			r.Destination.Bits() > best.Destination.Bits() ||
			(r.Destination.Bits() == best.Destination.Bits() && r.Metric < best.Metric) {
			best = &r
		}
	}
	return best, nil
}

func (t *fakeTable) CreateRoute(r Route) error {
	if err := t.fail["create"]; err != nil {
		return err
	}
	for _, have := range t.routes {
		if have.Destination == r.Destination && have.IfLUID == r.IfLUID {
			return nil // already exists is success
		}
	}
	t.routes = append(t.routes, r)
	return nil
}

func (t *fakeTable) UpdateRoute(r Route) error {
	for i := range t.routes {
		if t.routes[i].Destination == r.Destination {
			t.routes[i] = r
			return nil
		}
	}
	return t.CreateRoute(r)
}

func (t *fakeTable) DeleteRoute(r Route) error {
	if err := t.fail["delete"]; err != nil {
		return err
	}
	for i := range t.routes {
		if t.routes[i].Destination == r.Destination && t.routes[i].IfLUID == r.IfLUID {
			t.routes = append(t.routes[:i], t.routes[i+1:]...)
			return nil
		}
	}
	return nil
}

func (t *fakeTable) AddAddress(luid uint64, p netip.Prefix) error {
	return t.fail["addaddress"]
}

func (t *fakeTable) SetMetric(luid uint64, f Family, metric uint32) error {
	st := t.iface[ifaceKey(luid, f)]
	st.AutomaticMetric = false
	st.Metric = metric
	t.iface[ifaceKey(luid, f)] = st
	return nil
}

func (t *fakeTable) SetMTU(luid uint64, f Family, mtu uint32) error {
	st := t.iface[ifaceKey(luid, f)]
	st.MTU = mtu
	t.iface[ifaceKey(luid, f)] = st
	return nil
}

func (t *fakeTable) Iface(luid uint64, f Family) (*IfaceState, error) {
	if err := t.fail["iface"]; err != nil {
		return nil, err
	}
	st, ok := t.iface[ifaceKey(luid, f)]
	if !ok {
		return nil, fmt.Errorf("no such interface row")
	}
	return &st, nil
}

func (t *fakeTable) RestoreIface(luid uint64, f Family, st IfaceState) error {
	if err := t.fail["restore"]; err != nil {
		return err
	}
	t.iface[ifaceKey(luid, f)] = st
	return nil
}

func (t *fakeTable) find(dst string) *Route {
	p := netip.MustParsePrefix(dst)
	for i := range t.routes {
		if t.routes[i].Destination == p {
			return &t.routes[i]
		}
	}
	return nil
}

func testPlan(t *testing.T) Plan {
	plan, err := NewPlan("10.200.0.2", "10.200.0.1", "fd00:dead:beef::2", "fd00:dead:beef::1", 1400)
	require.NoError(t, err)
	return plan
}

func withDefaultRoute(ft *fakeTable) {
	ft.routes = append(ft.routes, Route{
		Destination: netip.MustParsePrefix("0.0.0.0/0"),
		NextHop:     netip.MustParseAddr("192.0.2.1"),
		IfLUID:      ethLUID,
		IfIndex:     ethIndex,
		Metric:      25,
	})
}

func TestConfigureFamily_HappyPathV4(t *testing.T) {
	ft := newFakeTable()
	withDefaultRoute(ft)
	m := NewManager(ft)
	server := netip.MustParseAddr("203.0.113.5")

	require.NoError(t, m.ConfigureFamily(tunLUID, testPlan(t), server, V4))

	pin := ft.find("203.0.113.5/32")
	require.NotNil(t, pin, "server pin must exist")
	assert.Equal(t, ethLUID, pin.IfLUID)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), pin.NextHop)
	assert.Equal(t, uint32(1), pin.Metric)
	assert.True(t, pin.Owned)

	for _, dst := range []string{"0.0.0.0/1", "128.0.0.0/1"} {
		half := ft.find(dst)
		require.NotNil(t, half, "split default %s must exist", dst)
		assert.Equal(t, tunLUID, half.IfLUID)
		assert.Equal(t, netip.MustParseAddr("10.200.0.1"), half.NextHop)
		assert.Equal(t, uint32(1), half.Metric)
	}

	// The ambient default route is untouched.
	require.NotNil(t, ft.find("0.0.0.0/0"))

	st := ft.iface[ifaceKey(tunLUID, V4)]
	assert.False(t, st.AutomaticMetric)
	assert.Equal(t, uint32(1), st.Metric)
	assert.Equal(t, uint32(1400), st.MTU)
}

func TestConfigureFamily_NoRouteToServer(t *testing.T) {
	ft := newFakeTable() // no default route at all
	m := NewManager(ft)
	server := netip.MustParseAddr("203.0.113.5")

	require.NoError(t, m.ConfigureFamily(tunLUID, testPlan(t), server, V4))

	assert.Nil(t, ft.find("203.0.113.5/32"), "no pin without a candidate")
	assert.Nil(t, ft.find("0.0.0.0/1"), "no split defaults without a pin")
	assert.Nil(t, ft.find("128.0.0.0/1"))

	// Interface attributes and MTU are still applied.
	st := ft.iface[ifaceKey(tunLUID, V4)]
	assert.Equal(t, uint32(1), st.Metric)
	assert.Equal(t, uint32(1400), st.MTU)
}

func TestConfigureFamily_ServerFamilyDiffers(t *testing.T) {
	ft := newFakeTable()
	withDefaultRoute(ft)
	m := NewManager(ft)
	server := netip.MustParseAddr("203.0.113.5") // v4 server, configuring v6

	require.NoError(t, m.ConfigureFamily(tunLUID, testPlan(t), server, V6))

	assert.Nil(t, ft.find("::/1"), "v6 split defaults need a v6 pin")
	assert.Nil(t, ft.find("8000::/1"))
}

func TestConfigureFamily_V6PinViaOnLinkFallback(t *testing.T) {
	ft := newFakeTable()
	// A v6 default with family-zero next-hop: on-link delivery.
	ft.routes = append(ft.routes, Route{
		Destination: netip.MustParsePrefix("::/0"),
		NextHop:     netip.IPv6Unspecified(),
		IfLUID:      ethLUID,
		Metric:      30,
	})
	m := NewManager(ft)
	server := netip.MustParseAddr("2001:db8::9")

	require.NoError(t, m.ConfigureFamily(tunLUID, testPlan(t), server, V6))

	pin := ft.find("2001:db8::9/128")
	require.NotNil(t, pin)
	assert.Equal(t, ethLUID, pin.IfLUID)
	assert.True(t, pin.OnLink(), "fallback's family-zero next-hop is preserved")

	require.NotNil(t, ft.find("::/1"))
	require.NotNil(t, ft.find("8000::/1"))
}

func TestFallbackDefaultRouteExcluding(t *testing.T) {
	ft := newFakeTable()
	withDefaultRoute(ft)
	ft.routes = append(ft.routes,
		Route{ // a worse default on another interface
			Destination: netip.MustParsePrefix("0.0.0.0/0"),
			NextHop:     netip.MustParseAddr("198.51.100.1"),
			IfLUID:      9,
			Metric:      50,
		},
		Route{ // a default on the excluded interface
			Destination: netip.MustParsePrefix("0.0.0.0/0"),
			NextHop:     netip.MustParseAddr("10.200.0.1"),
			IfLUID:      tunLUID,
			Metric:      1,
		},
	)
	m := NewManager(ft)

	best, err := m.FallbackDefaultRouteExcluding(tunLUID, V4)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, ethLUID, best.IfLUID)
	assert.Equal(t, uint32(25), best.Metric)
}

func TestFallbackDefaultRouteExcluding_None(t *testing.T) {
	ft := newFakeTable()
	ft.routes = append(ft.routes, Route{
		Destination: netip.MustParsePrefix("0.0.0.0/0"),
		NextHop:     netip.MustParseAddr("10.200.0.1"),
		IfLUID:      tunLUID,
		Metric:      1,
	})
	m := NewManager(ft)

	best, err := m.FallbackDefaultRouteExcluding(tunLUID, V4)
	require.NoError(t, err)
	assert.Nil(t, best)
}

func TestUpsertHostRouteVia_UpdatesInPlace(t *testing.T) {
	ft := newFakeTable()
	withDefaultRoute(ft)
	server := netip.MustParseAddr("203.0.113.5")
	ft.routes = append(ft.routes, Route{ // stale pin via an old gateway
		Destination: netip.MustParsePrefix("203.0.113.5/32"),
		NextHop:     netip.MustParseAddr("198.51.100.254"),
		IfLUID:      11,
		Metric:      9,
		Owned:       true,
	})
	m := NewManager(ft)

	via := ft.find("0.0.0.0/0")
	require.NoError(t, m.UpsertHostRouteVia(server, via, 1))

	var pins int
	for _, r := range ft.routes {
		if r.Destination == netip.MustParsePrefix("203.0.113.5/32") {
			pins++
			assert.Equal(t, ethLUID, r.IfLUID)
			assert.Equal(t, netip.MustParseAddr("192.0.2.1"), r.NextHop)
			assert.Equal(t, uint32(1), r.Metric)
		}
	}
	assert.Equal(t, 1, pins, "the stale pin is mutated, not duplicated")
}

func TestUpsertHostRouteVia_FamilyMismatch(t *testing.T) {
	ft := newFakeTable()
	withDefaultRoute(ft)
	m := NewManager(ft)

	via := ft.find("0.0.0.0/0")
	err := m.UpsertHostRouteVia(netip.MustParseAddr("2001:db8::9"), via, 1)
	assert.Error(t, err)
}

func TestRemoveSplitDefaults_OnlyOwnedOnOurInterface(t *testing.T) {
	ft := newFakeTable()
	withDefaultRoute(ft)
	ft.routes = append(ft.routes,
		Route{Destination: netip.MustParsePrefix("0.0.0.0/1"), NextHop: netip.MustParseAddr("10.200.0.1"), IfLUID: tunLUID, Metric: 1, Owned: true},
		Route{Destination: netip.MustParsePrefix("128.0.0.0/1"), NextHop: netip.MustParseAddr("10.200.0.1"), IfLUID: tunLUID, Metric: 1, Owned: true},
		// A foreign half-space route on another interface stays.
		Route{Destination: netip.MustParsePrefix("0.0.0.0/1"), NextHop: netip.MustParseAddr("192.0.2.1"), IfLUID: ethLUID, Metric: 5, Owned: false},
		Route{Destination: netip.MustParsePrefix("::/1"), NextHop: netip.MustParseAddr("fd00:dead:beef::1"), IfLUID: tunLUID, Metric: 1, Owned: true},
	)
	m := NewManager(ft)

	require.NoError(t, m.RemoveSplitDefaults(tunLUID))

	assert.Nil(t, ft.find("128.0.0.0/1"))
	assert.Nil(t, ft.find("::/1"))
	require.NotNil(t, ft.find("0.0.0.0/1"), "foreign route survives")
	assert.Equal(t, ethLUID, ft.find("0.0.0.0/1").IfLUID)
	require.NotNil(t, ft.find("0.0.0.0/0"))
}

func TestRemovePinnedHostRoute_OwnedOnly(t *testing.T) {
	ft := newFakeTable()
	server := netip.MustParseAddr("203.0.113.5")
	ft.routes = append(ft.routes,
		Route{Destination: netip.MustParsePrefix("203.0.113.5/32"), NextHop: netip.MustParseAddr("192.0.2.1"), IfLUID: ethLUID, Metric: 1, Owned: true},
		Route{Destination: netip.MustParsePrefix("203.0.113.6/32"), NextHop: netip.MustParseAddr("192.0.2.1"), IfLUID: ethLUID, Metric: 1, Owned: true},
	)
	m := NewManager(ft)

	require.NoError(t, m.RemovePinnedHostRoute(server))

	assert.Nil(t, ft.find("203.0.113.5/32"))
	assert.NotNil(t, ft.find("203.0.113.6/32"), "other host routes survive")
}

func TestIsSplitDefault(t *testing.T) {
	assert.True(t, IsSplitDefault(netip.MustParsePrefix("0.0.0.0/1")))
	assert.True(t, IsSplitDefault(netip.MustParsePrefix("128.0.0.0/1")))
	assert.True(t, IsSplitDefault(netip.MustParsePrefix("::/1")))
	assert.True(t, IsSplitDefault(netip.MustParsePrefix("8000::/1")))
	assert.False(t, IsSplitDefault(netip.MustParsePrefix("0.0.0.0/0")))
	assert.False(t, IsSplitDefault(netip.MustParsePrefix("64.0.0.0/1")))
	assert.False(t, IsSplitDefault(netip.MustParsePrefix("10.0.0.0/8")))
}

func TestNewPlan_Validation(t *testing.T) {
	_, err := NewPlan("not-an-ip", "10.200.0.1", "fd00::2", "fd00::1", 1400)
	assert.Error(t, err)

	_, err = NewPlan("fd00::2", "10.200.0.1", "fd00::2", "fd00::1", 1400)
	assert.Error(t, err, "v6 literal in a v4 slot")

	_, err = NewPlan("10.200.0.2", "10.200.0.1", "10.0.0.1", "fd00::1", 1400)
	assert.Error(t, err, "v4 literal in a v6 slot")

	_, err = NewPlan("10.200.0.2", "10.200.0.1", "fd00::2", "fd00::1", 100)
	assert.Error(t, err, "mtu below floor")

	plan, err := NewPlan("10.200.0.2", "10.200.0.1", "fd00::2", "fd00::1", 1400)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("10.200.0.2/22"), plan.LocalPrefix(V4))
	assert.Equal(t, netip.MustParsePrefix("fd00::2/64"), plan.LocalPrefix(V6))
	// The peer must sit inside the on-link prefix so it is reachable
	// without an explicit peer route.
	assert.True(t, plan.LocalPrefix(V4).Masked().Contains(plan.Peer(V4)))
	assert.True(t, plan.LocalPrefix(V6).Masked().Contains(plan.Peer(V6)))
}
