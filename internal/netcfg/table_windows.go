//go:build windows

package netcfg

import (
	"errors"
	"fmt"
	"net/netip"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.zx2c4.com/wireguard/windows/tunnel/winipcfg"

	"github.com/flowforge/flowforge/internal/logger"
)

// SystemTable is the live Windows forwarding table and interface
// attribute store, reached through the IP Helper API.
type SystemTable struct{}

// NewSystemTable returns the system table binding.
func NewSystemTable() *SystemTable {
	return &SystemTable{}
}

func family(f Family) winipcfg.AddressFamily {
	if f == V6 {
		return windows.AF_INET6
	}
	return windows.AF_INET
}

func alreadyExists(err error) bool {
	return errors.Is(err, windows.ERROR_OBJECT_ALREADY_EXISTS)
}

// Some interfaces refuse metric/MTU writes with "invalid parameter".
func invalidParameter(err error) bool {
	return errors.Is(err, windows.ERROR_INVALID_PARAMETER)
}

// Routes returns every forwarding entry of the family.
func (t *SystemTable) Routes(f Family) ([]Route, error) {
	rows, err := winipcfg.GetIPForwardTable2(family(f))
	if err != nil {
		return nil, fmt.Errorf("GetIpForwardTable2: %w", err)
	}

	out := make([]Route, 0, len(rows))
	for i := range rows {
		out = append(out, fromRow(&rows[i]))
	}
	return out, nil
}

// BestRoute asks the OS for the best forwarding entry to dst. A missing
// route returns (nil, nil).
func (t *SystemTable) BestRoute(dst netip.Addr) (*Route, error) {
	var sa winipcfg.RawSockaddrInet
	if err := sa.SetAddr(dst); err != nil {
		return nil, fmt.Errorf("GetBestRoute2: destination %s: %w", dst, err)
	}

	var row winipcfg.MibIPforwardRow2
	var src winipcfg.RawSockaddrInet
	rc, _, _ := procGetBestRoute2.Call(
		0, // no source interface constraint
		0,
		0,
		uintptr(unsafe.Pointer(&sa)),
		0,
		uintptr(unsafe.Pointer(&row)),
		uintptr(unsafe.Pointer(&src)),
	)
	if rc != 0 {
		// No route is the expected miss, not an error.
		logger.Debug("route", "GetBestRoute2(%s): rc=%d (no route)", dst, rc)
		return nil, nil
	}

	r := fromRow(&row)
	return &r, nil
}

// CreateRoute adds a forwarding entry tagged with our origin. "Already
// exists" is success. When the modern create fails for a v4 host route,
// the legacy v4 creation primitive is tried with the interface index.
func (t *SystemTable) CreateRoute(r Route) error {
	err := winipcfg.LUID(r.IfLUID).AddRoute(r.Destination, nextHopAddr(r), r.Metric)
	if err == nil || alreadyExists(err) {
		return nil
	}

	if FamilyOf(r.Destination.Addr()) == V4 && r.Destination.Bits() == 32 {
		logger.Warning("route", "CreateIpForwardEntry2(%s) failed (%v), trying legacy API", r.Destination, err)
		if lerr := t.createLegacyV4Host(r); lerr == nil {
			return nil
		}
	}

	return fmt.Errorf("CreateIpForwardEntry2(%s): %w", r.Destination, err)
}

// UpdateRoute rewrites the matching entry in place, or creates it when
// no entry matches the destination prefix.
func (t *SystemTable) UpdateRoute(r Route) error {
	rows, err := winipcfg.GetIPForwardTable2(family(FamilyOf(r.Destination.Addr())))
	if err != nil {
		return fmt.Errorf("GetIpForwardTable2: %w", err)
	}

	for i := range rows {
		if rows[i].DestinationPrefix.Prefix() != r.Destination {
			continue
		}
		rows[i].InterfaceLUID = winipcfg.LUID(r.IfLUID)
		if err := rows[i].NextHop.SetAddr(nextHopAddr(r)); err != nil {
			return fmt.Errorf("SetIpForwardEntry2(%s): next-hop: %w", r.Destination, err)
		}
		rows[i].Metric = r.Metric
		rows[i].Protocol = winipcfg.RouteProtocolNetMgmt
		if err := rows[i].Set(); err != nil {
			return fmt.Errorf("SetIpForwardEntry2(%s): %w", r.Destination, err)
		}
		return nil
	}

	return t.CreateRoute(r)
}

// DeleteRoute removes the forwarding entry matching destination and
// interface. A missing entry is not an error.
func (t *SystemTable) DeleteRoute(r Route) error {
	rows, err := winipcfg.GetIPForwardTable2(family(FamilyOf(r.Destination.Addr())))
	if err != nil {
		return fmt.Errorf("GetIpForwardTable2: %w", err)
	}

	for i := range rows {
		if rows[i].DestinationPrefix.Prefix() != r.Destination {
			continue
		}
		if uint64(rows[i].InterfaceLUID) != r.IfLUID {
			continue
		}
		if err := rows[i].Delete(); err != nil {
			return fmt.Errorf("DeleteIpForwardEntry2(%s): %w", r.Destination, err)
		}
		return nil
	}
	return nil
}

// AddAddress creates the tunnel's unicast address (infinite lifetimes,
// preferred DAD state). An identical existing address is kept.
func (t *SystemTable) AddAddress(luid uint64, p netip.Prefix) error {
	err := winipcfg.LUID(luid).AddIPAddress(p)
	if err == nil {
		return nil
	}
	if alreadyExists(err) {
		logger.Debug("route", "unicast address already present: %s", p)
		return nil
	}
	return fmt.Errorf("CreateUnicastIpAddressEntry(%s): %w", p, err)
}

// SetMetric disables automatic metric and writes a manual one.
func (t *SystemTable) SetMetric(luid uint64, f Family, metric uint32) error {
	row, err := winipcfg.LUID(luid).IPInterface(family(f))
	if err != nil {
		return fmt.Errorf("GetIpInterfaceEntry(%s): %w", f, err)
	}

	row.UseAutomaticMetric = false
	row.Metric = metric

	if err := row.Set(); err != nil {
		if invalidParameter(err) {
			logger.Warning("route", "SetIpInterfaceEntry(%s metric=%d) rc=87, ignored", f, metric)
			return nil
		}
		return fmt.Errorf("SetIpInterfaceEntry(%s metric): %w", f, err)
	}
	return nil
}

// SetMTU writes the link MTU.
func (t *SystemTable) SetMTU(luid uint64, f Family, mtu uint32) error {
	row, err := winipcfg.LUID(luid).IPInterface(family(f))
	if err != nil {
		return fmt.Errorf("GetIpInterfaceEntry(%s): %w", f, err)
	}

	row.NLMTU = mtu

	if err := row.Set(); err != nil {
		if invalidParameter(err) {
			logger.Warning("route", "SetIpInterfaceEntry(%s mtu=%d) rc=87, ignored", f, mtu)
			return nil
		}
		return fmt.Errorf("SetIpInterfaceEntry(%s mtu): %w", f, err)
	}
	return nil
}

// Iface reads the family's attribute row.
func (t *SystemTable) Iface(luid uint64, f Family) (*IfaceState, error) {
	row, err := winipcfg.LUID(luid).IPInterface(family(f))
	if err != nil {
		return nil, fmt.Errorf("GetIpInterfaceEntry(%s): %w", f, err)
	}
	return &IfaceState{
		AutomaticMetric: row.UseAutomaticMetric,
		Metric:          row.Metric,
		MTU:             row.NLMTU,
	}, nil
}

// RestoreIface writes the snapshot back in two passes — metric fields
// first, then MTU — tolerating "invalid parameter" on either write.
func (t *SystemTable) RestoreIface(luid uint64, f Family, st IfaceState) error {
	row, err := winipcfg.LUID(luid).IPInterface(family(f))
	if err != nil {
		return fmt.Errorf("GetIpInterfaceEntry(%s): %w", f, err)
	}
	row.UseAutomaticMetric = st.AutomaticMetric
	row.Metric = st.Metric
	if err := row.Set(); err != nil && !invalidParameter(err) {
		return fmt.Errorf("SetIpInterfaceEntry(%s metric restore): %w", f, err)
	}

	row, err = winipcfg.LUID(luid).IPInterface(family(f))
	if err != nil {
		return fmt.Errorf("GetIpInterfaceEntry(%s): %w", f, err)
	}
	row.NLMTU = st.MTU
	if err := row.Set(); err != nil && !invalidParameter(err) {
		return fmt.Errorf("SetIpInterfaceEntry(%s mtu restore): %w", f, err)
	}
	return nil
}

func fromRow(row *winipcfg.MibIPforwardRow2) Route {
	return Route{
		Destination: row.DestinationPrefix.Prefix(),
		NextHop:     row.NextHop.Addr(),
		IfLUID:      uint64(row.InterfaceLUID),
		IfIndex:     row.InterfaceIndex,
		Metric:      row.Metric,
		Owned:       row.Protocol == winipcfg.RouteProtocolNetMgmt,
	}
}

func nextHopAddr(r Route) netip.Addr {
	if r.NextHop.IsValid() {
		return r.NextHop
	}
	return FamilyOf(r.Destination.Addr()).Zero()
}

// ---- legacy v4 host route fallback ----

var (
	modiphlpapi           = windows.NewLazySystemDLL("iphlpapi.dll")
	procGetBestRoute2     = modiphlpapi.NewProc("GetBestRoute2")
	procCreateIPForwardV1 = modiphlpapi.NewProc("CreateIpForwardEntry")
)

// mibIPForwardRow is the legacy MIB_IPFORWARDROW layout.
type mibIPForwardRow struct {
	Dest      uint32
	Mask      uint32
	Policy    uint32
	NextHop   uint32
	IfIndex   uint32
	Type      uint32
	Proto     uint32
	Age       uint32
	NextHopAS uint32
	Metric1   uint32
	Metric2   uint32
	Metric3   uint32
	Metric4   uint32
	Metric5   uint32
}

const (
	legacyRouteTypeDirect   = 3
	legacyRouteTypeIndirect = 4
	legacyProtoNetMgmt      = 3
)

// createLegacyV4Host creates a /32 with the pre-Vista API, which wants an
// interface index instead of a LUID.
func (t *SystemTable) createLegacyV4Host(r Route) error {
	dst := r.Destination.Addr().As4()
	row := mibIPForwardRow{
		Dest:    uint32(dst[0]) | uint32(dst[1])<<8 | uint32(dst[2])<<16 | uint32(dst[3])<<24,
		Mask:    0xFFFFFFFF,
		IfIndex: r.IfIndex,
		Proto:   legacyProtoNetMgmt,
		Metric1: r.Metric,
	}
	if !r.OnLink() {
		nh := r.NextHop.As4()
		row.NextHop = uint32(nh[0]) | uint32(nh[1])<<8 | uint32(nh[2])<<16 | uint32(nh[3])<<24
	}
	if row.NextHop == 0 {
		row.Type = legacyRouteTypeDirect
	} else {
		row.Type = legacyRouteTypeIndirect
	}

	rc, _, _ := procCreateIPForwardV1.Call(uintptr(unsafe.Pointer(&row)))
	if rc != 0 && !alreadyExists(windows.Errno(rc)) {
		return fmt.Errorf("CreateIpForwardEntry(legacy v4 /32): rc=%d", rc)
	}
	logger.Info("route", "host route (legacy) ensured: %s metric=%d", r.Destination, r.Metric)
	return nil
}
