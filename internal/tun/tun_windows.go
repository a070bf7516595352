//go:build windows

package tun

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
	"golang.zx2c4.com/wintun"

	"github.com/flowforge/flowforge/internal/logger"
)

// Fixed identities of the FlowForge adapter.
var (
	tunnelType = "FlowForge"

	requestedGUID = windows.GUID{
		Data1: 0xbaf1c3a1,
		Data2: 0x5175,
		Data3: 0x4a68,
		Data4: [8]byte{0x9b, 0x4b, 0x2c, 0x3d, 0x6f, 0x1f, 0x00, 0x11},
	}
)

// Adapter is an open WinTUN adapter and, once started, its ring session.
type Adapter struct {
	name    string
	adapter *wintun.Adapter
	session wintun.Session
	started bool
}

// EnsureDriver verifies wintun.dll is present next to the executable
// (where the loader will find it). The driver ships with the install;
// this just produces a readable error instead of a load failure later.
func EnsureDriver() error {
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("tun: executable path: %w", err)
	}
	dllPath := filepath.Join(filepath.Dir(exePath), "wintun.dll")
	if _, err := os.Stat(dllPath); err != nil {
		return fmt.Errorf("tun: wintun.dll not found at %s: %w", dllPath, err)
	}
	return nil
}

// Open opens the named adapter, creating it when it does not exist yet.
func Open(name string) (*Adapter, error) {
	adapter, err := wintun.OpenAdapter(name)
	if err == nil {
		logger.Info("tun", "adapter opened: %s", name)
		return &Adapter{name: name, adapter: adapter}, nil
	}

	adapter, err = wintun.CreateAdapter(name, tunnelType, &requestedGUID)
	if err != nil {
		return nil, fmt.Errorf("tun: WintunCreateAdapter(%s): %w", name, err)
	}
	logger.Info("tun", "adapter created: %s", name)
	return &Adapter{name: name, adapter: adapter}, nil
}

// Name returns the adapter name.
func (a *Adapter) Name() string {
	return a.name
}

// LUID returns the adapter's stable interface locator.
func (a *Adapter) LUID() uint64 {
	return a.adapter.LUID()
}

// StartSession starts the packet ring session.
func (a *Adapter) StartSession() error {
	session, err := a.adapter.StartSession(RingCapacity)
	if err != nil {
		return fmt.Errorf("tun: WintunStartSession: %w", err)
	}
	a.session = session
	a.started = true
	logger.Info("tun", "session started (ring=0x%x)", RingCapacity)
	return nil
}

// RecvPacket copies the next packet from the ring into buf. It returns
// the packet length, 0 when no packet is pending, and -1 when buf is too
// small (the packet is dropped in that case).
func (a *Adapter) RecvPacket(buf []byte) int {
	if !a.started {
		return 0
	}

	pkt, err := a.session.ReceivePacket()
	if err != nil {
		if !errors.Is(err, windows.ERROR_NO_MORE_ITEMS) {
			logger.Debug("tun", "ReceivePacket: %v", err)
		}
		return 0
	}

	tracePacket(pkt, "FROM_NET")

	if len(pkt) > len(buf) {
		logger.Warning("tun", "FROM_NET oversized pkt=%d > buf=%d", len(pkt), len(buf))
		a.session.ReleaseReceivePacket(pkt)
		return -1
	}

	n := copy(buf, pkt)
	a.session.ReleaseReceivePacket(pkt)
	return n
}

// SendPacket queues one packet into the ring. It returns the number of
// bytes accepted, or 0 when ring allocation fails (the packet is dropped).
func (a *Adapter) SendPacket(data []byte) int {
	if !a.started {
		return 0
	}

	tracePacket(data, "TO_NET")

	out, err := a.session.AllocateSendPacket(len(data))
	if err != nil {
		logger.Warning("tun", "AllocateSendPacket failed (drop): %v", err)
		return 0
	}
	copy(out, data)
	a.session.SendPacket(out)
	return len(data)
}

// EndSession ends the ring session. Safe to call when never started.
func (a *Adapter) EndSession() {
	if a.started {
		a.session.End()
		a.started = false
		logger.Debug("tun", "session ended")
	}
}

// Close ends any session and closes the adapter handle.
func (a *Adapter) Close() {
	a.EndSession()
	if a.adapter != nil {
		a.adapter.Close()
		a.adapter = nil
		logger.Debug("tun", "adapter closed")
	}
}
