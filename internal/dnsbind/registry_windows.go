//go:build windows

package dnsbind

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
	"golang.zx2c4.com/wireguard/windows/tunnel/winipcfg"

	"github.com/flowforge/flowforge/internal/logger"
	"github.com/flowforge/flowforge/internal/netcfg"
)

const (
	basePath4 = `SYSTEM\CurrentControlSet\Services\Tcpip\Parameters\Interfaces\`
	basePath6 = `SYSTEM\CurrentControlSet\Services\Tcpip6\Parameters\Interfaces\`

	nameServerValue = "NameServer"
)

// RegistryStore binds resolver lists under the interface's registry key,
// addressed by the interface GUID string. The GUID is resolved from the
// LUID once, lazily.
type RegistryStore struct {
	luid    uint64
	guidStr string
}

// NewRegistryStore creates a store for the interface with the given LUID.
func NewRegistryStore(luid uint64) *RegistryStore {
	return &RegistryStore{luid: luid}
}

func (s *RegistryStore) guid() (string, error) {
	if s.guidStr != "" {
		return s.guidStr, nil
	}
	g, err := winipcfg.LUID(s.luid).GUID()
	if err != nil {
		return "", fmt.Errorf("ConvertInterfaceLuidToGuid: %w", err)
	}
	s.guidStr = g.String()
	logger.Debug("dns", "interface GUID resolved: %s", s.guidStr)
	return s.guidStr, nil
}

func (s *RegistryStore) keyPath(f netcfg.Family) (string, error) {
	guid, err := s.guid()
	if err != nil {
		return "", err
	}
	base := basePath4
	if f == netcfg.V6 {
		base = basePath6
	}
	// The Tcpip6 tree stores the GUID in lower case; the lookup is
	// case-insensitive either way.
	return base + strings.ToLower(guid), nil
}

// Read returns the stored NameServer value, distinguishing an absent
// value from a stored empty string.
func (s *RegistryStore) Read(f netcfg.Family) (string, bool, error) {
	path, err := s.keyPath(f)
	if err != nil {
		return "", false, err
	}

	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.QUERY_VALUE|registry.WOW64_64KEY)
	if err != nil {
		return "", false, fmt.Errorf("RegOpenKeyExW(%s): %w", path, err)
	}
	defer k.Close()

	val, _, err := k.GetStringValue(nameServerValue)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("RegQueryValueExW(NameServer): %w", err)
	}
	return val, true, nil
}

// Write stores the NameServer value.
func (s *RegistryStore) Write(f netcfg.Family, value string) error {
	path, err := s.keyPath(f)
	if err != nil {
		return err
	}

	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.SET_VALUE|registry.WOW64_64KEY)
	if err != nil {
		return fmt.Errorf("RegOpenKeyExW(%s): %w", path, err)
	}
	defer k.Close()

	if err := k.SetStringValue(nameServerValue, value); err != nil {
		return fmt.Errorf("RegSetValueExW(NameServer): %w", err)
	}
	return nil
}

// Delete removes the NameServer value; an already-absent value is fine.
func (s *RegistryStore) Delete(f netcfg.Family) error {
	path, err := s.keyPath(f)
	if err != nil {
		return err
	}

	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.SET_VALUE|registry.WOW64_64KEY)
	if err != nil {
		return fmt.Errorf("RegOpenKeyExW(%s): %w", path, err)
	}
	defer k.Close()

	err = k.DeleteValue(nameServerValue)
	if err != nil && !errors.Is(err, registry.ErrNotExist) {
		return fmt.Errorf("RegDeleteValueW(NameServer): %w", err)
	}
	return nil
}

var (
	moddnsapi      = windows.NewLazySystemDLL("dnsapi.dll")
	procFlushCache = moddnsapi.NewProc("DnsFlushResolverCache")
)

// FlushResolverCache empties the OS resolver cache. Best effort.
func FlushResolverCache() {
	if err := procFlushCache.Find(); err != nil {
		logger.Warning("dns", "DnsFlushResolverCache unavailable: %v", err)
		return
	}
	procFlushCache.Call()
	logger.Debug("dns", "resolver cache flushed")
}
