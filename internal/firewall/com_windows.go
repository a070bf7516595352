//go:build windows

package firewall

import (
	"fmt"
	"runtime"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
)

// COMStore talks to the Windows Firewall policy store through COM
// automation (HNetCfg.FwPolicy2). Every call enters a short-lived STA
// apartment on a locked OS thread, mirroring the policy object's
// threading requirements.
type COMStore struct{}

// NewCOMStore returns the system firewall store binding.
func NewCOMStore() *COMStore {
	return &COMStore{}
}

// withRules runs fn with the policy's rule collection.
func (c *COMStore) withRules(fn func(rules *ole.IDispatch) error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		// S_FALSE means the apartment already exists on this thread.
		if oleErr, ok := err.(*ole.OleError); !ok || oleErr.Code() != uintptr(1) {
			return fmt.Errorf("CoInitializeEx: %w", err)
		}
	}
	defer ole.CoUninitialize()

	unk, err := oleutil.CreateObject("HNetCfg.FwPolicy2")
	if err != nil {
		return fmt.Errorf("CoCreateInstance(NetFwPolicy2): %w", err)
	}
	defer unk.Release()

	policy, err := unk.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return fmt.Errorf("QueryInterface(NetFwPolicy2): %w", err)
	}
	defer policy.Release()

	rulesV, err := oleutil.GetProperty(policy, "Rules")
	if err != nil {
		return fmt.Errorf("INetFwPolicy2::get_Rules: %w", err)
	}
	rules := rulesV.ToIDispatch()
	defer rules.Release()

	return fn(rules)
}

// Lookup reads a rule's full attribute set, or nil when absent.
func (c *COMStore) Lookup(name string) (*Snapshot, error) {
	var snap *Snapshot
	err := c.withRules(func(rules *ole.IDispatch) error {
		itemV, err := oleutil.CallMethod(rules, "Item", name)
		if err != nil {
			// The collection raises on a missing name.
			return nil
		}
		rule := itemV.ToIDispatch()
		defer rule.Release()

		s := Snapshot{}
		s.Name = getString(rule, "Name")
		s.Description = getString(rule, "Description")
		s.Direction = getInt32(rule, "Direction")
		s.Action = getInt32(rule, "Action")
		s.Enabled = getBool(rule, "Enabled")
		s.Profiles = getInt32(rule, "Profiles")
		s.InterfaceTypes = getString(rule, "InterfaceTypes")
		s.Protocol = getInt32(rule, "Protocol")
		s.RemoteAddresses = getString(rule, "RemoteAddresses")
		s.RemotePorts = getString(rule, "RemotePorts")
		s.ApplicationName = getString(rule, "ApplicationName")
		snap = &s
		return nil
	})
	return snap, err
}

// Add creates a rule from the snapshot's attributes.
func (c *COMStore) Add(s *Snapshot) error {
	return c.withRules(func(rules *ole.IDispatch) error {
		unk, err := oleutil.CreateObject("HNetCfg.FWRule")
		if err != nil {
			return fmt.Errorf("CoCreateInstance(NetFwRule): %w", err)
		}
		defer unk.Release()

		rule, err := unk.QueryInterface(ole.IID_IDispatch)
		if err != nil {
			return fmt.Errorf("QueryInterface(NetFwRule): %w", err)
		}
		defer rule.Release()

		// Protocol must be set before the port properties.
		puts := []struct {
			prop  string
			value interface{}
		}{
			{"Name", s.Name},
			{"Description", s.Description},
			{"Direction", s.Direction},
			{"Action", s.Action},
			{"Enabled", s.Enabled},
			{"Profiles", s.Profiles},
			{"InterfaceTypes", s.InterfaceTypes},
			{"Protocol", s.Protocol},
			{"RemoteAddresses", s.RemoteAddresses},
			{"RemotePorts", s.RemotePorts},
			{"ApplicationName", s.ApplicationName},
		}
		for _, p := range puts {
			if _, err := oleutil.PutProperty(rule, p.prop, p.value); err != nil {
				return fmt.Errorf("INetFwRule::put_%s: %w", p.prop, err)
			}
		}

		if _, err := oleutil.CallMethod(rules, "Add", rule); err != nil {
			return fmt.Errorf("INetFwRules::Add: %w", err)
		}
		return nil
	})
}

// Remove deletes a rule by name; a missing rule is not an error.
func (c *COMStore) Remove(name string) error {
	return c.withRules(func(rules *ole.IDispatch) error {
		if _, err := oleutil.CallMethod(rules, "Item", name); err != nil {
			return nil // nothing to remove
		}
		if _, err := oleutil.CallMethod(rules, "Remove", name); err != nil {
			return fmt.Errorf("INetFwRules::Remove: %w", err)
		}
		return nil
	})
}

// Names enumerates every rule name in the store.
func (c *COMStore) Names() ([]string, error) {
	var names []string
	err := c.withRules(func(rules *ole.IDispatch) error {
		enumV, err := oleutil.GetProperty(rules, "_NewEnum")
		if err != nil {
			return fmt.Errorf("INetFwRules::get__NewEnum: %w", err)
		}
		enum, err := enumV.ToIUnknown().IEnumVARIANT(ole.IID_IEnumVariant)
		if err != nil {
			return fmt.Errorf("QueryInterface(IEnumVARIANT): %w", err)
		}
		defer enum.Release()

		for item, length, err := enum.Next(1); length > 0; item, length, err = enum.Next(1) {
			if err != nil {
				return fmt.Errorf("IEnumVARIANT::Next: %w", err)
			}
			rule := item.ToIDispatch()
			if rule == nil {
				continue
			}
			if n := getString(rule, "Name"); n != "" {
				names = append(names, n)
			}
			rule.Release()
		}
		return nil
	})
	return names, err
}

func getString(disp *ole.IDispatch, prop string) string {
	v, err := oleutil.GetProperty(disp, prop)
	if err != nil {
		return ""
	}
	defer v.Clear()
	if s, ok := v.Value().(string); ok {
		return s
	}
	return ""
}

func getInt32(disp *ole.IDispatch, prop string) int32 {
	v, err := oleutil.GetProperty(disp, prop)
	if err != nil {
		return 0
	}
	defer v.Clear()
	switch n := v.Value().(type) {
	case int32:
		return n
	case int64:
		return int32(n)
	}
	return 0
}

func getBool(disp *ole.IDispatch, prop string) bool {
	v, err := oleutil.GetProperty(disp, prop)
	if err != nil {
		return false
	}
	defer v.Clear()
	b, _ := v.Value().(bool)
	return b
}
