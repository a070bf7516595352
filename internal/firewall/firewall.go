// Package firewall manages named outbound allow rules in the system
// firewall, snapshotting any pre-existing rule so revert can recreate it
// exactly.
package firewall

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flowforge/flowforge/internal/logger"
)

// Protocol is the L4 protocol of a rule.
type Protocol int

const (
	TCP Protocol = iota
	UDP
)

func (p Protocol) String() string {
	if p == TCP {
		return "TCP"
	}
	return "UDP"
}

// Rule attribute values for the rules this package creates.
const (
	DirectionOut  int32 = 2          // NET_FW_RULE_DIR_OUT
	ActionAllow   int32 = 1          // NET_FW_ACTION_ALLOW
	ProfilesAll   int32 = 0x7FFFFFFF // NET_FW_PROFILE2_ALL
	ifaceTypesAll       = "All"

	protoTCP int32 = 6
	protoUDP int32 = 17
)

// Snapshot carries every attribute needed to recreate a rule exactly.
type Snapshot struct {
	Name            string
	Description     string
	Direction       int32
	Action          int32
	Enabled         bool
	Profiles        int32
	InterfaceTypes  string
	Protocol        int32
	RemoteAddresses string
	RemotePorts     string
	ApplicationName string
}

// Store is the OS rule store. Lookup returns (nil, nil) for an absent
// rule; Remove of an absent rule is not an error.
type Store interface {
	Lookup(name string) (*Snapshot, error)
	Add(s *Snapshot) error
	Remove(name string) error
	Names() ([]string, error)
}

// Config identifies the rules this manager owns.
type Config struct {
	RulePrefix      string // leading token of every rule name
	AppPath         string // application the rules are scoped to
	RemoteAddresses string // comma-joined remote address set
}

type entry struct {
	proto     Protocol
	port      uint16
	name      string
	hadBefore bool
	touched   bool
	snapshot  Snapshot
}

// Manager creates outbound allow rules and reverts them in LIFO order.
type Manager struct {
	cfg     Config
	store   Store
	entries []entry
	applied bool
}

// New creates a rule manager.
func New(cfg Config, store Store) *Manager {
	return &Manager{cfg: cfg, store: store}
}

// RuleName computes the canonical name for an allow rule.
func (m *Manager) RuleName(proto Protocol, port uint16) string {
	return fmt.Sprintf("%s Out %s to %s:%d", m.cfg.RulePrefix, proto, m.cfg.RemoteAddresses, port)
}

func (m *Manager) validate() error {
	if m.cfg.RulePrefix == "" {
		return errors.New("firewall: rule_prefix is empty")
	}
	if m.cfg.AppPath == "" {
		return errors.New("firewall: app_path is empty")
	}
	if m.cfg.RemoteAddresses == "" {
		return errors.New("firewall: remote addresses are empty")
	}
	return nil
}

// Allow ensures an outbound allow rule for (proto, port) exists with the
// manager's desired attributes. A pre-existing rule by the same name is
// snapshotted, deleted and recreated. Calling Allow twice with equal
// arguments in one session is a no-op.
func (m *Manager) Allow(proto Protocol, port uint16) error {
	logger.Info("firewall", "Allow: proto=%s port=%d", proto, port)
	if err := m.validate(); err != nil {
		return err
	}
	if port == 0 {
		return errors.New("firewall: port is zero")
	}

	for _, e := range m.entries {
		if e.proto == proto && e.port == port {
			logger.Debug("firewall", "Allow: already present (idempotent)")
			return nil
		}
	}

	name := m.RuleName(proto, port)

	e := entry{proto: proto, port: port, name: name}

	prior, err := m.store.Lookup(name)
	if err != nil {
		return fmt.Errorf("firewall: lookup '%s': %w", name, err)
	}
	if prior != nil {
		e.hadBefore = true
		e.snapshot = *prior
		logger.Debug("firewall", "Allow: snapshotted pre-existing rule '%s'", name)
	}

	ipProto := protoUDP
	if proto == TCP {
		ipProto = protoTCP
	}
	desired := &Snapshot{
		Name:            name,
		Description:     "FlowForge outbound allow",
		Direction:       DirectionOut,
		Action:          ActionAllow,
		Enabled:         true,
		Profiles:        ProfilesAll,
		InterfaceTypes:  ifaceTypesAll,
		Protocol:        ipProto,
		RemoteAddresses: m.cfg.RemoteAddresses,
		RemotePorts:     fmt.Sprintf("%d", port),
		ApplicationName: m.cfg.AppPath,
	}

	if err := m.store.Remove(name); err != nil {
		return fmt.Errorf("firewall: remove '%s': %w", name, err)
	}
	if err := m.store.Add(desired); err != nil {
		return fmt.Errorf("firewall: add '%s': %w", name, err)
	}
	e.touched = true

	m.entries = append(m.entries, e)
	m.applied = true
	logger.Info("firewall", "rule applied: %s", name)
	return nil
}

// Revert walks the entries in LIFO order: delete what we created, then
// recreate what existed before. Individual failures are collected; the
// remaining entries are still processed.
func (m *Manager) Revert() error {
	if !m.applied {
		logger.Debug("firewall", "Revert: nothing to do")
		return nil
	}

	var errs []error
	logger.Info("firewall", "Revert: begin, entries=%d", len(m.entries))

	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]

		if e.touched {
			if err := m.store.Remove(e.name); err != nil {
				logger.Error("firewall", "Revert: remove '%s' failed: %v", e.name, err)
				errs = append(errs, fmt.Errorf("firewall: remove '%s': %w", e.name, err))
			}
		}

		if e.hadBefore {
			if err := m.restore(e.snapshot); err != nil {
				logger.Error("firewall", "Revert: restore '%s' failed: %v", e.snapshot.Name, err)
				errs = append(errs, fmt.Errorf("firewall: restore '%s': %w", e.snapshot.Name, err))
			}
		}
	}

	m.entries = nil
	m.applied = false

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Info("firewall", "Revert: done")
	return nil
}

func (m *Manager) restore(s Snapshot) error {
	if err := m.store.Remove(s.Name); err != nil {
		return err
	}
	return m.store.Add(&s)
}

// RemoveByPrefix deletes every rule whose name starts with prefix. Used
// by operators to clean stale state outside a session.
func (m *Manager) RemoveByPrefix(prefix string) error {
	if prefix == "" {
		return errors.New("firewall: empty prefix")
	}

	names, err := m.store.Names()
	if err != nil {
		return fmt.Errorf("firewall: enumerate rules: %w", err)
	}

	removed := 0
	var errs []error
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if err := m.store.Remove(name); err != nil {
			errs = append(errs, fmt.Errorf("firewall: remove '%s': %w", name, err))
			continue
		}
		removed++
	}
	logger.Info("firewall", "RemoveByPrefix: prefix='%s' removed=%d", prefix, removed)
	return errors.Join(errs...)
}

// Applied reports whether the manager currently holds live rules.
func (m *Manager) Applied() bool {
	return m.applied
}
