// Package dnsbind binds per-interface DNS resolver lists in the system's
// persistent configuration and restores the prior values on revert.
package dnsbind

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/flowforge/flowforge/internal/logger"
	"github.com/flowforge/flowforge/internal/netcfg"
)

// Store is the persistent per-interface, per-family resolver binding.
// Read distinguishes "no value stored" (present=false) from "stored
// empty" (present=true, value "").
type Store interface {
	Read(f netcfg.Family) (value string, present bool, err error)
	Write(f netcfg.Family, value string) error
	Delete(f netcfg.Family) error
}

// Flusher empties the OS resolver cache. Best effort; failures ignored.
type Flusher func()

// Binder applies a resolver list to one interface and remembers what it
// replaced so Revert can restore it exactly.
type Binder struct {
	store Store
	flush Flusher

	applied     bool
	touched     map[netcfg.Family]bool
	prev        map[netcfg.Family]string
	prevPresent map[netcfg.Family]bool
}

// New creates a binder over the given store. flush may be nil.
func New(store Store, flush Flusher) *Binder {
	return &Binder{
		store:       store,
		flush:       flush,
		touched:     make(map[netcfg.Family]bool),
		prev:        make(map[netcfg.Family]string),
		prevPresent: make(map[netcfg.Family]bool),
	}
}

// JoinServers comma-joins resolver addresses for the stored value.
func JoinServers(servers []string) string {
	return strings.Join(servers, ",")
}

// classify splits the input into per-family lists, rejecting anything
// that is not an IP literal.
func classify(servers []string) (v4, v6 []string, err error) {
	for _, s := range servers {
		a, perr := netip.ParseAddr(s)
		if perr != nil {
			return nil, nil, fmt.Errorf("dns: invalid IP address '%s': %w", s, perr)
		}
		if netcfg.FamilyOf(a) == netcfg.V4 {
			v4 = append(v4, s)
		} else {
			v6 = append(v6, s)
		}
	}
	return v4, v6, nil
}

// Apply writes the resolver lists. An empty family list leaves that
// family untouched; an empty input or an invalid address aborts without
// writing anything. A second Apply on an applied binder is a no-op.
func (b *Binder) Apply(servers []string) error {
	if b.applied {
		logger.Debug("dns", "Apply: already applied, skipping")
		return nil
	}
	if len(servers) == 0 {
		return errors.New("dns: servers list is empty")
	}

	v4, v6, err := classify(servers)
	if err != nil {
		return err
	}
	logger.Debug("dns", "Apply: parsed v4=%d v6=%d", len(v4), len(v6))

	byFamily := map[netcfg.Family][]string{netcfg.V4: v4, netcfg.V6: v6}
	for _, f := range []netcfg.Family{netcfg.V4, netcfg.V6} {
		val, present, err := b.store.Read(f)
		if err != nil {
			return fmt.Errorf("dns: read %s binding: %w", f, err)
		}
		b.prev[f] = val
		b.prevPresent[f] = present
	}

	for _, f := range []netcfg.Family{netcfg.V4, netcfg.V6} {
		list := byFamily[f]
		if len(list) == 0 {
			continue
		}
		if err := b.store.Write(f, JoinServers(list)); err != nil {
			return fmt.Errorf("dns: write %s binding: %w", f, err)
		}
		b.touched[f] = true
		logger.Info("dns", "resolvers bound: %s -> %s", f, JoinServers(list))
	}

	b.doFlush()
	b.applied = true
	return nil
}

// Revert restores the prior value of each touched family: the old value
// when one was present, deletion otherwise. Failures on one family do
// not stop the other; the result aggregates them.
func (b *Binder) Revert() error {
	if !b.applied {
		logger.Debug("dns", "Revert: nothing to do")
		return nil
	}

	var errs []error
	for _, f := range []netcfg.Family{netcfg.V4, netcfg.V6} {
		if !b.touched[f] {
			continue
		}
		var err error
		if b.prevPresent[f] {
			err = b.store.Write(f, b.prev[f])
		} else {
			err = b.store.Delete(f)
		}
		if err != nil {
			logger.Error("dns", "Revert: %s restore failed: %v", f, err)
			errs = append(errs, fmt.Errorf("dns: restore %s binding: %w", f, err))
			continue
		}
		logger.Debug("dns", "Revert: restored %s binding", f)
	}

	b.doFlush()

	b.applied = false
	b.touched = make(map[netcfg.Family]bool)
	b.prev = make(map[netcfg.Family]string)
	b.prevPresent = make(map[netcfg.Family]bool)

	return errors.Join(errs...)
}

// Applied reports whether the binder currently holds live bindings.
func (b *Binder) Applied() bool {
	return b.applied
}

func (b *Binder) doFlush() {
	if b.flush != nil {
		b.flush()
	}
}
