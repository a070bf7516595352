// Package rollback captures a baseline of the network state touched by a
// session and guarantees its restoration on teardown. The ledger is the
// single source of truth for what must be undone.
package rollback

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/flowforge/flowforge/internal/logger"
	"github.com/flowforge/flowforge/internal/netcfg"
)

// ErrNotCaptured is the logic error of reverting without a baseline.
var ErrNotCaptured = errors.New("rollback: revert without captured baseline")

// Reverter undoes a subsystem's recorded mutations.
type Reverter interface {
	Revert() error
}

// PartialFailure aggregates the step errors of a best-effort revert.
// Every step ran; these are the ones that failed.
type PartialFailure struct {
	errs []error
}

func (e *PartialFailure) Error() string {
	parts := make([]string, len(e.errs))
	for i, err := range e.errs {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("rollback: %d step(s) failed: %s", len(e.errs), strings.Join(parts, "; "))
}

// Unwrap exposes the step errors for errors.Is/As.
func (e *PartialFailure) Unwrap() []error {
	return e.errs
}

// Ledger holds the interface baseline and drives the ordered revert of
// routes, interface attributes, DNS bindings and firewall rules. It is
// owned and mutated by the session worker only.
type Ledger struct {
	routes *netcfg.Manager
	luid   uint64
	server netip.Addr

	dns Reverter
	fw  Reverter

	baseline map[netcfg.Family]netcfg.IfaceState
	captured bool
}

// Capture creates a ledger and snapshots the interface baseline for both
// families. At least one family must be readable. server may be the zero
// Addr when no pin will be installed; dns and fw may be nil.
func Capture(routes *netcfg.Manager, luid uint64, server netip.Addr, dns, fw Reverter) (*Ledger, error) {
	l := &Ledger{
		routes:   routes,
		luid:     luid,
		server:   server,
		dns:      dns,
		fw:       fw,
		baseline: make(map[netcfg.Family]netcfg.IfaceState),
	}

	for _, f := range []netcfg.Family{netcfg.V4, netcfg.V6} {
		st, err := routes.Table().Iface(luid, f)
		if err != nil {
			logger.Warning("rollback", "baseline %s not captured: %v", f, err)
			continue
		}
		l.baseline[f] = *st
		logger.Debug("rollback", "baseline %s: autoMetric=%v metric=%d mtu=%d",
			f, st.AutomaticMetric, st.Metric, st.MTU)
	}

	if len(l.baseline) == 0 {
		return nil, errors.New("rollback: failed to capture baseline (v4/v6)")
	}

	l.captured = true
	logger.Info("rollback", "baseline captured (luid=%d, families=%d)", luid, len(l.baseline))
	return l, nil
}

// SetServer replaces the server address used for pin removal.
func (l *Ledger) SetServer(server netip.Addr) {
	l.server = server
}

// HasBaseline reports whether the ledger holds an unconsumed baseline.
func (l *Ledger) HasBaseline() bool {
	return l.captured
}

// Revert undoes everything in LIFO order over what apply touched:
// split-default routes, the pinned server route, interface attributes,
// DNS bindings, firewall rules. Every step runs even when earlier ones
// fail; failures aggregate into a PartialFailure. The baseline is
// consumed either way.
func (l *Ledger) Revert() error {
	if !l.captured {
		logger.Error("rollback", "Revert called without baseline")
		return ErrNotCaptured
	}

	logger.Info("rollback", "revert: begin")
	var errs []error

	if err := l.routes.RemoveSplitDefaults(l.luid); err != nil {
		logger.Error("rollback", "remove split defaults: %v", err)
		errs = append(errs, fmt.Errorf("remove split defaults: %w", err))
	}

	if l.server.IsValid() {
		if err := l.routes.RemovePinnedHostRoute(l.server); err != nil {
			logger.Error("rollback", "remove pinned route: %v", err)
			errs = append(errs, fmt.Errorf("remove pinned route: %w", err))
		}
	} else {
		logger.Debug("rollback", "no server address, pin removal skipped")
	}

	for _, f := range []netcfg.Family{netcfg.V4, netcfg.V6} {
		st, ok := l.baseline[f]
		if !ok {
			continue
		}
		if err := l.routes.Table().RestoreIface(l.luid, f, st); err != nil {
			logger.Error("rollback", "restore %s baseline: %v", f, err)
			errs = append(errs, fmt.Errorf("restore %s baseline: %w", f, err))
		}
	}

	if l.dns != nil {
		if err := l.dns.Revert(); err != nil {
			logger.Error("rollback", "dns revert: %v", err)
			errs = append(errs, fmt.Errorf("dns revert: %w", err))
		}
	}

	if l.fw != nil {
		if err := l.fw.Revert(); err != nil {
			logger.Error("rollback", "firewall revert: %v", err)
			errs = append(errs, fmt.Errorf("firewall revert: %w", err))
		}
	}

	l.captured = false

	if len(errs) > 0 {
		return &PartialFailure{errs: errs}
	}
	logger.Info("rollback", "revert: done")
	return nil
}
