//go:build windows

package client

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"github.com/flowforge/flowforge/internal/config"
	"github.com/flowforge/flowforge/internal/dnsbind"
	"github.com/flowforge/flowforge/internal/elevate"
	"github.com/flowforge/flowforge/internal/firewall"
	"github.com/flowforge/flowforge/internal/logger"
	"github.com/flowforge/flowforge/internal/netcfg"
	"github.com/flowforge/flowforge/internal/netwatcher"
	"github.com/flowforge/flowforge/internal/plugin"
	"github.com/flowforge/flowforge/internal/rollback"
	"github.com/flowforge/flowforge/internal/tun"
)

// RulePrefix names every firewall rule this client owns.
const RulePrefix = "FlowForge"

// resolveServerAddr turns the config's server value into an IP address
// for the pinned route. Hostnames resolve through the current resolver;
// the first address wins, v4 preferred.
func resolveServerAddr(server string) (netip.Addr, error) {
	if a, err := netip.ParseAddr(server); err == nil {
		return a, nil
	}

	ips, err := net.LookupIP(server)
	if err != nil {
		return netip.Addr{}, err
	}
	var first netip.Addr
	for _, ip := range ips {
		a, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		a = a.Unmap()
		if a.Is4() {
			return a, nil
		}
		if !first.IsValid() {
			first = a
		}
	}
	if !first.IsValid() {
		return netip.Addr{}, fmt.Errorf("no usable addresses for '%s'", server)
	}
	return first, nil
}

// runSession is the session worker: it applies the network transaction,
// drives the plugin's serve loop until the working flag clears, and
// reverts everything recorded in the ledger on the way out.
func runSession(s *Session, configJSON string) int {
	logger.Info("client", "starting FlowForge session")

	if !elevate.IsAdmin() {
		logger.Error("client", "administrator rights are required")
		return 1
	}

	cfg, err := config.Parse([]byte(configJSON))
	if err != nil {
		logger.Error("client", "config: %v", err)
		return 1
	}

	server := config.StripBrackets(cfg.Server)
	logger.Debug("client", "args: tun=%s server=%s port=%d plugin=%s mtu=%d",
		cfg.Tun, server, cfg.Port, cfg.Plugin, cfg.MTU)

	plan, err := netcfg.NewPlan(cfg.Local4, cfg.Peer4, cfg.Local6, cfg.Peer6, cfg.MTU)
	if err != nil {
		logger.Error("client", "address plan: %v", err)
		return 1
	}

	serverAddr, err := resolveServerAddr(server)
	if err != nil {
		logger.Error("client", "cannot resolve server '%s': %v", server, err)
		return 1
	}
	logger.Info("client", "server address: %s", serverAddr)

	exePath, err := os.Executable()
	if err != nil {
		logger.Error("client", "executable path: %v", err)
		return 1
	}

	// Firewall first: if the transport cannot be allowed out, nothing
	// else gets mutated.
	fw := firewall.New(firewall.Config{
		RulePrefix:      RulePrefix,
		AppPath:         exePath,
		RemoteAddresses: firewall.ResolveRemoteAddresses(server),
	}, firewall.NewCOMStore())

	for _, proto := range []firewall.Protocol{firewall.TCP, firewall.UDP} {
		if err := fw.Allow(proto, uint16(cfg.Port)); err != nil {
			logger.Error("client", "firewall allow: %v", err)
			if rerr := fw.Revert(); rerr != nil {
				logger.Error("client", "firewall revert: %v", rerr)
			}
			return 1
		}
	}

	pl, err := plugin.Load(cfg.Plugin)
	if err != nil {
		logger.Error("client", "%v", err)
		fwRevert(fw)
		return 1
	}
	defer pl.Close()

	if err := tun.EnsureDriver(); err != nil {
		logger.Warning("client", "%v", err)
	}

	adapter, err := tun.Open(cfg.Tun)
	if err != nil {
		logger.Error("client", "%v", err)
		fwRevert(fw)
		return 1
	}
	defer adapter.Close()

	luid := adapter.LUID()
	routes := netcfg.NewManager(netcfg.NewSystemTable())
	binder := dnsbind.New(dnsbind.NewRegistryStore(luid), dnsbind.FlushResolverCache)

	ledger, err := rollback.Capture(routes, luid, serverAddr, binder, fw)
	if err != nil {
		logger.Error("client", "%v", err)
		fwRevert(fw)
		return 1
	}
	logger.Info("client", "baseline captured, rollback armed")
	defer func() {
		if ledger.HasBaseline() {
			if err := ledger.Revert(); err != nil {
				logger.Error("client", "revert: %v", err)
			}
		}
	}()

	// reapply drives both families; one family failing alone is
	// tolerated, both failing is fatal for the reconfiguration.
	reapply := func() {
		v4err := routes.ConfigureFamily(luid, plan, serverAddr, netcfg.V4)
		if v4err != nil {
			logger.Error("netwatcher", "IPv4 configure failed: %v", v4err)
		}
		v6err := routes.ConfigureFamily(luid, plan, serverAddr, netcfg.V6)
		if v6err != nil {
			logger.Error("netwatcher", "IPv6 configure failed: %v", v6err)
		}
		if v4err != nil && v6err != nil {
			logger.Error("netwatcher", "neither IPv4 nor IPv6 configured")
		}
	}
	reapply()

	if err := binder.Apply(cfg.DNS); err != nil {
		logger.Error("client", "%v", err)
		return 1 // deferred ledger revert unwinds routes and firewall
	}

	watcher := netwatcher.New(reapply, netwatcher.DefaultDebounce)
	if err := watcher.Start(); err != nil {
		logger.Error("client", "%v", err)
		return 1
	}
	defer watcher.Stop()

	if err := adapter.StartSession(); err != nil {
		logger.Error("client", "%v", err)
		return 1
	}
	defer adapter.EndSession()

	if !pl.ClientConnect([]byte(configJSON)) {
		logger.Error("client", "plugin Client_Connect failed")
		return 1
	}
	logger.Info("client", "connected to %s:%d", server, cfg.Port)
	defer pl.ClientDisconnect()

	rc := pl.ClientServe(adapter.RecvPacket, adapter.SendPacket, &s.working)

	logger.Info("client", "shutdown starting (rc=%d)", rc)
	return rc
}

func fwRevert(fw *firewall.Manager) {
	if err := fw.Revert(); err != nil {
		logger.Error("client", "firewall revert: %v", err)
	}
}
