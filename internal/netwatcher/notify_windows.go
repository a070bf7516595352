//go:build windows

package netwatcher

import (
	"fmt"

	"golang.zx2c4.com/wireguard/windows/tunnel/winipcfg"

	"github.com/flowforge/flowforge/internal/logger"
)

// osSubscribe registers the interface-change and route-change
// notifications; each callback kicks the watcher.
func osSubscribe(w *Watcher) (func(), error) {
	ifaceCb, err := winipcfg.RegisterInterfaceChangeCallback(
		func(notificationType winipcfg.MibNotificationType, iface *winipcfg.MibIPInterfaceRow) {
			w.Kick()
		})
	if err != nil {
		return nil, fmt.Errorf("netwatcher: NotifyIpInterfaceChange: %w", err)
	}

	routeCb, err := winipcfg.RegisterRouteChangeCallback(
		func(notificationType winipcfg.MibNotificationType, route *winipcfg.MibIPforwardRow2) {
			w.Kick()
		})
	if err != nil {
		ifaceCb.Unregister()
		return nil, fmt.Errorf("netwatcher: NotifyRouteChange2: %w", err)
	}

	logger.Debug("netwatcher", "interface and route change subscriptions armed")
	return func() {
		if err := ifaceCb.Unregister(); err != nil {
			logger.Warning("netwatcher", "interface notify cancel: %v", err)
		}
		if err := routeCb.Unregister(); err != nil {
			logger.Warning("netwatcher", "route notify cancel: %v", err)
		}
	}, nil
}
