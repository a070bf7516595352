//go:build !windows

package client

import "github.com/flowforge/flowforge/internal/logger"

// runSession is a stub off Windows; the control plane targets the
// Windows routing, DNS and firewall stores.
func runSession(s *Session, configJSON string) int {
	logger.Error("client", "this build targets Windows only")
	return 1
}
