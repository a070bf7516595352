package firewall

import (
	"net"
	"sort"

	"github.com/flowforge/flowforge/internal/logger"
)

// ResolveRemoteAddresses resolves a host (or IP literal) into the
// comma-joined, deduplicated address list used for a rule's remote
// address set. When resolution fails the literal itself is returned, so
// a rule can still be written for an IP the resolver does not know.
func ResolveRemoteAddresses(host string) string {
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		logger.Warning("firewall", "resolving '%s' failed, using literal", host)
		return host
	}

	seen := make(map[string]bool, len(ips))
	uniq := make([]string, 0, len(ips))
	for _, ip := range ips {
		s := ip.String()
		if !seen[s] {
			seen[s] = true
			uniq = append(uniq, s)
		}
	}
	sort.Strings(uniq)

	return joinComma(uniq)
}

func joinComma(list []string) string {
	out := ""
	for i, s := range list {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
