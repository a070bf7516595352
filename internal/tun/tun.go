// Package tun wraps the WinTUN adapter: lifecycle, the packet ring
// session, and the per-packet primitives the transport plugin bridges to.
package tun

import (
	"github.com/flowforge/flowforge/internal/logger"
)

// RingCapacity is the WinTUN session ring size.
const RingCapacity = 0x20000

// tracePacket logs direction and IP version of a packet at debug level.
func tracePacket(data []byte, direction string) {
	if len(data) < 20 {
		return
	}

	switch version := data[0] >> 4; version {
	case 4:
		logger.Debug("tun", "[%s] IPv4: %d.%d.%d.%d -> %d.%d.%d.%d (len=%d)",
			direction,
			data[12], data[13], data[14], data[15],
			data[16], data[17], data[18], data[19],
			len(data))
	case 6:
		logger.Debug("tun", "[%s] IPv6 packet (len=%d)", direction, len(data))
	default:
		logger.Warning("tun", "[%s] unknown packet version=%d (len=%d)", direction, version, len(data))
	}
}
