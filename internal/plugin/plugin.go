// Package plugin loads the transport module and bridges the data plane
// between it and the TUN adapter. The module is a shared library
// resolved by symbol name; its serve loop polls a signal-safe running
// flag to exit.
package plugin

// RecvFunc hands the plugin the next packet from the TUN adapter. It
// returns the packet length, 0 when no packet is pending, or -1 when the
// plugin's buffer is too small.
type RecvFunc func(buf []byte) int

// SendFunc delivers a packet from the transport into the TUN adapter. It
// returns the number of bytes accepted, or 0 when allocation fails.
type SendFunc func(data []byte) int

// Symbol names every transport module must export.
var requiredSymbols = []string{
	"Client_Connect",
	"Client_Disconnect",
	"Client_Serve",
	"Server_Bind",
	"Server_Serve",
}
