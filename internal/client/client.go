// Package client orchestrates one VPN session: firewall allow, TUN
// bring-up, the network apply/revert transaction, and the transport
// plugin's serve loop. A flat Start/Stop/IsRunning surface mirrors the
// shared-library ABI; internally everything hangs off a Session value.
package client

import (
	"sync"
	"sync/atomic"

	"github.com/flowforge/flowforge/internal/logger"
)

// Flat ABI status codes.
const (
	StatusOK             int32 = 0
	StatusAlreadyRunning int32 = -1
	StatusNotRunning     int32 = -2
)

// Session owns the lifecycle of one client connection.
type Session struct {
	mu      sync.Mutex
	running atomic.Bool

	// working is polled by the plugin's serve loop with signal-safe
	// semantics: Stop (and signal handlers) clear it, the loop exits.
	working int32

	exitCode atomic.Int32
	done     chan struct{}
}

// NewSession creates an idle session.
func NewSession() *Session {
	s := &Session{}
	s.done = make(chan struct{})
	close(s.done) // idle: Done() never blocks
	return s
}

// Start launches the background worker running the full
// apply → serve → revert sequence. It returns StatusAlreadyRunning when
// a session is live, StatusOK otherwise; it never blocks on the session
// itself. Configuration problems surface in the log and through Done.
func (s *Session) Start(configJSON string) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return StatusAlreadyRunning
	}

	atomic.StoreInt32(&s.working, 1)
	s.exitCode.Store(0)
	s.done = make(chan struct{})
	s.running.Store(true)

	done := s.done
	logger.SafeGo("session", func() {
		rc := runSession(s, configJSON)
		s.exitCode.Store(int32(rc))
		s.running.Store(false)
		close(done)
	})

	return StatusOK
}

// Stop clears the running flag so the plugin's serve loop exits; the
// worker then reverts everything. Returns immediately.
func (s *Session) Stop() int32 {
	if !s.running.Load() {
		return StatusNotRunning
	}

	atomic.StoreInt32(&s.working, 0)

	// Detached joiner: observe the worker finishing without blocking
	// the caller.
	done := s.Done()
	logger.SafeGo("session-join", func() {
		<-done
		logger.Info("client", "session worker joined")
	})

	return StatusOK
}

// IsRunning returns 1 while the worker is live, 0 otherwise.
func (s *Session) IsRunning() int32 {
	if s.running.Load() {
		return 1
	}
	return 0
}

// Done returns a channel closed when the current worker has finished
// (including its revert).
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// ExitCode returns the last worker's exit code (the plugin's serve
// return, or 1 for setup failures).
func (s *Session) ExitCode() int {
	return int(s.exitCode.Load())
}

// std backs the flat shared-library ABI.
var std = NewSession()

// Start starts the process-wide session. 0 ok; -1 already running.
func Start(configJSON string) int32 {
	return std.Start(configJSON)
}

// Stop stops the process-wide session. 0 ok; -2 not running.
func Stop() int32 {
	return std.Stop()
}

// IsRunning reports the process-wide session state as 0 or 1.
func IsRunning() int32 {
	return std.IsRunning()
}

// Default returns the process-wide session consumed by the CLI.
func Default() *Session {
	return std
}
