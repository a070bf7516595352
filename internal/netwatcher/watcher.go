// Package netwatcher reacts to OS route and interface changes: it
// debounces bursts of change notifications and invokes a reconfigure
// callback once the network has been quiet for the debounce window.
package netwatcher

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowforge/flowforge/internal/logger"
)

// DefaultDebounce is the quiet window required before a reapply.
const DefaultDebounce = 1000 * time.Millisecond

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("netwatcher: already started")

// Watcher owns one worker goroutine and two OS change subscriptions.
// Kick coalescing follows auto-reset event semantics: any number of
// kicks during the debounce window collapse into one reapply.
type Watcher struct {
	reapply  func()
	debounce time.Duration

	kick chan struct{}
	stop chan struct{}
	done chan struct{}

	// suppressUntil is a monotonic deadline (ns since watcher creation);
	// kicks arriving before it are dropped.
	suppressUntil atomic.Int64
	epoch         time.Time
	nowFn         func() time.Duration

	// subscribe arms the OS notifications and returns their cancel.
	subscribe func(w *Watcher) (func(), error)

	mu        sync.Mutex
	started   bool
	stopped   bool
	unsubOnce sync.Once
	unsub     func()
}

// ErrStopped is returned when a stopped watcher is started again; a
// watcher is one-shot, create a new one instead.
var ErrStopped = errors.New("netwatcher: watcher already stopped")

// New creates a watcher that calls reapply after each debounced burst.
// A non-positive debounce falls back to DefaultDebounce.
func New(reapply func(), debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{
		reapply:   reapply,
		debounce:  debounce,
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		epoch:     time.Now(),
		subscribe: osSubscribe,
	}
	w.nowFn = func() time.Duration { return time.Since(w.epoch) }
	return w
}

// Start subscribes to OS change notifications and launches the worker.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}
	if w.stopped {
		return ErrStopped
	}

	unsub, err := w.subscribe(w)
	if err != nil {
		return err
	}
	w.unsub = unsub
	w.unsubOnce = sync.Once{}

	logger.SafeGo("netwatcher", w.run)
	w.started = true
	logger.Info("netwatcher", "started (debounce=%s)", w.debounce)
	return nil
}

// Kick signals that the network changed. Kicks within the suppression
// window are dropped; the rest coalesce into the pending wakeup.
func (w *Watcher) Kick() {
	if int64(w.nowFn()) < w.suppressUntil.Load() {
		return
	}
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Suppress drops every kick arriving within the next d.
func (w *Watcher) Suppress(d time.Duration) {
	w.suppressUntil.Store(int64(w.nowFn() + d))
}

// Stop cancels the subscriptions and joins the worker. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.stopped = true
	if w.unsub != nil {
		w.unsubOnce.Do(w.unsub)
	}
	close(w.stop)
	w.mu.Unlock()

	<-w.done
	logger.Info("netwatcher", "stopped")
}

// IsRunning reports whether the worker is live.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *Watcher) run() {
	defer close(w.done)

	for {
		select {
		case <-w.stop:
			return
		case <-w.kick:
			logger.Debug("netwatcher", "kick received, debouncing %s", w.debounce)
			if !w.quietWait() {
				return
			}
			logger.Info("netwatcher", "debounce elapsed, reapplying")
			// Ignore the notifications our own mutations raise.
			w.Suppress(w.debounce)
			w.invoke()
		}
	}
}

// quietWait blocks until the kick stream has been silent for the
// debounce window; every extra kick restarts the wait. Returns false
// when the watcher is stopping.
func (w *Watcher) quietWait() bool {
	timer := time.NewTimer(w.debounce)
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return false
		case <-w.kick:
			logger.Debug("netwatcher", "extra kick during debounce")
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			return true
		}
	}
}

// invoke runs reapply; a panic or error must never kill the worker.
func (w *Watcher) invoke() {
	defer logger.Recover("netwatcher.reapply")
	if w.reapply != nil {
		w.reapply()
	}
}
