//go:build !windows

package netwatcher

// osSubscribe is a no-op off Windows; kicks only arrive via Kick.
func osSubscribe(w *Watcher) (func(), error) {
	return func() {}, nil
}
