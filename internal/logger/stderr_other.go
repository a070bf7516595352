//go:build !windows

package logger

import (
	"os"
)

// redirectStderr points the process stderr at the log file so runtime
// panics land there instead of a lost console.
func redirectStderr(f *os.File) {
	os.Stderr = f
}
