// Shared-library build of the FlowForge client. Build with
// `go build -buildmode=c-shared` to get the flat C ABI consumed by
// host applications.
package main

/*
#include <stdint.h>
*/
import "C"

import (
	"github.com/flowforge/flowforge/internal/client"
	"github.com/flowforge/flowforge/internal/logger"
)

//export Start
func Start(cfg *C.char) C.int32_t {
	// A nil config still starts the worker, which logs the parse
	// failure and exits; the flat ABI only reports "already running".
	text := ""
	if cfg != nil {
		text = C.GoString(cfg)
	}
	return C.int32_t(client.Start(text))
}

//export Stop
func Stop() C.int32_t {
	return C.int32_t(client.Stop())
}

//export IsRunning
func IsRunning() C.int32_t {
	return C.int32_t(client.IsRunning())
}

func init() {
	if err := logger.Init(""); err != nil {
		// The library keeps working without a log file.
		_ = err
	}
}

func main() {}
