//go:build windows

package plugin

import (
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/flowforge/flowforge/internal/logger"
)

// Plugin is a loaded transport module with its five symbols resolved.
type Plugin struct {
	dll   *windows.DLL
	procs map[string]*windows.Proc
}

// Load loads the module at path and resolves the required symbols.
// Missing any of them is a load failure.
func Load(path string) (*Plugin, error) {
	dll, err := windows.LoadDLL(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: load '%s': %w", path, err)
	}

	p := &Plugin{dll: dll, procs: make(map[string]*windows.Proc, len(requiredSymbols))}
	for _, sym := range requiredSymbols {
		proc, err := dll.FindProc(sym)
		if err != nil {
			dll.Release()
			return nil, fmt.Errorf("plugin: missing symbol '%s' in '%s': %w", sym, path, err)
		}
		p.procs[sym] = proc
	}

	logger.Info("plugin", "loaded: %s", path)
	return p, nil
}

// Close unloads the module.
func (p *Plugin) Close() {
	if p.dll != nil {
		p.dll.Release()
		p.dll = nil
		logger.Debug("plugin", "unloaded")
	}
}

// ClientConnect passes the raw JSON config to the module and reports
// whether it established its transport.
func (p *Plugin) ClientConnect(configJSON []byte) bool {
	cstr := append(append([]byte{}, configJSON...), 0)
	ret, _, _ := p.procs["Client_Connect"].Call(uintptr(unsafe.Pointer(&cstr[0])))
	runtime.KeepAlive(cstr)
	return ret != 0
}

// ClientDisconnect tears the module's transport down.
func (p *Plugin) ClientDisconnect() {
	p.procs["Client_Disconnect"].Call()
}

// The serve trampolines are created once per process: callbacks made
// with NewCallback are never released, and only one serve loop runs at
// a time.
var (
	bridgeMu   sync.Mutex
	bridgeRecv RecvFunc
	bridgeSend SendFunc

	recvTrampoline uintptr
	sendTrampoline uintptr
	trampolineOnce sync.Once
)

const maxPacket = 0x10000

func initTrampolines() {
	recvTrampoline = syscall.NewCallback(func(buf, size uintptr) uintptr {
		if bridgeRecv == nil || size == 0 {
			return 0
		}
		if size > maxPacket {
			size = maxPacket
		}
		b := unsafe.Slice((*byte)(unsafe.Pointer(buf)), size)
		n := bridgeRecv(b)
		if n < 0 {
			return ^uintptr(0) // -1: caller's buffer too small
		}
		return uintptr(n)
	})
	sendTrampoline = syscall.NewCallback(func(buf, size uintptr) uintptr {
		if bridgeSend == nil || size == 0 {
			return 0
		}
		if size > maxPacket {
			size = maxPacket
		}
		b := unsafe.Slice((*byte)(unsafe.Pointer(buf)), size)
		return uintptr(bridgeSend(b))
	})
}

// ClientServe runs the module's serve loop until *running becomes zero.
// recv feeds it packets from the TUN adapter; send returns packets into
// the adapter. The return value is the module's exit code.
func (p *Plugin) ClientServe(recv RecvFunc, send SendFunc, running *int32) int {
	bridgeMu.Lock()
	defer bridgeMu.Unlock()

	trampolineOnce.Do(initTrampolines)
	bridgeRecv = recv
	bridgeSend = send
	defer func() {
		bridgeRecv = nil
		bridgeSend = nil
	}()

	logger.Info("plugin", "serve loop started")
	ret, _, _ := p.procs["Client_Serve"].Call(
		recvTrampoline,
		sendTrampoline,
		uintptr(unsafe.Pointer(running)),
	)
	rc := int(int32(ret))
	logger.Info("plugin", "serve loop exited rc=%d", rc)
	return rc
}
