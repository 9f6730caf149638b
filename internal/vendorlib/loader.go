// Package vendorlib resolves a fixed set of function symbols from a vendor
// TEE client-library shared object into per-backend dispatch tables. Loading
// is the one place this repository reaches past the Go standard library into
// cgo: there is no pure-Go way to dlopen/dlsym a shared object at runtime,
// and no such wrapper exists anywhere in the example pack (see DESIGN.md).
package vendorlib

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/behrlich/tee-executor/internal/logging"
)

// Library owns a dlopen'd shared object and the subset of its exported
// symbols resolved for one backend's dispatch table.
type Library struct {
	path    string
	handle  unsafe.Pointer
	symbols map[string]unsafe.Pointer
}

// Load opens the shared object at path and resolves every name in required.
// If any symbol is missing, the library is unloaded and an error returned
// (spec §4.3: "Any missing symbol unloads the library and fails").
func Load(path string, required []string) (*Library, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	handle := C.dlopen(cPath, C.RTLD_NOW)
	if handle == nil {
		return nil, fmt.Errorf("vendorlib: dlopen %s: %s", path, C.GoString(C.dlerror()))
	}

	lib := &Library{
		path:    path,
		handle:  handle,
		symbols: make(map[string]unsafe.Pointer, len(required)),
	}

	for _, name := range required {
		cName := C.CString(name)
		sym := C.dlsym(handle, cName)
		C.free(unsafe.Pointer(cName))
		if sym == nil {
			logging.Default().Error("vendor symbol missing, unloading library", "lib", path, "symbol", name)
			_ = lib.Close()
			return nil, fmt.Errorf("vendorlib: missing symbol %q in %s", name, path)
		}
		lib.symbols[name] = unsafe.Pointer(sym)
	}

	logging.Default().Info("vendor library loaded", "lib", path, "symbols", len(required))
	return lib, nil
}

// Symbol returns the resolved function pointer for name, or nil if it was
// not requested at Load time.
func (l *Library) Symbol(name string) unsafe.Pointer {
	return l.symbols[name]
}

// Path returns the shared object path this Library was loaded from.
func (l *Library) Path() string {
	return l.path
}

// Close unloads the shared object. Safe to call more than once.
func (l *Library) Close() error {
	if l.handle == nil {
		return nil
	}
	if C.dlclose(l.handle) != 0 {
		return fmt.Errorf("vendorlib: dlclose %s: %s", l.path, C.GoString(C.dlerror()))
	}
	l.handle = nil
	return nil
}
