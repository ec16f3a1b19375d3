//go:build !windows

package decoder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ebitengine/purego"
)

// driverHandle is a dlopen'd vendor decode library. Hardware backends probe
// by loading the library and resolving the entry points they need; a system
// without the driver fails here and the backend reports ErrUnsupported.
type driverHandle struct {
	Path   string
	handle uintptr
}

// openDriver tries each candidate path in order, requiring every listed
// symbol to resolve. The first path that loads wins.
func openDriver(paths []string, symbols []string) (*driverHandle, error) {
	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		ok := true
		for _, sym := range symbols {
			if _, err := purego.Dlsym(handle, sym); err != nil {
				lastErr = fmt.Errorf("%s: missing symbol %s: %w", path, sym, err)
				ok = false
				break
			}
		}
		if !ok {
			purego.Dlclose(handle)
			continue
		}
		return &driverHandle{Path: path, handle: handle}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate paths")
	}
	return nil, lastErr
}

// Close releases the library handle.
func (d *driverHandle) Close() error {
	if d.handle == 0 {
		return nil
	}
	err := purego.Dlclose(d.handle)
	d.handle = 0
	return err
}

// driverSearchPaths builds the candidate list for a driver library name:
// an env override first, then the bare soname for the system loader, then
// the usual Linux library directories.
func driverSearchPaths(envVar, libName string) []string {
	var paths []string
	if p := os.Getenv(envVar); p != "" {
		paths = append(paths, p)
	}
	paths = append(paths,
		libName,
		filepath.Join("/usr/lib/x86_64-linux-gnu", libName),
		filepath.Join("/usr/lib64", libName),
		filepath.Join("/usr/lib", libName),
		filepath.Join("/usr/local/lib", libName),
	)
	return paths
}
