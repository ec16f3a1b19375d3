package decoder

import "errors"

// Vendor decode drivers are loaded through dlopen, which is unavailable on
// Windows. Hardware probing reports unsupported there and playback uses the
// software path.

type driverHandle struct {
	Path string
}

func openDriver(paths []string, symbols []string) (*driverHandle, error) {
	return nil, errors.New("dynamic driver loading not supported on windows")
}

func (d *driverHandle) Close() error { return nil }

func driverSearchPaths(envVar, libName string) []string { return nil }
