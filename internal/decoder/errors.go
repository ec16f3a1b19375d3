package decoder

import (
	"errors"
	"fmt"
)

// Sentinel errors for the decode path. Callers distinguish failure classes
// with errors.Is; the selector's fallback logic is driven entirely by these.
var (
	// ErrUnsupported means the backend cannot handle the requested
	// codec/profile/resolution. Not retryable; the selector moves on to the
	// next backend.
	ErrUnsupported = errors.New("decoder: unsupported stream")

	// ErrTransientDevice is a recoverable hardware hiccup. Retried in place a
	// bounded number of times before escalating to ErrFatalDevice.
	ErrTransientDevice = errors.New("decoder: transient device error")

	// ErrFatalDevice means the device or driver session is lost. Triggers
	// hardware-to-software fallback; never retried against the same session.
	ErrFatalDevice = errors.New("decoder: fatal device error")

	// ErrCorruptPacket marks a single undecodable input packet. The packet is
	// skipped; a long run of corrupt packets escalates to a stream error.
	ErrCorruptPacket = errors.New("decoder: corrupt packet")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("decoder: session closed")
)

// DeviceError wraps a vendor-level failure with the backend it came from and
// the operation that failed, while preserving the sentinel class via Unwrap.
type DeviceError struct {
	Backend string
	Op      string
	Err     error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("decoder: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
