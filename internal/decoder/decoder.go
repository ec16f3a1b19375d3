// Package decoder abstracts over heterogeneous video decode backends, both
// vendor hardware sessions and the portable software decoder, behind a
// single capability-probed contract, and selects between them at runtime
// with one-way hardware-to-software fallback.
package decoder

import (
	"context"
	"fmt"
	"time"

	"github.com/kino-av/kino/media"
)

// StreamParams describes the stream a session is opened for. A session only
// accepts packets matching these parameters; a mid-stream parameter change
// requires reopening.
type StreamParams struct {
	Codec  media.Codec
	Width  int
	Height int
	// FrameRate is the nominal stream rate, used for frame duration
	// assignment when the bitstream carries no per-frame duration.
	FrameRate float64
	// ExtraData carries codec initialization data (e.g. SPS/PPS) when the
	// container provides it out of band.
	ExtraData []byte
}

// FrameInterval returns the nominal duration of one frame.
func (p StreamParams) FrameInterval() time.Duration {
	if p.FrameRate <= 0 {
		return 33333 * time.Microsecond
	}
	return time.Duration(float64(time.Second) / p.FrameRate)
}

// CodecLimit is the maximum decodable envelope for one codec on a backend.
type CodecLimit struct {
	MaxWidth  int
	MaxHeight int
}

// Capability describes what a backend can decode. Built once during probing
// and never mutated afterwards.
type Capability struct {
	Backend string
	Class   media.DecoderClass
	Codecs  map[media.Codec]CodecLimit
}

// Supports reports whether the capability envelope covers the given stream.
func (c Capability) Supports(p StreamParams) bool {
	limit, ok := c.Codecs[p.Codec]
	if !ok {
		return false
	}
	return p.Width <= limit.MaxWidth && p.Height <= limit.MaxHeight
}

// Backend is a concrete decoder implementation. Probe is called once at
// startup; Open creates an isolated decode session. Backends are stateless
// between sessions; live playback and benchmarking never share a session.
type Backend interface {
	// ID returns the stable backend identifier (e.g. "nvdec", "software").
	ID() string

	// Probe detects availability and returns the capability envelope.
	// Returns ErrUnsupported when the backend cannot run on this system.
	Probe(ctx context.Context) (Capability, error)

	// Open creates a decode session for the given stream. Returns
	// ErrUnsupported if the stream falls outside the probed envelope.
	Open(ctx context.Context, params StreamParams) (Session, error)
}

// Session is a single decode stream. Submit and Retrieve form a poll-based
// pipeline: Retrieve returning (nil, false) means no frame is ready yet, not
// an error. Close releases all device and buffer resources and is safe to
// call more than once.
type Session interface {
	Submit(ctx context.Context, pkt *media.Packet) error
	Retrieve() (*media.Frame, bool)
	Flush() []*media.Frame
	Close() error
}

// validateOpen is the shared open-time capability check used by every
// backend implementation.
func validateOpen(cap Capability, params StreamParams) error {
	if params.Width <= 0 || params.Height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrUnsupported, params.Width, params.Height)
	}
	if !cap.Supports(params) {
		return fmt.Errorf("%w: %s %s %dx%d outside %s envelope",
			ErrUnsupported, cap.Backend, params.Codec, params.Width, params.Height, cap.Class)
	}
	return nil
}
