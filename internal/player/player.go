// Package player runs playback: a decode task feeding the frame queue and a
// presentation task draining it against the playback clock. The two tasks
// share nothing but the queue and the clock.
package player

import (
	"errors"
	"time"

	"github.com/kino-av/kino/media"
)

// Playback errors.
var (
	// ErrSeekOutOfRange is returned for a seek target outside the stream.
	// Position and active backend are unchanged.
	ErrSeekOutOfRange = errors.New("player: seek out of range")

	// ErrTooManyCorrupt ends playback after a long unbroken run of
	// undecodable packets.
	ErrTooManyCorrupt = errors.New("player: too many consecutive corrupt packets")

	// ErrNotRunning is returned by operations that need a live engine.
	ErrNotRunning = errors.New("player: engine not running")
)

// Source delivers the compressed bitstream. Implementations sit over a file
// demuxer or a synthetic generator; ReadPacket returns io.EOF at end of
// stream. Seek repositions so the next packet is a keyframe at or before the
// target timestamp.
type Source interface {
	ReadPacket() (*media.Packet, error)
	Seek(ts time.Duration) error
	Duration() time.Duration
}

// Sink renders frames. Present blocks until the frame is consumed or the
// deadline passes; the frame buffer must not be retained after Present
// returns.
type Sink interface {
	Present(f *media.Frame, deadline time.Time) error
}
