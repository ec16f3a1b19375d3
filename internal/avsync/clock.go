// Package avsync keeps video presentation locked to the playback clock. The
// clock follows the audio position when an audio tap is available and falls
// back to wall time for video-only streams; the synchronizer turns the gap
// between a frame's PTS and the clock into a display, hold, or drop decision.
package avsync

import (
	"sync"
	"time"
)

// AudioTap reports the audio playback position. Position returns ok=false
// when no audio is being rendered, which switches the clock to its wall-time
// fallback.
type AudioTap interface {
	Position() (time.Duration, bool)
}

// Clock is the playback time reference. Zero media time is anchored at
// construction or the last Reset.
type Clock struct {
	mu     sync.Mutex
	tap    AudioTap
	base   time.Duration
	anchor time.Time

	// nowFn is swappable for tests.
	nowFn func() time.Time
}

// NewClock builds a clock. tap may be nil for video-only playback.
func NewClock(tap AudioTap) *Clock {
	c := &Clock{tap: tap, nowFn: time.Now}
	c.anchor = c.nowFn()
	return c
}

// Now returns the current media time. The audio position wins whenever the
// tap reports one; otherwise media time advances with wall time from the
// last reset point.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tap != nil {
		if pos, ok := c.tap.Position(); ok {
			return pos
		}
	}
	return c.base + c.nowFn().Sub(c.anchor)
}

// Reset re-anchors media time, used after a seek.
func (c *Clock) Reset(to time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = to
	c.anchor = c.nowFn()
}
