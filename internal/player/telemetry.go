package player

import (
	"sync"
	"time"

	"github.com/kino-av/kino/internal/framequeue"
)

// fpsWindowSpan is the sliding window over which the current frame rate is
// computed.
const fpsWindowSpan = 2 * time.Second

// Snapshot is a point-in-time view of playback health, suitable for JSON
// serialization. All values are collected without pausing either task.
type Snapshot struct {
	Timestamp      int64             `json:"timestamp"`
	State          string            `json:"state"`
	Backend        string            `json:"backend"`
	FPS            float64           `json:"fps"`
	Displayed      uint64            `json:"displayed"`
	Dropped        uint64            `json:"dropped"`
	QueueDepth     int               `json:"queue_depth"`
	QueueCapacity  int               `json:"queue_capacity"`
	Queue          framequeue.Stats  `json:"queue"`
	Fallbacks      uint64            `json:"fallbacks"`
	FallbackReason string            `json:"fallback_reason,omitempty"`
	Degraded       bool              `json:"degraded"`
	PositionMs     int64             `json:"position_ms"`
}

// fpsMeter computes the current presentation rate from a sliding window of
// present times.
type fpsMeter struct {
	mu     sync.Mutex
	window []time.Time
}

func (m *fpsMeter) record(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window = append(m.window, now)
	cutoff := now.Add(-fpsWindowSpan)
	j := 0
	for j < len(m.window) && m.window[j].Before(cutoff) {
		j++
	}
	m.window = m.window[j:]
}

func (m *fpsMeter) rate(now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-fpsWindowSpan)
	n := 0
	for _, t := range m.window {
		if !t.Before(cutoff) {
			n++
		}
	}
	if n < 2 {
		return 0
	}
	span := m.window[len(m.window)-1].Sub(m.window[len(m.window)-n])
	if span <= 0 {
		return 0
	}
	return float64(n-1) / span.Seconds()
}

func (m *fpsMeter) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = m.window[:0]
}
