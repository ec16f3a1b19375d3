// Package framequeue provides the bounded, PTS-ordered frame buffer between
// the decode task and the presentation task. It is the only shared frame
// store in the pipeline; capacity is fixed at construction and overflow is
// reported, never absorbed by dropping.
package framequeue

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kino-av/kino/media"
)

// ErrQueueFull is returned by Push when the queue is at capacity. The caller
// owns backpressure policy; the queue never discards a frame on its own.
var ErrQueueFull = errors.New("framequeue: queue full")

// DefaultCapacity is used when the configured capacity is not positive.
const DefaultCapacity = 16

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Pushed    uint64 `json:"pushed"`
	Popped    uint64 `json:"popped"`
	Flushed   uint64 `json:"flushed"`
	HighWater int    `json:"high_water"`
}

// Queue is a bounded frame buffer ordered by presentation timestamp. Safe for
// concurrent use; in the pipeline there is one producer and one consumer.
type Queue struct {
	mu     sync.Mutex
	frames []*media.Frame
	cap    int

	pushed    uint64
	popped    uint64
	flushed   uint64
	highWater int
}

// New creates a queue holding at most capacity frames.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		frames: make([]*media.Frame, 0, capacity),
		cap:    capacity,
	}
}

// Push inserts a frame in PTS order. Returns ErrQueueFull at capacity; the
// queue contents are untouched in that case.
func (q *Queue) Push(f *media.Frame) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) >= q.cap {
		return ErrQueueFull
	}

	// Decoders emit in presentation order almost always, so the common case
	// is an append. B-frame reordering lands slightly out of order and gets
	// an insertion-sort step.
	idx := len(q.frames)
	if idx > 0 && q.frames[idx-1].PTS > f.PTS {
		idx = sort.Search(len(q.frames), func(i int) bool {
			return q.frames[i].PTS > f.PTS
		})
	}
	q.frames = append(q.frames, nil)
	copy(q.frames[idx+1:], q.frames[idx:])
	q.frames[idx] = f

	q.pushed++
	if len(q.frames) > q.highWater {
		q.highWater = len(q.frames)
	}
	return nil
}

// Pop removes and returns the lowest-PTS frame.
func (q *Queue) Pop() (*media.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	copy(q.frames, q.frames[1:])
	q.frames = q.frames[:len(q.frames)-1]
	q.popped++
	return f, true
}

// Peek returns the PTS of the next frame without removing it.
func (q *Queue) Peek() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return 0, false
	}
	return q.frames[0].PTS, true
}

// Flush atomically discards all buffered frames and returns how many were
// dropped. Used on seek and teardown.
func (q *Queue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.frames)
	for i := range q.frames {
		q.frames[i] = nil
	}
	q.frames = q.frames[:0]
	q.flushed += uint64(n)
	return n
}

// Len returns the current depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return q.cap }

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pushed:    q.pushed,
		Popped:    q.popped,
		Flushed:   q.flushed,
		HighWater: q.highWater,
	}
}
