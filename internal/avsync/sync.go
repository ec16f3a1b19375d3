package avsync

import (
	"sync"
	"sync/atomic"
	"time"
)

// Default timing bounds.
const (
	// DefaultTolerance is how far a frame may sit from the clock and still
	// be shown immediately.
	DefaultTolerance = 40 * time.Millisecond
	// DefaultDropThreshold is how late a frame must be before it is dropped
	// instead of shown.
	DefaultDropThreshold = 100 * time.Millisecond
	// DefaultDegradeDrops within DefaultDegradeWindow marks playback as
	// degraded in telemetry.
	DefaultDegradeDrops  = 8
	DefaultDegradeWindow = 2 * time.Second
)

// DecisionKind classifies what to do with a frame.
type DecisionKind int

// Decision kinds.
const (
	// Display presents the frame now.
	Display DecisionKind = iota
	// Hold waits Decision.Wait, then presents. A frame is never shown early.
	Hold
	// Drop discards the frame; it is too late to be worth showing.
	Drop
)

// String returns the decision name.
func (k DecisionKind) String() string {
	switch k {
	case Display:
		return "display"
	case Hold:
		return "hold"
	case Drop:
		return "drop"
	}
	return "unknown"
}

// Decision is the synchronizer's verdict for one frame. The verdict is
// final: the engine acts on it without re-evaluating the same frame.
type Decision struct {
	Kind DecisionKind
	// Wait is how long to hold before presenting. Set only for Hold.
	Wait time.Duration
}

// Options tunes a Synchronizer. Zero fields take the defaults above.
type Options struct {
	Tolerance     time.Duration
	DropThreshold time.Duration
	DegradeDrops  int
	DegradeWindow time.Duration
}

// Synchronizer compares frame PTS against the playback clock.
type Synchronizer struct {
	clock         *Clock
	tolerance     time.Duration
	dropThreshold time.Duration
	degradeDrops  int
	degradeWindow time.Duration

	displayed atomic.Uint64
	dropped   atomic.Uint64

	mu        sync.Mutex
	dropTimes []time.Time
	degraded  bool

	nowFn func() time.Time
}

// NewSynchronizer builds a synchronizer against the given clock.
func NewSynchronizer(clock *Clock, opts Options) *Synchronizer {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.DropThreshold <= 0 {
		opts.DropThreshold = DefaultDropThreshold
	}
	if opts.DegradeDrops <= 0 {
		opts.DegradeDrops = DefaultDegradeDrops
	}
	if opts.DegradeWindow <= 0 {
		opts.DegradeWindow = DefaultDegradeWindow
	}
	return &Synchronizer{
		clock:         clock,
		tolerance:     opts.Tolerance,
		dropThreshold: opts.DropThreshold,
		degradeDrops:  opts.DegradeDrops,
		degradeWindow: opts.DegradeWindow,
		nowFn:         time.Now,
	}
}

// Decide returns the presentation verdict for a frame with the given PTS.
// delta = pts - clock: within tolerance displays, ahead of the clock holds
// for the difference, behind by more than the drop threshold drops.
func (s *Synchronizer) Decide(pts time.Duration) Decision {
	delta := pts - s.clock.Now()

	switch {
	case delta > s.tolerance:
		return Decision{Kind: Hold, Wait: delta}
	case delta < -s.dropThreshold:
		s.recordDrop()
		return Decision{Kind: Drop}
	default:
		return Decision{Kind: Display}
	}
}

// MarkDisplayed records one frame actually handed to the sink. Called by the
// presenter after the sink accepts the frame, so held frames that a seek
// later discards are never counted.
func (s *Synchronizer) MarkDisplayed() {
	s.displayed.Add(1)
}

func (s *Synchronizer) recordDrop() {
	s.dropped.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	cutoff := now.Add(-s.degradeWindow)
	kept := s.dropTimes[:0]
	for _, t := range s.dropTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.dropTimes = append(kept, now)
	if len(s.dropTimes) > s.degradeDrops {
		s.degraded = true
	}
}

// Degraded reports whether the consecutive-drop window was exceeded at any
// point. Sticky until ResetDegraded; decode behavior is unaffected.
func (s *Synchronizer) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// ResetDegraded clears the degraded flag and the drop window, used on seek.
func (s *Synchronizer) ResetDegraded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = false
	s.dropTimes = s.dropTimes[:0]
}

// Displayed returns how many frames were presented.
func (s *Synchronizer) Displayed() uint64 { return s.displayed.Load() }

// Dropped returns how many frames were dropped.
func (s *Synchronizer) Dropped() uint64 { return s.dropped.Load() }
