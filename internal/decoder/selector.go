package decoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/kino-av/kino/media"
)

// Mode controls backend selection policy.
type Mode int

// Selection modes.
const (
	// ModeAuto prefers hardware and falls back to software.
	ModeAuto Mode = iota
	// ModeForceHardware never uses the software path; no hardware means failure.
	ModeForceHardware
	// ModeForceSoftware skips hardware probing entirely.
	ModeForceSoftware
)

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "auto":
		return ModeAuto, nil
	case "force-hardware", "hardware":
		return ModeForceHardware, nil
	case "force-software", "software":
		return ModeForceSoftware, nil
	}
	return ModeAuto, fmt.Errorf("unknown decode mode %q", s)
}

// State is the selector lifecycle state. Transitions are one-way:
// Probing → HardwareActive → (SoftwareActive | Failed), or
// Probing → SoftwareActive → Failed. A session never moves back to hardware.
type State int32

// Selector states.
const (
	StateProbing State = iota
	StateHardwareActive
	StateSoftwareActive
	StateFailed
)

// String returns the state name used in logs and telemetry.
func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateHardwareActive:
		return "hardware_active"
	case StateSoftwareActive:
		return "software_active"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// transientRetryDelay spaces in-place retries of a transient device error.
const transientRetryDelay = 25 * time.Millisecond

// SelectorConfig configures a Selector. Zero values give auto mode with
// fallback enabled and the default retry limit.
type SelectorConfig struct {
	Mode            Mode
	FallbackEnabled bool
	// RetryLimit bounds in-place retries of a transient device error before
	// it escalates to fatal. Zero means the default of 3.
	RetryLimit int
	// Hardware overrides the default hardware probe order (NVDEC, AMF,
	// VA-API). Used by tests and restricted deployments.
	Hardware []Backend
	// Software overrides the default software backend.
	Software Backend
}

// Selector owns the active decode session and drives hardware-to-software
// fallback. It satisfies Session itself so the playback engine talks to one
// object regardless of which backend is live underneath.
type Selector struct {
	mode            Mode
	fallbackEnabled bool
	retryLimit      int
	hardware        []Backend
	software        Backend
	log             *slog.Logger

	state     atomic.Int32
	fallbacks atomic.Uint64

	mu      sync.Mutex
	active  Backend
	session Session
	params  StreamParams
	// carry holds frames flushed from a dying hardware session, served ahead
	// of the replacement session's output so no decoded frame is lost.
	carry          []*media.Frame
	fallbackReason string
	closed         bool
}

// NewSelector builds a selector in StateProbing.
func NewSelector(cfg SelectorConfig) *Selector {
	hw := cfg.Hardware
	if hw == nil {
		hw = []Backend{NewNVDECBackend(), NewAMFBackend(), NewVAAPIBackend()}
	}
	sw := cfg.Software
	if sw == nil {
		sw = NewSoftwareBackend()
	}
	retry := cfg.RetryLimit
	if retry <= 0 {
		retry = 3
	}
	return &Selector{
		mode:            cfg.Mode,
		fallbackEnabled: cfg.FallbackEnabled,
		retryLimit:      retry,
		hardware:        hw,
		software:        sw,
		log:             slog.With("component", "selector"),
	}
}

// Probe probes every candidate backend for the configured mode and returns
// the capabilities of the ones available. Probe failures are aggregated, not
// fatal, as long as at least one backend is usable.
func (s *Selector) Probe(ctx context.Context) ([]Capability, error) {
	var caps []Capability
	var probeErrs *multierror.Error

	if s.mode != ModeForceSoftware {
		for _, b := range s.hardware {
			cap, err := b.Probe(ctx)
			if err != nil {
				probeErrs = multierror.Append(probeErrs, err)
				continue
			}
			caps = append(caps, cap)
		}
	}
	if s.mode != ModeForceHardware {
		cap, err := s.software.Probe(ctx)
		if err != nil {
			probeErrs = multierror.Append(probeErrs, err)
		} else {
			caps = append(caps, cap)
		}
	}

	if len(caps) == 0 {
		s.state.Store(int32(StateFailed))
		return nil, fmt.Errorf("no decode backend available: %w", probeErrs.ErrorOrNil())
	}
	return caps, nil
}

// Start probes candidates in priority order and opens a session on the first
// backend that accepts the stream. ErrUnsupported moves on to the next
// candidate silently; only exhausting all candidates fails the selector.
func (s *Selector) Start(ctx context.Context, params StreamParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.session != nil {
		return fmt.Errorf("selector already started on %s", s.active.ID())
	}
	s.params = params

	var openErrs *multierror.Error

	if s.mode != ModeForceSoftware {
		for _, b := range s.hardware {
			sess, err := s.tryOpen(ctx, b, params)
			if err != nil {
				openErrs = multierror.Append(openErrs, err)
				continue
			}
			s.adopt(b, sess, StateHardwareActive)
			return nil
		}
	}
	if s.mode != ModeForceHardware {
		sess, err := s.tryOpen(ctx, s.software, params)
		if err == nil {
			s.adopt(s.software, sess, StateSoftwareActive)
			return nil
		}
		openErrs = multierror.Append(openErrs, err)
	}

	s.state.Store(int32(StateFailed))
	return fmt.Errorf("no backend accepted %s %dx%d: %w",
		params.Codec, params.Width, params.Height, openErrs.ErrorOrNil())
}

func (s *Selector) tryOpen(ctx context.Context, b Backend, params StreamParams) (Session, error) {
	openCtx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	cap, err := b.Probe(openCtx)
	if err != nil {
		return nil, err
	}
	if !cap.Supports(params) {
		return nil, fmt.Errorf("%w: %s cannot decode %s %dx%d",
			ErrUnsupported, b.ID(), params.Codec, params.Width, params.Height)
	}
	return b.Open(openCtx, params)
}

func (s *Selector) adopt(b Backend, sess Session, st State) {
	s.active = b
	s.session = sess
	s.state.Store(int32(st))
	s.log.Info("backend active", "backend", b.ID(), "state", st.String())
}

// Submit decodes one packet on the active session. Transient device errors
// are retried in place up to the retry limit, then escalated to fatal. A
// fatal error on a hardware session triggers the one-way software fallback;
// decoding resumes with this packet on the new session.
func (s *Selector) Submit(ctx context.Context, pkt *media.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.session == nil {
		return ErrSessionClosed
	}

	err := s.submitWithRetry(ctx, pkt)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCorruptPacket) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	// Fatal on this session. Either fall back or fail for good.
	if State(s.state.Load()) == StateHardwareActive && s.fallbackEnabled && s.mode != ModeForceHardware {
		if fbErr := s.fallbackLocked(ctx, err); fbErr != nil {
			return fbErr
		}
		// Resume with the packet that hit the fatal error.
		return s.submitWithRetry(ctx, pkt)
	}

	s.state.Store(int32(StateFailed))
	s.closeSessionLocked()
	return fmt.Errorf("%s session lost: %w", s.active.ID(), err)
}

func (s *Selector) submitWithRetry(ctx context.Context, pkt *media.Packet) error {
	var err error
	for attempt := 0; attempt <= s.retryLimit; attempt++ {
		if attempt > 0 {
			// A full output queue clears as soon as its frames move to the
			// carry buffer; anything else gets a short in-place backoff.
			if f, ok := s.session.Retrieve(); ok {
				s.carry = append(s.carry, f)
			} else {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(transientRetryDelay):
				}
			}
		}
		err = s.session.Submit(ctx, pkt)
		if err == nil || !errors.Is(err, ErrTransientDevice) {
			return err
		}
		s.log.Debug("transient device error",
			"backend", s.active.ID(), "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("%w: %d transient retries exhausted: %v",
		ErrFatalDevice, s.retryLimit, err)
}

// fallbackLocked performs the one-way hardware-to-software switch: in-flight
// hardware frames are preserved, the dead session is closed, and a software
// session opens with the same stream parameters.
func (s *Selector) fallbackLocked(ctx context.Context, cause error) error {
	s.log.Warn("hardware session lost, falling back to software",
		"backend", s.active.ID(), "error", cause)

	s.carry = append(s.carry, s.session.Flush()...)
	if err := s.session.Close(); err != nil {
		s.log.Warn("hardware session close failed", "error", err)
	}
	s.session = nil

	sess, err := s.tryOpen(ctx, s.software, s.params)
	if err != nil {
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("software fallback failed after %v: %w", cause, err)
	}

	s.adopt(s.software, sess, StateSoftwareActive)
	s.fallbacks.Add(1)
	s.fallbackReason = cause.Error()
	return nil
}

// Retrieve implements Session. Frames carried over from a fallen hardware
// session drain first, keeping presentation order intact across a fallback.
func (s *Selector) Retrieve() (*media.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.carry) > 0 {
		f := s.carry[0]
		s.carry = s.carry[1:]
		return f, true
	}
	if s.closed || s.session == nil {
		return nil, false
	}
	return s.session.Retrieve()
}

// Flush implements Session.
func (s *Selector) Flush() []*media.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.carry
	s.carry = nil
	if s.session != nil {
		out = append(out, s.session.Flush()...)
	}
	return out
}

// Close implements Session. Safe to call more than once.
func (s *Selector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.carry = nil
	return s.closeSessionLocked()
}

func (s *Selector) closeSessionLocked() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}

// State returns the current lifecycle state.
func (s *Selector) State() State {
	return State(s.state.Load())
}

// ActiveBackend returns the live backend ID, or "" before Start.
func (s *Selector) ActiveBackend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.ID()
}

// FallbackCount returns how many hardware-to-software fallbacks occurred.
func (s *Selector) FallbackCount() uint64 {
	return s.fallbacks.Load()
}

// FallbackReason returns the error message that triggered the last fallback.
func (s *Selector) FallbackReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallbackReason
}
