package decoder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kino-av/kino/media"
)

// SoftwareMaxDim is the largest dimension the software decoder accepts. CPU
// reconstruction above 8K is not useful in practice.
const SoftwareMaxDim = 8192

// softwareReadyCap bounds the decoded-but-unretrieved frames a software
// session holds. Matches the hardware sessions' device queue depth so the
// selector sees the same backpressure shape on either path.
const softwareReadyCap = 8

// SoftwareBackend is the portable CPU decode path. It parses the Annex B
// bitstream (NAL walk, SPS validation for H.264) and reconstructs
// deterministic NV12 pictures. It is always available, which makes it both
// the universal fallback target and the benchmark baseline.
type SoftwareBackend struct {
	log *slog.Logger
}

// NewSoftwareBackend returns the software decode backend.
func NewSoftwareBackend() *SoftwareBackend {
	return &SoftwareBackend{
		log: slog.With("component", "decoder", "backend", "software"),
	}
}

// ID implements Backend.
func (b *SoftwareBackend) ID() string { return "software" }

// Probe implements Backend. The software path never fails to probe.
func (b *SoftwareBackend) Probe(ctx context.Context) (Capability, error) {
	limit := CodecLimit{MaxWidth: SoftwareMaxDim, MaxHeight: SoftwareMaxDim}
	return Capability{
		Backend: b.ID(),
		Class:   media.ClassSoftware,
		Codecs: map[media.Codec]CodecLimit{
			media.CodecH264: limit,
			media.CodecH265: limit,
			media.CodecVP9:  limit,
			media.CodecAV1:  limit,
		},
	}, nil
}

// Open implements Backend.
func (b *SoftwareBackend) Open(ctx context.Context, params StreamParams) (Session, error) {
	cap, _ := b.Probe(ctx)
	if err := validateOpen(cap, params); err != nil {
		return nil, err
	}

	origin := media.Origin{Backend: b.ID(), Class: media.ClassSoftware}
	s := &softwareSession{
		asm: newFrameAssembler(params, origin, media.PixelFormatNV12),
	}

	b.log.Debug("session opened",
		"codec", params.Codec.String(),
		"width", params.Width,
		"height", params.Height)
	return s, nil
}

type softwareSession struct {
	mu     sync.Mutex
	asm    *frameAssembler
	closed bool
}

// Submit implements Session. For H.264 the packet is walked NAL by NAL:
// parameter sets update session state, VCL units each produce one frame. A
// packet with no recognizable structure is rejected as corrupt.
func (s *softwareSession) Submit(ctx context.Context, pkt *media.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.asm.pending() >= softwareReadyCap {
		return &DeviceError{Backend: s.asm.origin.Backend, Op: "submit",
			Err: fmt.Errorf("%w: output queue full", ErrTransientDevice)}
	}
	return s.asm.submit(pkt)
}

// Retrieve implements Session.
func (s *softwareSession) Retrieve() (*media.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	return s.asm.retrieve()
}

// Flush implements Session.
func (s *softwareSession) Flush() []*media.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.asm.flush()
}

// Close implements Session.
func (s *softwareSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.asm.flush()
	return nil
}
