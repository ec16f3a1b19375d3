// Package synthetic generates deterministic H.264 Annex B streams: real
// parameter sets built bit by bit, slice payloads derived from the frame
// index. The same config always yields the same byte stream, which makes it
// the input of choice for benchmarks and pipeline tests that must not depend
// on media files or real codecs.
package synthetic

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kino-av/kino/internal/decoder"
	"github.com/kino-av/kino/media"
)

// Config describes the generated stream.
type Config struct {
	Width     int
	Height    int
	FrameRate float64
	// GOPSize is the keyframe interval in frames. Zero means 30.
	GOPSize int
	// FrameCount is the total number of frames. Zero means 300.
	FrameCount int
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = 1920
	}
	if c.Height <= 0 {
		c.Height = 1080
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 30
	}
	if c.GOPSize <= 0 {
		c.GOPSize = 30
	}
	if c.FrameCount <= 0 {
		c.FrameCount = 300
	}
	return c
}

// Source produces the configured stream packet by packet. It implements the
// player's bitstream source contract.
type Source struct {
	cfg Config
	sps []byte
	pps []byte

	mu   sync.Mutex
	next int
}

// New builds a synthetic source.
func New(cfg Config) (*Source, error) {
	cfg = cfg.withDefaults()
	if cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		return nil, fmt.Errorf("synthetic: dimensions %dx%d must be even", cfg.Width, cfg.Height)
	}
	return &Source{
		cfg: cfg,
		sps: buildSPS(cfg.Width, cfg.Height),
		pps: buildPPS(),
	}, nil
}

// StreamParams describes the generated stream for session setup.
func (s *Source) StreamParams() decoder.StreamParams {
	return decoder.StreamParams{
		Codec:     media.CodecH264,
		Width:     s.cfg.Width,
		Height:    s.cfg.Height,
		FrameRate: s.cfg.FrameRate,
	}
}

// ReadPacket returns the next frame's packet. Keyframe packets carry SPS and
// PPS in-band ahead of the IDR slice. Returns io.EOF past the last frame.
func (s *Source) ReadPacket() (*media.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= s.cfg.FrameCount {
		return nil, io.EOF
	}
	idx := s.next
	s.next++
	return s.packetAt(idx), nil
}

func (s *Source) packetAt(idx int) *media.Packet {
	key := idx%s.cfg.GOPSize == 0

	var data []byte
	if key {
		data = appendNAL(data, s.sps)
		data = appendNAL(data, s.pps)
		data = appendNAL(data, sliceNAL(0x65, idx, s.cfg.Width*s.cfg.Height/64))
	} else {
		data = appendNAL(data, sliceNAL(0x41, idx, s.cfg.Width*s.cfg.Height/256))
	}

	pts := s.ptsAt(idx)
	return &media.Packet{
		Codec:    media.CodecH264,
		Data:     data,
		DTS:      pts,
		PTS:      pts,
		Keyframe: key,
	}
}

// Seek repositions to the start of the GOP at or before the target, honoring
// the keyframe-before-target contract.
func (s *Source) Seek(ts time.Duration) error {
	if ts < 0 || ts > s.Duration() {
		return fmt.Errorf("synthetic: seek %v outside [0, %v]", ts, s.Duration())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	frame := int(float64(ts) / float64(time.Second) * s.cfg.FrameRate)
	if frame >= s.cfg.FrameCount {
		frame = s.cfg.FrameCount - 1
	}
	// Float truncation can land one frame off the timestamp boundary.
	for frame+1 < s.cfg.FrameCount && s.ptsAt(frame+1) <= ts {
		frame++
	}
	for frame > 0 && s.ptsAt(frame) > ts {
		frame--
	}
	s.next = frame - frame%s.cfg.GOPSize
	return nil
}

// ptsAt maps a frame index to its presentation time. Computed per index
// rather than by accumulating a truncated interval, so frame N lands at
// N/rate seconds with no compounding error.
func (s *Source) ptsAt(idx int) time.Duration {
	return time.Duration(float64(idx) * float64(time.Second) / s.cfg.FrameRate)
}

// Duration returns the total stream duration.
func (s *Source) Duration() time.Duration {
	return s.ptsAt(s.cfg.FrameCount)
}

// FrameInterval returns the nominal frame spacing.
func (s *Source) FrameInterval() time.Duration {
	return time.Duration(float64(time.Second) / s.cfg.FrameRate)
}

func appendNAL(dst, nal []byte) []byte {
	dst = append(dst, 0x00, 0x00, 0x00, 0x01)
	return append(dst, nal...)
}

// sliceNAL builds a pseudo coded slice: the right NAL header, then a payload
// that is a pure function of the frame index. Payload bytes avoid zeros so no
// accidental start codes appear.
func sliceNAL(nalHeader byte, frameIdx, size int) []byte {
	if size < 16 {
		size = 16
	}
	if size > 10000 {
		size = 10000
	}
	nal := make([]byte, 0, size+1)
	nal = append(nal, nalHeader)
	for i := 0; i < size; i++ {
		nal = append(nal, byte((i*7+frameIdx*13)%254)+1)
	}
	return nal
}
