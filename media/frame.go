// Package media defines the core packet and frame types that flow through
// the Kino decode pipeline, from the bitstream source through decoding to
// presentation.
package media

import (
	"strings"
	"time"
)

// Codec identifies the compressed video format of a stream.
type Codec int

// Supported video codecs.
const (
	CodecUnknown Codec = iota
	CodecH264
	CodecH265
	CodecVP9
	CodecAV1
)

// ParseCodec maps a codec name or fourcc to a Codec. Returns CodecUnknown
// for anything unrecognized.
func ParseCodec(s string) Codec {
	switch strings.ToLower(s) {
	case "h264", "avc", "avc1":
		return CodecH264
	case "h265", "hevc", "hvc1", "hev1":
		return CodecH265
	case "vp9", "vp09":
		return CodecVP9
	case "av1", "av01":
		return CodecAV1
	}
	return CodecUnknown
}

// String returns the canonical lowercase codec name.
func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	case CodecVP9:
		return "vp9"
	case CodecAV1:
		return "av1"
	}
	return "unknown"
}

// PixelFormat identifies the memory layout of decoded frame data.
type PixelFormat int

// Decoded frame pixel formats.
const (
	PixelFormatNV12 PixelFormat = iota // 8-bit 4:2:0, Y plane + interleaved UV
	PixelFormatI420                    // 8-bit 4:2:0, separate Y/U/V planes
	PixelFormatP010                    // 10-bit 4:2:0 semi-planar
)

// String returns the conventional format name.
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatI420:
		return "i420"
	case PixelFormatP010:
		return "p010"
	}
	return "unknown"
}

// BufferSize returns the byte size of a frame buffer for this format at the
// given dimensions.
func (f PixelFormat) BufferSize(width, height int) int {
	switch f {
	case PixelFormatNV12, PixelFormatI420:
		return width * height * 3 / 2
	case PixelFormatP010:
		return width * height * 3
	}
	return 0
}

// Packet is a single demultiplexed compressed unit for one track, as
// delivered by the bitstream source. Packets are immutable once produced;
// ownership passes to whichever stage is currently processing them.
type Packet struct {
	Codec    Codec
	Data     []byte
	DTS      time.Duration
	PTS      time.Duration
	Keyframe bool
}

// DecoderClass distinguishes hardware from software decode origins.
type DecoderClass int

// Decoder classes.
const (
	ClassSoftware DecoderClass = iota
	ClassHardware
)

// String returns "hardware" or "software".
func (c DecoderClass) String() string {
	if c == ClassHardware {
		return "hardware"
	}
	return "software"
}

// Origin tags a decoded frame with the backend that produced it, so
// downstream consumers and telemetry can attribute frames after a fallback.
type Origin struct {
	Backend string       // backend identifier, e.g. "nvdec", "software"
	Class   DecoderClass // hardware or software
}

// Frame is a single decoded picture ready for synchronization and
// presentation. The pixel buffer is exclusively owned: it is handed from the
// decoder to the frame queue to the synchronizer to the sink, one owner at a
// time, and must not be retained after release.
type Frame struct {
	Data     []byte
	Width    int
	Height   int
	Format   PixelFormat
	PTS      time.Duration
	Duration time.Duration
	Keyframe bool
	Origin   Origin
}
