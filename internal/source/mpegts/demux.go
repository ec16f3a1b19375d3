// Package mpegts reads H.264/H.265 video from MPEG transport stream files:
// PAT/PMT program discovery, PES reassembly with 90 kHz timestamp extraction,
// and keyframe detection over the elementary stream. It backs file playback
// and benchmark input.
package mpegts

import (
	"errors"
	"fmt"
	"time"

	"github.com/kino-av/kino/media"
)

const (
	packetSize = 188
	syncByte   = 0x47
	pidPAT     = 0x0000

	tableIDPAT = 0x00
	tableIDPMT = 0x02

	streamTypeH264 = 0x1B
	streamTypeHEVC = 0x24
)

// ptsClock is the MPEG-TS 90 kHz timestamp clock.
const ptsClock = 90000

var errNotTS = errors.New("mpegts: missing sync byte")

// tsPacket is one parsed 188-byte transport packet.
type tsPacket struct {
	pid           uint16
	cc            uint8
	pusi          bool
	transportErr  bool
	discontinuity bool
	payload       []byte
}

func parseTSPacket(buf []byte) (tsPacket, error) {
	var p tsPacket
	if len(buf) != packetSize {
		return p, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), packetSize)
	}
	if buf[0] != syncByte {
		return p, errNotTS
	}

	p.transportErr = buf[1]&0x80 != 0
	p.pusi = buf[1]&0x40 != 0
	p.pid = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	hasAF := buf[3]&0x20 != 0
	hasPayload := buf[3]&0x10 != 0
	p.cc = buf[3] & 0x0F

	offset := 4
	if hasAF {
		afLen := int(buf[offset])
		if afLen > 0 && offset+1 < packetSize {
			p.discontinuity = buf[offset+1]&0x80 != 0
		}
		offset += 1 + afLen
		if offset > packetSize {
			offset = packetSize
		}
	}
	if hasPayload && offset < packetSize {
		p.payload = buf[offset:]
	}
	return p, nil
}

// pes is one reassembled PES packet from the video PID.
type pes struct {
	pts  int64 // 90 kHz, -1 when absent
	dts  int64
	data []byte
}

// parsePES splits the PES header off an assembled payload. Stream IDs
// without an optional header do not occur on video PIDs, so the header is
// required here.
func parsePES(payload []byte) (pes, error) {
	out := pes{pts: -1, dts: -1}
	if len(payload) < 9 {
		return out, fmt.Errorf("mpegts: PES too short (%d bytes)", len(payload))
	}
	if payload[0] != 0 || payload[1] != 0 || payload[2] != 1 {
		return out, fmt.Errorf("mpegts: invalid PES start code")
	}

	ptsDTSFlags := (payload[7] >> 6) & 0x03
	headerLen := int(payload[8])
	dataStart := 9 + headerLen
	if dataStart > len(payload) {
		dataStart = len(payload)
	}

	switch ptsDTSFlags {
	case 2:
		if len(payload) >= 14 {
			out.pts = parseTimestamp(payload[9:14])
		}
	case 3:
		if len(payload) >= 19 {
			out.pts = parseTimestamp(payload[9:14])
			out.dts = parseTimestamp(payload[14:19])
		}
	}

	out.data = payload[dataStart:]
	return out, nil
}

// parseTimestamp extracts the 33-bit base from 5 PES timestamp bytes.
func parseTimestamp(bs []byte) int64 {
	return int64(bs[0]>>1&0x07)<<30 |
		int64(bs[1])<<22 |
		int64(bs[2]>>1&0x7F)<<15 |
		int64(bs[3])<<7 |
		int64(bs[4]>>1&0x7F)
}

// ptsToDuration converts a 90 kHz tick count to a time.Duration.
func ptsToDuration(ticks int64) time.Duration {
	return time.Duration(ticks) * time.Second / ptsClock
}

// program is the video program found through PAT/PMT.
type program struct {
	videoPID uint16
	codec    media.Codec
}

// parsePAT returns the PMT PIDs announced in a PAT section payload.
func parsePAT(payload []byte) ([]uint16, error) {
	section, err := openSection(payload, tableIDPAT)
	if err != nil {
		return nil, err
	}
	if len(section) < 12 {
		return nil, fmt.Errorf("mpegts: PAT too short")
	}

	var pids []uint16
	for i := 8; i+4 <= len(section)-4; i += 4 {
		programNumber := uint16(section[i])<<8 | uint16(section[i+1])
		if programNumber == 0 {
			continue // NIT
		}
		pids = append(pids, uint16(section[i+2]&0x1F)<<8|uint16(section[i+3]))
	}
	return pids, nil
}

// parsePMT returns the first supported video stream in a PMT section.
func parsePMT(payload []byte) (program, bool, error) {
	section, err := openSection(payload, tableIDPMT)
	if err != nil {
		return program{}, false, err
	}
	if len(section) < 16 {
		return program{}, false, fmt.Errorf("mpegts: PMT too short")
	}

	programInfoLen := int(section[10]&0x0F)<<8 | int(section[11])
	offset := 12 + programInfoLen

	for offset+5 <= len(section)-4 {
		streamType := section[offset]
		esPID := uint16(section[offset+1]&0x1F)<<8 | uint16(section[offset+2])
		esInfoLen := int(section[offset+3]&0x0F)<<8 | int(section[offset+4])

		switch streamType {
		case streamTypeH264:
			return program{videoPID: esPID, codec: media.CodecH264}, true, nil
		case streamTypeHEVC:
			return program{videoPID: esPID, codec: media.CodecH265}, true, nil
		}
		offset += 5 + esInfoLen
	}
	return program{}, false, nil
}

// openSection skips the pointer field, checks the table ID, and verifies the
// section CRC. Returns the full section bytes.
func openSection(payload []byte, wantTable byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("mpegts: PSI payload too short")
	}
	offset := 1 + int(payload[0])
	if offset+3 > len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer out of range")
	}
	if payload[offset] != wantTable {
		return nil, fmt.Errorf("mpegts: table 0x%02X, want 0x%02X", payload[offset], wantTable)
	}

	sectionLen := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
	end := offset + 3 + sectionLen
	if end > len(payload) {
		return nil, fmt.Errorf("mpegts: section truncated")
	}
	section := payload[offset:end]
	if err := verifyCRC32(section); err != nil {
		return nil, err
	}
	return section, nil
}

// hasKeyframe scans an Annex B elementary stream for an IDR (H.264) or IRAP
// (H.265) slice.
func hasKeyframe(codec media.Codec, es []byte) bool {
	for i := 0; i+3 < len(es); i++ {
		if es[i] != 0 || es[i+1] != 0 {
			continue
		}
		var hdr int
		if es[i+2] == 1 {
			hdr = i + 3
		} else if es[i+2] == 0 && i+4 < len(es) && es[i+3] == 1 {
			hdr = i + 4
		} else {
			continue
		}
		if hdr >= len(es) {
			return false
		}
		switch codec {
		case media.CodecH264:
			if es[hdr]&0x1F == 5 {
				return true
			}
		case media.CodecH265:
			t := (es[hdr] >> 1) & 0x3F
			if t >= 16 && t <= 21 {
				return true
			}
		}
	}
	return false
}
