package mpegts

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/kino-av/kino/internal/decoder"
	"github.com/kino-av/kino/media"
)

// keyframeEntry maps a keyframe's presentation time to the file offset of the
// transport packet that starts its PES, so seeks can land on decodable
// positions.
type keyframeEntry struct {
	pts    int64 // 90 kHz, raw (not zero-based)
	offset int64
}

// FileSource plays video from an MPEG-TS file. Open scans the whole file once
// to locate the program, measure duration, and index keyframes; ReadPacket
// then demuxes sequentially from the current position.
type FileSource struct {
	log  *slog.Logger
	path string
	f    *os.File

	prog      program
	basePTS   int64
	duration  time.Duration
	frameRate float64
	width     int
	height    int
	index     []keyframeEntry

	mu sync.Mutex
	d  demuxState
}

// demuxState is the sequential read cursor: a buffered reader over the file
// plus the partially assembled PES for the video PID.
type demuxState struct {
	r       *bufio.Reader
	offset  int64 // file offset of the next unread packet
	buf     []byte
	lastCC  uint8
	ccValid bool
	eof     bool
	lastPTS int64
}

// Open builds a FileSource over an MPEG-TS file. It fails if the file carries
// no PAT/PMT or no supported video stream.
func Open(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mpegts: %w", err)
	}

	s := &FileSource{
		log:  slog.With("component", "mpegts-source", "path", path),
		path: path,
		f:    f,
	}
	if err := s.scan(); err != nil {
		f.Close()
		return nil, err
	}
	if err := s.reset(0); err != nil {
		f.Close()
		return nil, err
	}

	s.log.Info("transport stream opened",
		"codec", s.prog.codec.String(),
		"video_pid", s.prog.videoPID,
		"duration", s.duration,
		"keyframes", len(s.index))
	return s, nil
}

// scan walks the whole file once: resolves PAT and PMT, reassembles every
// video PES to record its timestamp and keyframe flag, and derives duration
// and nominal frame rate from the first and last timestamps.
func (s *FileSource) scan() error {
	pat := &psiAccumulator{}
	pmts := map[uint16]*psiAccumulator{}
	var pmtPIDs []uint16
	haveProgram := false

	var (
		firstPTS   int64 = -1
		lastPTS    int64 = -1
		frameCount int
		pesBuf     []byte
		pesOff     int64
	)

	finishPES := func() {
		if len(pesBuf) == 0 {
			return
		}
		p, err := parsePES(pesBuf)
		pesBuf = nil
		if err != nil || p.pts < 0 {
			return
		}
		frameCount++
		if firstPTS < 0 {
			firstPTS = p.pts
		}
		lastPTS = p.pts
		if hasKeyframe(s.prog.codec, p.data) {
			s.index = append(s.index, keyframeEntry{pts: p.pts, offset: pesOff})
			if s.width == 0 && s.prog.codec == media.CodecH264 {
				if w, h, err := decoder.ProbeH264(p.data); err == nil {
					s.width, s.height = w, h
				}
			}
		}
	}

	buf := make([]byte, packetSize)
	var offset int64
	r := bufio.NewReaderSize(s.f, packetSize*64)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("mpegts: scan: %w", err)
		}
		pkt, err := parseTSPacket(buf)
		if err != nil {
			return fmt.Errorf("mpegts: scan at offset %d: %w", offset, err)
		}
		pktOffset := offset
		offset += packetSize

		if pkt.transportErr || pkt.payload == nil {
			continue
		}

		switch {
		case pkt.pid == pidPAT && !haveProgram:
			if section, ok := pat.add(pkt); ok {
				pids, err := parsePAT(section)
				if err != nil {
					return err
				}
				for _, pid := range pids {
					if _, seen := pmts[pid]; !seen {
						pmts[pid] = &psiAccumulator{}
						pmtPIDs = append(pmtPIDs, pid)
					}
				}
			}

		case !haveProgram && pmts[pkt.pid] != nil:
			if section, ok := pmts[pkt.pid].add(pkt); ok {
				prog, found, err := parsePMT(section)
				if err != nil {
					return err
				}
				if found {
					s.prog = prog
					haveProgram = true
				}
			}

		case haveProgram && pkt.pid == s.prog.videoPID:
			if pkt.pusi {
				finishPES()
				pesOff = pktOffset
			}
			if pesBuf != nil || pkt.pusi {
				pesBuf = append(pesBuf, pkt.payload...)
			}
		}
	}
	finishPES()

	if !haveProgram {
		if len(pmtPIDs) == 0 {
			return errors.New("mpegts: no PAT found")
		}
		return errors.New("mpegts: no supported video stream in PMT")
	}
	if frameCount == 0 || firstPTS < 0 {
		return errors.New("mpegts: no timestamped video found")
	}
	if len(s.index) == 0 {
		return errors.New("mpegts: no keyframes found")
	}
	sort.Slice(s.index, func(i, j int) bool { return s.index[i].pts < s.index[j].pts })

	s.basePTS = firstPTS
	span := lastPTS - firstPTS
	if frameCount > 1 && span > 0 {
		s.frameRate = float64(frameCount-1) * ptsClock / float64(span)
		perFrame := span / int64(frameCount-1)
		s.duration = ptsToDuration(span + perFrame)
	} else {
		s.duration = ptsToDuration(span)
	}
	return nil
}

// StreamParams describes the video stream for decode session setup.
func (s *FileSource) StreamParams() decoder.StreamParams {
	return decoder.StreamParams{
		Codec:     s.prog.codec,
		Width:     s.width,
		Height:    s.height,
		FrameRate: s.frameRate,
	}
}

// Codec returns the video codec carried in the stream.
func (s *FileSource) Codec() media.Codec { return s.prog.codec }

// Duration returns the stream duration derived from first and last timestamps.
func (s *FileSource) Duration() time.Duration { return s.duration }

// ReadPacket returns the next video PES as one compressed packet. Timestamps
// are rebased so the first frame of the file presents at zero. Returns io.EOF
// past the last PES.
func (s *FileSource) ReadPacket() (*media.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, packetSize)
	for {
		if s.d.eof {
			if pkt := s.flushPESLocked(); pkt != nil {
				return pkt, nil
			}
			return nil, io.EOF
		}

		if _, err := io.ReadFull(s.d.r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.d.eof = true
				continue
			}
			return nil, fmt.Errorf("mpegts: read: %w", err)
		}
		pkt, err := parseTSPacket(buf)
		if err != nil {
			return nil, fmt.Errorf("mpegts: at offset %d: %w", s.d.offset, err)
		}
		s.d.offset += packetSize

		if pkt.pid != s.prog.videoPID || pkt.transportErr {
			continue
		}

		if pkt.payload != nil {
			if s.d.ccValid {
				if pkt.cc == s.d.lastCC {
					// Repeated continuity counter marks a duplicate packet.
					continue
				}
				if pkt.cc != (s.d.lastCC+1)&0x0F && !pkt.discontinuity {
					s.log.Warn("continuity counter gap",
						"pid", pkt.pid, "got", pkt.cc, "want", (s.d.lastCC+1)&0x0F)
				}
			}
			s.d.lastCC = pkt.cc
			s.d.ccValid = true
		}

		if pkt.pusi {
			out := s.flushPESLocked()
			s.d.buf = append(s.d.buf, pkt.payload...)
			if out != nil {
				return out, nil
			}
			continue
		}
		if s.d.buf != nil && pkt.payload != nil {
			s.d.buf = append(s.d.buf, pkt.payload...)
		}
	}
}

// flushPESLocked converts the buffered PES into a media packet. Malformed or
// untimestamped PES data is dropped with a warning rather than surfaced; the
// decoder handles corruption inside otherwise well-formed packets.
func (s *FileSource) flushPESLocked() *media.Packet {
	if len(s.d.buf) == 0 {
		return nil
	}
	raw := s.d.buf
	s.d.buf = nil

	p, err := parsePES(raw)
	if err != nil {
		s.log.Warn("dropping malformed PES", "error", err)
		return nil
	}
	if len(p.data) == 0 {
		return nil
	}

	pts := p.pts
	if pts < 0 {
		// Some streams omit PTS on non-anchor pictures; extrapolate one
		// nominal frame from the previous timestamp.
		pts = s.d.lastPTS
		if s.frameRate > 0 {
			pts += int64(ptsClock / s.frameRate)
		}
	}
	s.d.lastPTS = pts

	dts := p.dts
	if dts < 0 {
		dts = pts
	}

	return &media.Packet{
		Codec:    s.prog.codec,
		Data:     p.data,
		PTS:      ptsToDuration(pts - s.basePTS),
		DTS:      ptsToDuration(dts - s.basePTS),
		Keyframe: hasKeyframe(s.prog.codec, p.data),
	}
}

// Seek repositions so the next packet read is the keyframe at or before the
// target timestamp.
func (s *FileSource) Seek(ts time.Duration) error {
	if ts < 0 || ts > s.duration {
		return fmt.Errorf("mpegts: seek %v outside [0, %v]", ts, s.duration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.basePTS + int64(ts*ptsClock/time.Second)
	// Last keyframe with pts <= target; the first entry covers targets that
	// fall before any keyframe timestamp.
	i := sort.Search(len(s.index), func(i int) bool { return s.index[i].pts > target })
	if i > 0 {
		i--
	}
	return s.resetLocked(s.index[i].offset)
}

func (s *FileSource) reset(offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked(offset)
}

func (s *FileSource) resetLocked(offset int64) error {
	if _, err := s.f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("mpegts: seek: %w", err)
	}
	if s.d.r == nil {
		s.d.r = bufio.NewReaderSize(s.f, packetSize*64)
	} else {
		s.d.r.Reset(s.f)
	}
	s.d.offset = offset
	s.d.buf = nil
	s.d.ccValid = false
	s.d.eof = false
	return nil
}

// Close releases the underlying file.
func (s *FileSource) Close() error {
	return s.f.Close()
}

// psiAccumulator reassembles a PSI section that may span transport packets.
type psiAccumulator struct {
	buf []byte
}

// add feeds one packet's payload. Returns the accumulated payload and true
// once the full section (per its own length field) is present.
func (a *psiAccumulator) add(pkt tsPacket) ([]byte, bool) {
	if pkt.pusi {
		a.buf = append(a.buf[:0], pkt.payload...)
	} else {
		if a.buf == nil {
			return nil, false
		}
		a.buf = append(a.buf, pkt.payload...)
	}

	if len(a.buf) < 4 {
		return nil, false
	}
	ptr := int(a.buf[0])
	headerEnd := 1 + ptr + 3
	if len(a.buf) < headerEnd {
		return nil, false
	}
	sectionLen := int(a.buf[1+ptr+1]&0x0F)<<8 | int(a.buf[1+ptr+2])
	if len(a.buf) < 1+ptr+3+sectionLen {
		return nil, false
	}
	return a.buf, true
}
