package synthetic

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/kino-av/kino/internal/decoder"
)

func TestSource_GOPStructure(t *testing.T) {
	t.Parallel()
	src, err := New(Config{Width: 640, Height: 360, FrameRate: 30, GOPSize: 10, FrameCount: 25})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 25; i++ {
		pkt, err := src.ReadPacket()
		if err != nil {
			t.Fatal(err)
		}
		wantKey := i%10 == 0
		if pkt.Keyframe != wantKey {
			t.Errorf("frame %d Keyframe = %v, want %v", i, pkt.Keyframe, wantKey)
		}
		if want := time.Duration(i) * time.Second / 30; pkt.PTS != want {
			t.Errorf("frame %d PTS = %v, want %v", i, pkt.PTS, want)
		}
		if len(pkt.Data) == 0 {
			t.Fatalf("frame %d has no data", i)
		}
	}

	if _, err := src.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF after last frame", err)
	}
}

func TestSource_Deterministic(t *testing.T) {
	t.Parallel()
	cfg := Config{Width: 320, Height: 240, FrameRate: 30, GOPSize: 5, FrameCount: 12}

	read := func() [][]byte {
		src, err := New(cfg)
		if err != nil {
			t.Fatal(err)
		}
		var out [][]byte
		for {
			pkt, err := src.ReadPacket()
			if errors.Is(err, io.EOF) {
				return out
			}
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, pkt.Data)
		}
	}

	a, b := read(), read()
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			t.Errorf("packet %d differs between runs", i)
		}
	}
}

func TestSource_DecodableBySoftware(t *testing.T) {
	t.Parallel()
	src, err := New(Config{Width: 1280, Height: 720, FrameRate: 60, GOPSize: 30, FrameCount: 40})
	if err != nil {
		t.Fatal(err)
	}

	backend := decoder.NewSoftwareBackend()
	sess, err := backend.Open(context.Background(), src.StreamParams())
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	decoded := 0
	for {
		pkt, err := src.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if err := sess.Submit(context.Background(), pkt); err != nil {
			t.Fatalf("packet %d: %v", decoded, err)
		}
		f, ok := sess.Retrieve()
		if !ok {
			t.Fatalf("packet %d produced no frame", decoded)
		}
		if f.Width != 1280 || f.Height != 720 {
			t.Fatalf("frame %dx%d, want 1280x720 (SPS should carry real dimensions)", f.Width, f.Height)
		}
		decoded++
	}
	if decoded != 40 {
		t.Errorf("decoded %d frames, want 40", decoded)
	}
}

func TestSource_NonMacroblockAlignedDimensions(t *testing.T) {
	t.Parallel()
	// 1080 is not a multiple of 16; the SPS needs cropping.
	src, err := New(Config{Width: 1920, Height: 1080, FrameCount: 1})
	if err != nil {
		t.Fatal(err)
	}

	backend := decoder.NewSoftwareBackend()
	sess, err := backend.Open(context.Background(), src.StreamParams())
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	pkt, err := src.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Submit(context.Background(), pkt); err != nil {
		t.Fatal(err)
	}
	f, ok := sess.Retrieve()
	if !ok {
		t.Fatal("no frame")
	}
	if f.Width != 1920 || f.Height != 1080 {
		t.Errorf("frame %dx%d, want 1920x1080", f.Width, f.Height)
	}
}

func TestSource_Seek(t *testing.T) {
	t.Parallel()
	src, err := New(Config{Width: 320, Height: 240, FrameRate: 30, GOPSize: 10, FrameCount: 60})
	if err != nil {
		t.Fatal(err)
	}

	// Seek into the middle of a GOP lands on the preceding keyframe.
	target := 15 * time.Second / 30 // frame 15, GOP start at 10
	if err := src.Seek(target); err != nil {
		t.Fatal(err)
	}
	pkt, err := src.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if !pkt.Keyframe {
		t.Error("first packet after seek should be a keyframe")
	}
	if want := 10 * time.Second / 30; pkt.PTS != want {
		t.Errorf("PTS = %v, want %v", pkt.PTS, want)
	}
	if pkt.PTS > target {
		t.Error("keyframe must not be after the seek target")
	}

	if err := src.Seek(-time.Second); err == nil {
		t.Error("negative seek should fail")
	}
	if err := src.Seek(src.Duration() + time.Second); err == nil {
		t.Error("seek past duration should fail")
	}
}

func TestSource_Defaults(t *testing.T) {
	t.Parallel()
	src, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if src.Duration() != 10*time.Second {
		t.Errorf("Duration = %v, want 10s (300 frames at 30fps)", src.Duration())
	}
	params := src.StreamParams()
	if params.Width != 1920 || params.Height != 1080 {
		t.Errorf("params %dx%d, want 1920x1080", params.Width, params.Height)
	}
}
