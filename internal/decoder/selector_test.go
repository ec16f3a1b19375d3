package decoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kino-av/kino/media"
)

// fakeBackend is a scriptable backend for selector tests.
type fakeBackend struct {
	id       string
	class    media.DecoderClass
	probeErr error
	openErr  error
	// failFatalAfter makes sessions return a fatal device error on the Nth
	// submit (1-based). Zero disables.
	failFatalAfter int
	// transientCount makes the first N submits fail transiently.
	transientCount int

	mu     sync.Mutex
	opened int
}

func (f *fakeBackend) ID() string { return f.id }

func (f *fakeBackend) Probe(ctx context.Context) (Capability, error) {
	if f.probeErr != nil {
		return Capability{}, f.probeErr
	}
	return Capability{
		Backend: f.id,
		Class:   f.class,
		Codecs: map[media.Codec]CodecLimit{
			media.CodecH264: {MaxWidth: 4096, MaxHeight: 4096},
		},
	}, nil
}

func (f *fakeBackend) Open(ctx context.Context, params StreamParams) (Session, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	cap, _ := f.Probe(ctx)
	if err := validateOpen(cap, params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.opened++
	f.mu.Unlock()
	return &fakeSession{
		origin:         media.Origin{Backend: f.id, Class: f.class},
		params:         params,
		failFatalAfter: f.failFatalAfter,
		transientLeft:  f.transientCount,
	}, nil
}

func (f *fakeBackend) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

type fakeSession struct {
	mu             sync.Mutex
	origin         media.Origin
	params         StreamParams
	failFatalAfter int
	transientLeft  int
	submits        int
	ready          []*media.Frame
	closed         bool
}

func (s *fakeSession) Submit(ctx context.Context, pkt *media.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.transientLeft > 0 {
		s.transientLeft--
		return fmt.Errorf("%w: simulated glitch", ErrTransientDevice)
	}
	s.submits++
	if s.failFatalAfter > 0 && s.submits >= s.failFatalAfter {
		return fmt.Errorf("%w: device reset", ErrFatalDevice)
	}
	s.ready = append(s.ready, &media.Frame{
		Width:  s.params.Width,
		Height: s.params.Height,
		PTS:    pkt.PTS,
		Origin: s.origin,
	})
	return nil
}

func (s *fakeSession) Retrieve() (*media.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return nil, false
	}
	f := s.ready[0]
	s.ready = s.ready[1:]
	return f, true
}

func (s *fakeSession) Flush() []*media.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.ready
	s.ready = nil
	return out
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func fakeHW(opts ...func(*fakeBackend)) *fakeBackend {
	b := &fakeBackend{id: "fake-hw", class: media.ClassHardware}
	for _, o := range opts {
		o(b)
	}
	return b
}

func fakeSW() *fakeBackend {
	return &fakeBackend{id: "fake-sw", class: media.ClassSoftware}
}

func h264Packet(pts time.Duration) *media.Packet {
	return &media.Packet{Codec: media.CodecH264, PTS: pts, Keyframe: pts == 0}
}

func TestSelector_PrefersHardware(t *testing.T) {
	t.Parallel()
	hw := fakeHW()
	sel := NewSelector(SelectorConfig{
		Mode:            ModeAuto,
		FallbackEnabled: true,
		Hardware:        []Backend{hw},
		Software:        fakeSW(),
	})
	defer sel.Close()

	if got := sel.State(); got != StateProbing {
		t.Fatalf("initial state = %v, want probing", got)
	}
	if err := sel.Start(context.Background(), testParams1080p()); err != nil {
		t.Fatal(err)
	}
	if got := sel.State(); got != StateHardwareActive {
		t.Errorf("state = %v, want hardware_active", got)
	}
	if got := sel.ActiveBackend(); got != "fake-hw" {
		t.Errorf("ActiveBackend = %q, want fake-hw", got)
	}
	if got := sel.FallbackCount(); got != 0 {
		t.Errorf("FallbackCount = %d, want 0", got)
	}
}

func TestSelector_UnsupportedHardwareGoesDirectToSoftware(t *testing.T) {
	t.Parallel()
	hw := fakeHW(func(b *fakeBackend) {
		b.probeErr = fmt.Errorf("%w: no device", ErrUnsupported)
	})
	sel := NewSelector(SelectorConfig{
		Mode:            ModeAuto,
		FallbackEnabled: true,
		Hardware:        []Backend{hw},
		Software:        fakeSW(),
	})
	defer sel.Close()

	if err := sel.Start(context.Background(), testParams1080p()); err != nil {
		t.Fatal(err)
	}
	if got := sel.State(); got != StateSoftwareActive {
		t.Errorf("state = %v, want software_active", got)
	}
	// Starting on software because hardware was unsupported is selection,
	// not fallback.
	if got := sel.FallbackCount(); got != 0 {
		t.Errorf("FallbackCount = %d, want 0", got)
	}
}

func TestSelector_FatalErrorFallsBackOnce(t *testing.T) {
	t.Parallel()
	hw := fakeHW(func(b *fakeBackend) { b.failFatalAfter = 3 })
	sw := fakeSW()
	sel := NewSelector(SelectorConfig{
		Mode:            ModeAuto,
		FallbackEnabled: true,
		Hardware:        []Backend{hw},
		Software:        sw,
	})
	defer sel.Close()

	ctx := context.Background()
	if err := sel.Start(ctx, testParams1080p()); err != nil {
		t.Fatal(err)
	}

	interval := time.Second / 60
	var frames []*media.Frame
	for i := 0; i < 10; i++ {
		if err := sel.Submit(ctx, h264Packet(time.Duration(i)*interval)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		for {
			f, ok := sel.Retrieve()
			if !ok {
				break
			}
			frames = append(frames, f)
		}
	}

	if got := sel.State(); got != StateSoftwareActive {
		t.Errorf("state = %v, want software_active after fatal", got)
	}
	if got := sel.FallbackCount(); got != 1 {
		t.Errorf("FallbackCount = %d, want 1", got)
	}
	if sel.FallbackReason() == "" {
		t.Error("FallbackReason should record the cause")
	}
	if len(frames) != 10 {
		t.Fatalf("got %d frames, want 10 (no packet lost across fallback)", len(frames))
	}

	// PTS continuity across the switch, hardware frames first.
	for i, f := range frames {
		if want := time.Duration(i) * interval; f.PTS != want {
			t.Errorf("frame %d PTS = %v, want %v", i, f.PTS, want)
		}
	}
	if frames[0].Origin.Class != media.ClassHardware {
		t.Error("early frames should be hardware-origin")
	}
	if frames[len(frames)-1].Origin.Class != media.ClassSoftware {
		t.Error("late frames should be software-origin")
	}
}

func TestSelector_NoReturnToHardware(t *testing.T) {
	t.Parallel()
	hw := fakeHW(func(b *fakeBackend) { b.failFatalAfter = 1 })
	sel := NewSelector(SelectorConfig{
		Mode:            ModeAuto,
		FallbackEnabled: true,
		Hardware:        []Backend{hw},
		Software:        fakeSW(),
	})
	defer sel.Close()

	ctx := context.Background()
	if err := sel.Start(ctx, testParams1080p()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if err := sel.Submit(ctx, h264Packet(time.Duration(i)*time.Second/60)); err != nil {
			t.Fatal(err)
		}
		sel.Retrieve()
	}
	if got := hw.openCount(); got != 1 {
		t.Errorf("hardware opened %d times, want 1 (one-way fallback)", got)
	}
	if got := sel.FallbackCount(); got != 1 {
		t.Errorf("FallbackCount = %d, want 1", got)
	}
}

func TestSelector_TransientRetriedInPlace(t *testing.T) {
	t.Parallel()
	hw := fakeHW(func(b *fakeBackend) { b.transientCount = 2 })
	sel := NewSelector(SelectorConfig{
		Mode:            ModeAuto,
		FallbackEnabled: true,
		RetryLimit:      3,
		Hardware:        []Backend{hw},
		Software:        fakeSW(),
	})
	defer sel.Close()

	ctx := context.Background()
	if err := sel.Start(ctx, testParams1080p()); err != nil {
		t.Fatal(err)
	}
	if err := sel.Submit(ctx, h264Packet(0)); err != nil {
		t.Fatalf("submit should succeed within the retry limit: %v", err)
	}
	if got := sel.State(); got != StateHardwareActive {
		t.Errorf("state = %v, want hardware_active (no fallback on transient)", got)
	}
	if got := sel.FallbackCount(); got != 0 {
		t.Errorf("FallbackCount = %d, want 0", got)
	}
}

func TestSelector_TransientExhaustionEscalates(t *testing.T) {
	t.Parallel()
	hw := fakeHW(func(b *fakeBackend) { b.transientCount = 100 })
	sel := NewSelector(SelectorConfig{
		Mode:            ModeAuto,
		FallbackEnabled: true,
		RetryLimit:      2,
		Hardware:        []Backend{hw},
		Software:        fakeSW(),
	})
	defer sel.Close()

	ctx := context.Background()
	if err := sel.Start(ctx, testParams1080p()); err != nil {
		t.Fatal(err)
	}
	if err := sel.Submit(ctx, h264Packet(0)); err != nil {
		t.Fatalf("fallback should absorb the escalated error: %v", err)
	}
	if got := sel.State(); got != StateSoftwareActive {
		t.Errorf("state = %v, want software_active", got)
	}
	if got := sel.FallbackCount(); got != 1 {
		t.Errorf("FallbackCount = %d, want 1", got)
	}
}

func TestSelector_FallbackDisabledFails(t *testing.T) {
	t.Parallel()
	hw := fakeHW(func(b *fakeBackend) { b.failFatalAfter = 1 })
	sel := NewSelector(SelectorConfig{
		Mode:            ModeAuto,
		FallbackEnabled: false,
		Hardware:        []Backend{hw},
		Software:        fakeSW(),
	})
	defer sel.Close()

	ctx := context.Background()
	if err := sel.Start(ctx, testParams1080p()); err != nil {
		t.Fatal(err)
	}
	err := sel.Submit(ctx, h264Packet(0))
	if err == nil {
		t.Fatal("fatal error with fallback disabled should surface")
	}
	if got := sel.State(); got != StateFailed {
		t.Errorf("state = %v, want failed", got)
	}
}

func TestSelector_ForceSoftwareSkipsHardware(t *testing.T) {
	t.Parallel()
	hw := fakeHW()
	sel := NewSelector(SelectorConfig{
		Mode:     ModeForceSoftware,
		Hardware: []Backend{hw},
		Software: fakeSW(),
	})
	defer sel.Close()

	if err := sel.Start(context.Background(), testParams1080p()); err != nil {
		t.Fatal(err)
	}
	if got := sel.State(); got != StateSoftwareActive {
		t.Errorf("state = %v, want software_active", got)
	}
	if got := hw.openCount(); got != 0 {
		t.Errorf("hardware opened %d times, want 0", got)
	}
}

func TestSelector_ForceHardwareWithoutDeviceFails(t *testing.T) {
	t.Parallel()
	hw := fakeHW(func(b *fakeBackend) {
		b.probeErr = fmt.Errorf("%w: no device", ErrUnsupported)
	})
	sel := NewSelector(SelectorConfig{
		Mode:     ModeForceHardware,
		Hardware: []Backend{hw},
		Software: fakeSW(),
	})
	defer sel.Close()

	err := sel.Start(context.Background(), testParams1080p())
	if err == nil {
		t.Fatal("force-hardware with no device should fail")
	}
	if got := sel.State(); got != StateFailed {
		t.Errorf("state = %v, want failed", got)
	}
}

func TestSelector_CorruptPacketPassesThrough(t *testing.T) {
	t.Parallel()
	sel := NewSelector(SelectorConfig{
		Mode:            ModeForceSoftware,
		FallbackEnabled: true,
		Software:        NewSoftwareBackend(),
	})
	defer sel.Close()

	ctx := context.Background()
	if err := sel.Start(ctx, testParams1080p()); err != nil {
		t.Fatal(err)
	}
	pkt := &media.Packet{Codec: media.CodecH264, Data: []byte{0xBA, 0xD0}}
	if err := sel.Submit(ctx, pkt); !errors.Is(err, ErrCorruptPacket) {
		t.Fatalf("err = %v, want ErrCorruptPacket", err)
	}
	if got := sel.State(); got != StateSoftwareActive {
		t.Errorf("state = %v, want software_active (corrupt packet is not fatal)", got)
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"auto", ModeAuto, false},
		{"", ModeAuto, false},
		{"force-hardware", ModeForceHardware, false},
		{"force-software", ModeForceSoftware, false},
		{"turbo", ModeAuto, true},
	}
	for _, tc := range cases {
		got, err := ParseMode(tc.in)
		if tc.wantErr != (err != nil) {
			t.Errorf("ParseMode(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
