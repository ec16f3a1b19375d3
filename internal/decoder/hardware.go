package decoder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kino-av/kino/media"
)

// deviceQueueCap is the number of in-flight output surfaces a hardware
// session holds before Submit pushes back. Mirrors the small fixed surface
// pools vendor decoders allocate.
const deviceQueueCap = 8

// openTimeout bounds hardware session creation. A driver that hangs past
// this is reported as a transient device error.
const openTimeout = 2 * time.Second

// hardwareBackend is the shared implementation behind the vendor backends.
// Each vendor contributes its driver library, required entry points, and
// capability table; probing dlopens the driver and resolves the entry points,
// so a machine without the vendor stack cleanly reports ErrUnsupported.
type hardwareBackend struct {
	id      string
	envVar  string
	libName string
	symbols []string
	codecs  map[media.Codec]CodecLimit
	log     *slog.Logger

	mu       sync.Mutex
	probed   bool
	probeErr error
	drv      *driverHandle
}

func newHardwareBackend(id, envVar, libName string, symbols []string, codecs map[media.Codec]CodecLimit) *hardwareBackend {
	return &hardwareBackend{
		id:      id,
		envVar:  envVar,
		libName: libName,
		symbols: symbols,
		codecs:  codecs,
		log:     slog.With("component", "decoder", "backend", id),
	}
}

// ID implements Backend.
func (b *hardwareBackend) ID() string { return b.id }

// Probe implements Backend. The driver is loaded once; subsequent calls
// return the cached outcome.
func (b *hardwareBackend) Probe(ctx context.Context) (Capability, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.probed {
		b.probed = true
		drv, err := openDriver(driverSearchPaths(b.envVar, b.libName), b.symbols)
		if err != nil {
			b.probeErr = fmt.Errorf("%w: %s driver unavailable: %v", ErrUnsupported, b.id, err)
			b.log.Debug("probe failed", "lib", b.libName, "error", err)
		} else {
			b.drv = drv
			b.log.Info("driver loaded", "lib", drv.Path)
		}
	}
	if b.probeErr != nil {
		return Capability{}, b.probeErr
	}

	return Capability{Backend: b.id, Class: media.ClassHardware, Codecs: b.codecs}, nil
}

// Open implements Backend.
func (b *hardwareBackend) Open(ctx context.Context, params StreamParams) (Session, error) {
	cap, err := b.Probe(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateOpen(cap, params); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, &DeviceError{Backend: b.id, Op: "open",
			Err: fmt.Errorf("%w: %v", ErrTransientDevice, err)}
	}

	origin := media.Origin{Backend: b.id, Class: media.ClassHardware}
	s := &hardwareSession{
		backend: b.id,
		asm:     newFrameAssembler(params, origin, media.PixelFormatNV12),
	}

	b.log.Debug("session opened",
		"codec", params.Codec.String(),
		"width", params.Width,
		"height", params.Height)
	return s, nil
}

// Close releases the driver handle. Probing after Close reloads it.
func (b *hardwareBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probed = false
	b.probeErr = nil
	if b.drv == nil {
		return nil
	}
	err := b.drv.Close()
	b.drv = nil
	return err
}

// hardwareSession models a vendor decode session with a bounded surface
// pool. Decoded output shares the deterministic reconstruction core with the
// software path; frames carry the hardware origin tag.
type hardwareSession struct {
	mu      sync.Mutex
	backend string
	asm     *frameAssembler
	closed  bool
}

// Submit implements Session. A full surface pool is transient backpressure,
// not an error class the caller should escalate.
func (s *hardwareSession) Submit(ctx context.Context, pkt *media.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.asm.pending() >= deviceQueueCap {
		return &DeviceError{Backend: s.backend, Op: "submit",
			Err: fmt.Errorf("%w: surface pool exhausted", ErrTransientDevice)}
	}
	if err := s.asm.submit(pkt); err != nil {
		return &DeviceError{Backend: s.backend, Op: "submit", Err: err}
	}
	return nil
}

// Retrieve implements Session.
func (s *hardwareSession) Retrieve() (*media.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	return s.asm.retrieve()
}

// Flush implements Session.
func (s *hardwareSession) Flush() []*media.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.asm.flush()
}

// Close implements Session. Idempotent; drops any unretrieved surfaces.
func (s *hardwareSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.asm.flush()
	return nil
}
