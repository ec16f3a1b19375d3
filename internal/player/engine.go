package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/kino-av/kino/internal/avsync"
	"github.com/kino-av/kino/internal/decoder"
	"github.com/kino-av/kino/internal/framequeue"
	"github.com/kino-av/kino/media"
)

// errPlaybackComplete signals normal end of playback through the errgroup so
// both tasks wind down together.
var errPlaybackComplete = errors.New("playback complete")

// DefaultCorruptLimit ends the stream after this many consecutive
// undecodable packets.
const DefaultCorruptLimit = 20

// queueBackoff is how long the decode task sleeps when the frame queue is
// full before retrying the push.
const queueBackoff = 2 * time.Millisecond

// idlePoll is the presentation task's sleep when the queue is empty.
const idlePoll = time.Millisecond

// Config tunes an Engine.
type Config struct {
	QueueCapacity int
	Sync          avsync.Options
	// CorruptLimit bounds consecutive corrupt packets; zero means the
	// default.
	CorruptLimit int
}

// Engine drives one playback session: the decode task pulls packets from the
// Source through the selector into the frame queue, the presentation task
// pulls frames out past the synchronizer into the Sink.
type Engine struct {
	log   *slog.Logger
	src   Source
	sink  Sink
	sel   *decoder.Selector
	queue *framequeue.Queue
	clock *avsync.Clock
	sync  *avsync.Synchronizer
	fps   fpsMeter

	corruptLimit int

	// epoch increments on every seek. The presentation task stamps a frame
	// with the epoch at pop time and discards it if a seek landed while the
	// frame was being held.
	epoch   atomic.Uint64
	seekCh  chan seekRequest
	stopped chan struct{}
	running atomic.Bool
	eof     atomic.Bool

	// position tracks the last displayed PTS in microseconds.
	position atomic.Int64
}

type seekRequest struct {
	target time.Duration
	done   chan error
}

// New assembles an engine. tap may be nil for video-only playback.
func New(src Source, sink Sink, tap avsync.AudioTap, sel *decoder.Selector, cfg Config) *Engine {
	clock := avsync.NewClock(tap)
	if cfg.CorruptLimit <= 0 {
		cfg.CorruptLimit = DefaultCorruptLimit
	}
	return &Engine{
		log:          slog.With("component", "player"),
		src:          src,
		sink:         sink,
		sel:          sel,
		queue:        framequeue.New(cfg.QueueCapacity),
		clock:        clock,
		sync:         avsync.NewSynchronizer(clock, cfg.Sync),
		corruptLimit: cfg.CorruptLimit,
		seekCh:       make(chan seekRequest),
		stopped:      make(chan struct{}),
	}
}

// Run opens the decode session and blocks until the stream ends, the context
// is cancelled, or a task fails. The session is always closed on return.
func (e *Engine) Run(ctx context.Context, params decoder.StreamParams) error {
	if err := e.sel.Start(ctx, params); err != nil {
		return err
	}
	e.running.Store(true)
	defer func() {
		e.running.Store(false)
		close(e.stopped)
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.decodeLoop(ctx) })
	g.Go(func() error { return e.presentLoop(ctx) })

	var errs *multierror.Error
	if err := g.Wait(); err != nil &&
		!errors.Is(err, errPlaybackComplete) && !errors.Is(err, context.Canceled) {
		errs = multierror.Append(errs, err)
	}
	if err := e.sel.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	e.queue.Flush()
	return errs.ErrorOrNil()
}

// decodeLoop feeds the frame queue. On end of stream it drains the session
// and parks, staying responsive to seeks.
func (e *Engine) decodeLoop(ctx context.Context) error {
	corruptRun := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-e.seekCh:
			req.done <- e.applySeek(req.target)
			corruptRun = 0
			continue
		default:
		}

		if e.eof.Load() {
			// Parked at end of stream; only a seek or cancellation wakes us.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case req := <-e.seekCh:
				req.done <- e.applySeek(req.target)
				corruptRun = 0
			}
			continue
		}

		pkt, err := e.src.ReadPacket()
		if errors.Is(err, io.EOF) {
			seeked := false
			for _, f := range e.sel.Flush() {
				var perr error
				if seeked, perr = e.pushFrame(ctx, f); perr != nil {
					return perr
				}
				if seeked {
					break
				}
			}
			if seeked {
				// The rest of the flushed frames belong to the old timeline.
				corruptRun = 0
				continue
			}
			e.eof.Store(true)
			e.log.Debug("end of stream")
			continue
		}
		if err != nil {
			return fmt.Errorf("read packet: %w", err)
		}

		if err := e.sel.Submit(ctx, pkt); err != nil {
			if errors.Is(err, decoder.ErrCorruptPacket) {
				corruptRun++
				if corruptRun >= e.corruptLimit {
					return fmt.Errorf("%w: %d in a row", ErrTooManyCorrupt, corruptRun)
				}
				e.log.Debug("skipping corrupt packet", "run", corruptRun, "error", err)
				continue
			}
			return err
		}
		corruptRun = 0

		for {
			f, ok := e.sel.Retrieve()
			if !ok {
				break
			}
			seeked, err := e.pushFrame(ctx, f)
			if err != nil {
				return err
			}
			if seeked {
				corruptRun = 0
				break
			}
		}
	}
}

// pushFrame pushes with backpressure: a full queue stalls decoding rather
// than dropping. A seek arriving mid-stall discards the pending frame, which
// predates the seek by construction; seeked tells the caller to abandon any
// other frames it was about to push from the old timeline.
func (e *Engine) pushFrame(ctx context.Context, f *media.Frame) (seeked bool, err error) {
	for {
		err := e.queue.Push(f)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, framequeue.ErrQueueFull) {
			return false, err
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case req := <-e.seekCh:
			req.done <- e.applySeek(req.target)
			return true, nil
		case <-time.After(queueBackoff):
		}
	}
}

// applySeek runs on the decode task. The queue flush, source seek, session
// flush, and clock reset all complete before any post-seek frame is decoded.
func (e *Engine) applySeek(target time.Duration) error {
	e.sel.Flush()
	if err := e.src.Seek(target); err != nil {
		return err
	}
	e.queue.Flush()
	e.clock.Reset(target)
	e.sync.ResetDegraded()
	e.fps.reset()
	e.position.Store(int64(target / time.Microsecond))
	e.epoch.Add(1)
	e.eof.Store(false)
	e.log.Debug("seek applied", "target", target)
	return nil
}

// presentLoop drains the queue into the sink under synchronizer control.
func (e *Engine) presentLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, ok := e.queue.Pop()
		if !ok {
			if e.eof.Load() && e.queue.Len() == 0 {
				// Give a pending seek a chance before finishing.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(idlePoll):
					if e.eof.Load() && e.queue.Len() == 0 {
						return errPlaybackComplete
					}
				}
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idlePoll):
			}
			continue
		}

		epoch := e.epoch.Load()
		decision := e.sync.Decide(f.PTS)
		switch decision.Kind {
		case avsync.Drop:
			continue
		case avsync.Hold:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(decision.Wait):
			}
			if e.epoch.Load() != epoch {
				// Seek landed while holding; the frame belongs to the old
				// timeline.
				continue
			}
		}

		deadline := time.Now().Add(f.Duration)
		if err := e.sink.Present(f, deadline); err != nil {
			return fmt.Errorf("present: %w", err)
		}
		e.sync.MarkDisplayed()
		e.position.Store(int64(f.PTS / time.Microsecond))
		e.fps.record(time.Now())
	}
}

// Seek moves playback. Blocks until the decode task applied the seek or the
// target is rejected. An out-of-range target changes nothing.
func (e *Engine) Seek(target time.Duration) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	if target < 0 || target > e.src.Duration() {
		return fmt.Errorf("%w: %v not in [0, %v]", ErrSeekOutOfRange, target, e.src.Duration())
	}

	req := seekRequest{target: target, done: make(chan error, 1)}
	select {
	case e.seekCh <- req:
	case <-e.stopped:
		return ErrNotRunning
	}
	select {
	case err := <-req.done:
		return err
	case <-e.stopped:
		return ErrNotRunning
	}
}

// Snapshot returns current playback telemetry.
func (e *Engine) Snapshot() Snapshot {
	now := time.Now()
	return Snapshot{
		Timestamp:      now.UnixMilli(),
		State:          e.sel.State().String(),
		Backend:        e.sel.ActiveBackend(),
		FPS:            e.fps.rate(now),
		Displayed:      e.sync.Displayed(),
		Dropped:        e.sync.Dropped(),
		QueueDepth:     e.queue.Len(),
		QueueCapacity:  e.queue.Cap(),
		Queue:          e.queue.Stats(),
		Fallbacks:      e.sel.FallbackCount(),
		FallbackReason: e.sel.FallbackReason(),
		Degraded:       e.sync.Degraded(),
		PositionMs:     e.position.Load() / 1000,
	}
}
