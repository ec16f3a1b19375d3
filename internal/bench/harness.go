package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kino-av/kino/internal/decoder"
	"github.com/kino-av/kino/media"
)

// DefaultWarmupFrames are decoded before measurement starts, letting caches
// and driver state settle.
const DefaultWarmupFrames = 30

// PacketReader is the bitstream feed for a benchmark run. ReadPacket returns
// io.EOF at end of stream.
type PacketReader interface {
	ReadPacket() (*media.Packet, error)
}

// Config bounds a benchmark run. Zero limits mean run to end of stream.
type Config struct {
	// WarmupFrames are decoded and discarded before timing begins. Negative
	// disables warmup; zero means the default.
	WarmupFrames int
	// MaxFrames stops after this many measured frames.
	MaxFrames int
	// MaxDuration stops after this much wall time in the measured phase.
	MaxDuration time.Duration
}

func (c Config) warmup() int {
	if c.WarmupFrames == 0 {
		return DefaultWarmupFrames
	}
	if c.WarmupFrames < 0 {
		return 0
	}
	return c.WarmupFrames
}

// Result is the JSON-serializable artifact of one benchmark run.
type Result struct {
	RunID      string    `json:"run_id"`
	Decoder    string    `json:"decoder"`
	Class      string    `json:"class"`
	Codec      string    `json:"codec"`
	Resolution string    `json:"resolution"`
	NominalFPS float64   `json:"nominal_fps"`
	FrameCount uint64    `json:"frame_count"`
	MeanFPS    float64   `json:"mean_fps"`
	MedianMs   float64   `json:"median_ms"`
	P99Ms      float64   `json:"p99_ms"`
	SpeedRatio float64   `json:"speed_ratio"`
	Rating     Rating    `json:"rating"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Stats Stats `json:"stats"`
	// Keyframe and inter-frame decode costs differ by an order of magnitude;
	// the split makes regressions in either visible.
	KeyframeStats Stats `json:"keyframe_stats"`
	InterStats    Stats `json:"inter_stats"`
}

// Run executes one closed-loop benchmark: packets are submitted as fast as
// the session accepts them, each decoded frame is timed, and the measured
// series is summarized. The session is private to the run and closed on
// return; live playback is never measured through here.
func Run(ctx context.Context, backend decoder.Backend, params decoder.StreamParams, src PacketReader, cfg Config) (Result, error) {
	log := slog.With("component", "bench", "backend", backend.ID())

	cap, err := backend.Probe(ctx)
	if err != nil {
		return Result{}, err
	}
	sess, err := backend.Open(ctx, params)
	if err != nil {
		return Result{}, err
	}
	defer sess.Close()

	warmup := cfg.warmup()
	started := time.Now()
	var (
		timings    []Timing
		frameTotal uint64
		measureT0  time.Time
	)

	log.Info("benchmark starting",
		"codec", params.Codec.String(),
		"resolution", fmt.Sprintf("%dx%d", params.Width, params.Height),
		"warmup", warmup)

loop:
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if cfg.MaxFrames > 0 && len(timings) >= cfg.MaxFrames {
			break
		}
		if cfg.MaxDuration > 0 && !measureT0.IsZero() && time.Since(measureT0) >= cfg.MaxDuration {
			break
		}

		pkt, err := src.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("read packet: %w", err)
		}

		t0 := time.Now()
		if err := sess.Submit(ctx, pkt); err != nil {
			if errors.Is(err, decoder.ErrCorruptPacket) {
				continue
			}
			return Result{}, fmt.Errorf("submit: %w", err)
		}
		for {
			f, ok := sess.Retrieve()
			if !ok {
				break
			}
			elapsed := time.Since(t0)
			frameTotal++
			if frameTotal <= uint64(warmup) {
				continue
			}
			if measureT0.IsZero() {
				measureT0 = time.Now()
			}
			timings = append(timings, Timing{
				FrameNumber: frameTotal - uint64(warmup),
				DecodeTime:  elapsed,
				SizeBytes:   len(pkt.Data),
				Keyframe:    f.Keyframe,
			})
			if cfg.MaxFrames > 0 && len(timings) >= cfg.MaxFrames {
				break loop
			}
		}
	}

	if len(timings) == 0 {
		return Result{}, errors.New("bench: no frames measured")
	}

	var key, inter []Timing
	for _, t := range timings {
		if t.Keyframe {
			key = append(key, t)
		} else {
			inter = append(inter, t)
		}
	}

	stats := ComputeStats(timings)
	nominal := params.FrameRate
	ratio := 0.0
	if nominal > 0 {
		ratio = stats.FPS / nominal
	}

	res := Result{
		RunID:         uuid.NewString(),
		Decoder:       backend.ID(),
		Class:         cap.Class.String(),
		Codec:         params.Codec.String(),
		Resolution:    fmt.Sprintf("%dx%d", params.Width, params.Height),
		NominalFPS:    nominal,
		FrameCount:    stats.Count,
		MeanFPS:       stats.FPS,
		MedianMs:      stats.MedianUs / 1000,
		P99Ms:         stats.P99Us / 1000,
		SpeedRatio:    ratio,
		Rating:        RateSpeed(ratio),
		StartedAt:     started,
		FinishedAt:    time.Now(),
		Stats:         stats,
		KeyframeStats: ComputeStats(key),
		InterStats:    ComputeStats(inter),
	}

	log.Info("benchmark finished",
		"frames", res.FrameCount,
		"mean_fps", fmt.Sprintf("%.1f", res.MeanFPS),
		"rating", string(res.Rating))
	return res, nil
}
