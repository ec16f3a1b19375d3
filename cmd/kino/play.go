package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kino-av/kino/internal/decoder"
	"github.com/kino-av/kino/internal/player"
	"github.com/kino-av/kino/internal/source/mpegts"
	"github.com/kino-av/kino/internal/source/synthetic"
	"github.com/kino-av/kino/media"
)

// nullSink consumes frames without rendering. Presentation pacing is done by
// the synchronizer before Present is called, so playback still runs at the
// stream's real-time rate.
type nullSink struct {
	frames atomic.Uint64
}

func (s *nullSink) Present(f *media.Frame, deadline time.Time) error {
	s.frames.Add(1)
	return nil
}

func newPlayCmd() *cobra.Command {
	var (
		flagStart     time.Duration
		flagStats     time.Duration
		flagSynthetic bool
		flagFrames    int
	)

	cmd := &cobra.Command{
		Use:   "play [file.ts]",
		Short: "play an MPEG-TS file (or a synthetic stream) through the decode pipeline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var (
				src    player.Source
				params decoder.StreamParams
			)
			switch {
			case len(args) == 1:
				f, err := mpegts.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src, params = f, f.StreamParams()
			case flagSynthetic:
				g, err := synthetic.New(synthetic.Config{FrameCount: flagFrames})
				if err != nil {
					return err
				}
				src, params = g, g.StreamParams()
			default:
				return fmt.Errorf("need a file argument or --synthetic")
			}

			slog.Info("playback starting",
				"codec", params.Codec.String(),
				"resolution", fmtResolution(params.Width, params.Height),
				"duration", src.Duration(),
				"mode", cfg.Decode.Mode)

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			sel := decoder.NewSelector(cfg.SelectorConfig())
			sink := &nullSink{}
			eng := player.New(src, sink, nil, sel, cfg.PlayerConfig())

			mgr := player.NewManager(nil)
			sess := mgr.Create(eng)
			defer mgr.Remove(sess.ID)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				// Cancel the helpers when playback ends normally; errgroup
				// only cancels on error.
				defer cancel()
				return eng.Run(ctx, params)
			})
			if flagStart > 0 {
				g.Go(func() error {
					return seekWhenRunning(ctx, eng, flagStart)
				})
			}
			g.Go(func() error {
				return reportStats(ctx, eng, flagStats)
			})

			err = g.Wait()
			snap := eng.Snapshot()
			slog.Info("playback finished",
				"presented", sink.frames.Load(),
				"displayed", snap.Displayed,
				"dropped", snap.Dropped,
				"fallbacks", snap.Fallbacks,
				"backend", snap.Backend,
				"degraded", snap.Degraded)
			return err
		},
	}

	cmd.Flags().DurationVar(&flagStart, "start", 0, "seek to this position before playing")
	cmd.Flags().DurationVar(&flagStats, "stats", 2*time.Second, "telemetry report interval (0 disables)")
	cmd.Flags().BoolVar(&flagSynthetic, "synthetic", false, "play a generated test stream instead of a file")
	cmd.Flags().IntVar(&flagFrames, "frames", 300, "synthetic stream length in frames")
	return cmd
}

// seekWhenRunning retries the initial seek until the engine's decode task is
// accepting requests.
func seekWhenRunning(ctx context.Context, eng *player.Engine, target time.Duration) error {
	for {
		err := eng.Seek(target)
		if err == nil {
			return nil
		}
		if !errors.Is(err, player.ErrNotRunning) {
			return fmt.Errorf("initial seek: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// reportStats logs a telemetry snapshot at a fixed interval until playback
// ends.
func reportStats(ctx context.Context, eng *player.Engine, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	log := slog.With("component", "telemetry")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := eng.Snapshot()
			log.Info("playback stats",
				"position_ms", snap.PositionMs,
				"fps", fmt.Sprintf("%.1f", snap.FPS),
				"backend", snap.Backend,
				"state", snap.State,
				"queue", fmt.Sprintf("%d/%d", snap.QueueDepth, snap.QueueCapacity),
				"displayed", snap.Displayed,
				"dropped", snap.Dropped,
				"degraded", snap.Degraded)
		}
	}
}
