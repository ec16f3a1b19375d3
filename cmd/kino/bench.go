package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kino-av/kino/internal/bench"
	"github.com/kino-av/kino/internal/decoder"
	"github.com/kino-av/kino/internal/source/mpegts"
	"github.com/kino-av/kino/internal/source/synthetic"
)

func newBenchCmd() *cobra.Command {
	var (
		flagJSON    bool
		flagBackend string
		flagWidth   int
		flagHeight  int
		flagFPS     float64
		flagGOP     int
		flagFrames  int
	)

	cmd := &cobra.Command{
		Use:   "bench [file.ts]",
		Short: "measure decode throughput on every available backend",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			backends, err := selectBackends(flagBackend)
			if err != nil {
				return err
			}
			suite := &bench.Suite{
				Backends: backends,
				Config:   cfg.BenchOptions(),
			}

			if len(args) == 1 {
				path := args[0]
				probe, err := mpegts.Open(path)
				if err != nil {
					return err
				}
				suite.Params = probe.StreamParams()
				probe.Close()
				suite.NewSource = func() (bench.PacketReader, error) {
					return mpegts.Open(path)
				}
			} else {
				gen := synthetic.Config{
					Width:      flagWidth,
					Height:     flagHeight,
					FrameRate:  flagFPS,
					GOPSize:    flagGOP,
					FrameCount: flagFrames,
				}
				probe, err := synthetic.New(gen)
				if err != nil {
					return err
				}
				suite.Params = probe.StreamParams()
				suite.NewSource = func() (bench.PacketReader, error) {
					return synthetic.New(gen)
				}
			}

			slog.Info("benchmark suite starting",
				"codec", suite.Params.Codec.String(),
				"resolution", fmtResolution(suite.Params.Width, suite.Params.Height),
				"backends", len(suite.Backends))

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			results, err := suite.Run(ctx)
			if err != nil {
				return err
			}

			if flagJSON {
				data, err := bench.ReportJSON(results)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), bench.ReportText(results))
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagJSON, "json", false, "emit results as JSON")
	cmd.Flags().StringVar(&flagBackend, "backend", "", "restrict to one backend (nvdec, amf, vaapi, software)")
	cmd.Flags().IntVar(&flagWidth, "width", 1920, "synthetic stream width")
	cmd.Flags().IntVar(&flagHeight, "height", 1080, "synthetic stream height")
	cmd.Flags().Float64Var(&flagFPS, "fps", 60, "synthetic stream frame rate")
	cmd.Flags().IntVar(&flagGOP, "gop", 30, "synthetic keyframe interval")
	cmd.Flags().IntVar(&flagFrames, "frames", 600, "synthetic stream length in frames")
	return cmd
}

// allBackends is the probe order: hardware by priority, then software.
func allBackends() []decoder.Backend {
	return []decoder.Backend{
		decoder.NewNVDECBackend(),
		decoder.NewAMFBackend(),
		decoder.NewVAAPIBackend(),
		decoder.NewSoftwareBackend(),
	}
}

// selectBackends narrows the suite to one backend by ID; an empty name keeps
// them all. An unknown name is an error rather than a silent full run.
func selectBackends(name string) ([]decoder.Backend, error) {
	all := allBackends()
	if name == "" {
		return all, nil
	}
	for _, b := range all {
		if b.ID() == name {
			return []decoder.Backend{b}, nil
		}
	}
	ids := make([]string, len(all))
	for i, b := range all {
		ids[i] = b.ID()
	}
	return nil, fmt.Errorf("unknown backend %q (available: %s)", name, strings.Join(ids, ", "))
}
