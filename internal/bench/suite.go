package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/kino-av/kino/internal/decoder"
)

// Suite benchmarks every available backend against the same stream so their
// numbers compare directly.
type Suite struct {
	Backends []decoder.Backend
	Params   decoder.StreamParams
	// NewSource builds a fresh packet feed per run; each backend decodes an
	// identical stream from the start.
	NewSource func() (PacketReader, error)
	Config    Config
}

// Run benchmarks each backend in order. Backends that are unavailable or
// reject the stream are skipped, not failed; their probe errors are returned
// alongside the results.
func (s *Suite) Run(ctx context.Context) ([]Result, error) {
	log := slog.With("component", "bench-suite")
	var results []Result
	var skipped *multierror.Error

	for _, b := range s.Backends {
		src, err := s.NewSource()
		if err != nil {
			return results, fmt.Errorf("source for %s: %w", b.ID(), err)
		}
		res, err := Run(ctx, b, s.Params, src, s.Config)
		if err != nil {
			if errors.Is(err, decoder.ErrUnsupported) {
				log.Info("backend unavailable, skipping", "backend", b.ID())
				skipped = multierror.Append(skipped, err)
				continue
			}
			return results, fmt.Errorf("bench %s: %w", b.ID(), err)
		}
		results = append(results, res)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("no backend could run the benchmark: %w", skipped.ErrorOrNil())
	}
	return results, nil
}

// ReportJSON renders results as an indented JSON array.
func ReportJSON(results []Result) ([]byte, error) {
	return json.MarshalIndent(results, "", "  ")
}

// ReportText renders a human-readable comparison table.
func ReportText(results []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-9s %-6s %-11s %8s %9s %9s %9s  %s\n",
		"DECODER", "CLASS", "CODEC", "RESOLUTION", "FRAMES", "MEAN FPS", "MEDIAN", "P99", "RATING")
	for _, r := range results {
		fmt.Fprintf(&b, "%-10s %-9s %-6s %-11s %8d %9.1f %8.2fms %8.2fms  %s\n",
			r.Decoder, r.Class, r.Codec, r.Resolution,
			r.FrameCount, r.MeanFPS, r.MedianMs, r.P99Ms, r.Rating)
	}
	return b.String()
}
