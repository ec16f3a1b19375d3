package bench

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kino-av/kino/internal/decoder"
	"github.com/kino-av/kino/internal/source/synthetic"
	"github.com/kino-av/kino/media"
)

func newBenchSource(t *testing.T, frames int) (*synthetic.Source, decoder.StreamParams) {
	t.Helper()
	src, err := synthetic.New(synthetic.Config{
		Width:      320,
		Height:     240,
		FrameRate:  30,
		GOPSize:    15,
		FrameCount: frames,
	})
	if err != nil {
		t.Fatal(err)
	}
	return src, src.StreamParams()
}

func TestRun_Software(t *testing.T) {
	t.Parallel()
	src, params := newBenchSource(t, 120)

	res, err := Run(context.Background(), decoder.NewSoftwareBackend(), params, src, Config{
		WarmupFrames: 20,
	})
	if err != nil {
		t.Fatal(err)
	}

	if res.Decoder != "software" {
		t.Errorf("Decoder = %q, want software", res.Decoder)
	}
	if res.Class != "software" {
		t.Errorf("Class = %q, want software", res.Class)
	}
	if res.FrameCount != 100 {
		t.Errorf("FrameCount = %d, want 100 (120 minus 20 warmup)", res.FrameCount)
	}
	if res.Resolution != "320x240" {
		t.Errorf("Resolution = %q, want 320x240", res.Resolution)
	}
	if res.MeanFPS <= 0 {
		t.Error("MeanFPS should be positive")
	}
	if res.Rating == "" {
		t.Error("Rating should be set")
	}
	if res.RunID == "" {
		t.Error("RunID should be assigned")
	}
	if res.Stats.Count != res.KeyframeStats.Count+res.InterStats.Count {
		t.Errorf("split stats %d+%d do not sum to %d",
			res.KeyframeStats.Count, res.InterStats.Count, res.Stats.Count)
	}
	if res.FinishedAt.Before(res.StartedAt) {
		t.Error("FinishedAt before StartedAt")
	}
}

func TestRun_MaxFramesStopsEarly(t *testing.T) {
	t.Parallel()
	src, params := newBenchSource(t, 500)

	res, err := Run(context.Background(), decoder.NewSoftwareBackend(), params, src, Config{
		WarmupFrames: 10,
		MaxFrames:    25,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.FrameCount != 25 {
		t.Errorf("FrameCount = %d, want 25", res.FrameCount)
	}
}

func TestRun_RepeatStability(t *testing.T) {
	t.Parallel()
	run := func() Result {
		src, params := newBenchSource(t, 150)
		res, err := Run(context.Background(), decoder.NewSoftwareBackend(), params, src, Config{
			WarmupFrames: 30,
		})
		if err != nil {
			t.Fatal(err)
		}
		return res
	}

	a, b := run(), run()
	// The stream is deterministic, so structure-level results must repeat
	// exactly even when wall-clock timings wobble.
	if a.FrameCount != b.FrameCount {
		t.Errorf("frame counts differ: %d vs %d", a.FrameCount, b.FrameCount)
	}
	if a.KeyframeStats.Count != b.KeyframeStats.Count {
		t.Errorf("keyframe counts differ: %d vs %d",
			a.KeyframeStats.Count, b.KeyframeStats.Count)
	}
	if a.RunID == b.RunID {
		t.Error("each run should get its own RunID")
	}
}

func TestRun_UnsupportedBackend(t *testing.T) {
	t.Parallel()
	src, params := newBenchSource(t, 30)
	backend := &unavailableBackend{}
	_, err := Run(context.Background(), backend, params, src, Config{})
	if !errors.Is(err, decoder.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

type unavailableBackend struct{}

func (unavailableBackend) ID() string { return "absent-hw" }
func (unavailableBackend) Probe(ctx context.Context) (decoder.Capability, error) {
	return decoder.Capability{}, fmt.Errorf("%w: driver missing", decoder.ErrUnsupported)
}
func (unavailableBackend) Open(ctx context.Context, params decoder.StreamParams) (decoder.Session, error) {
	return nil, fmt.Errorf("%w: driver missing", decoder.ErrUnsupported)
}

func TestSuite_SkipsUnavailableBackends(t *testing.T) {
	t.Parallel()
	_, params := newBenchSource(t, 80)

	suite := &Suite{
		Backends: []decoder.Backend{
			unavailableBackend{},
			decoder.NewSoftwareBackend(),
		},
		Params: params,
		NewSource: func() (PacketReader, error) {
			return synthetic.New(synthetic.Config{
				Width: 320, Height: 240, FrameRate: 30, GOPSize: 15, FrameCount: 80,
			})
		},
		Config: Config{WarmupFrames: 10},
	}

	results, err := suite.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (unavailable backend skipped)", len(results))
	}
	if results[0].Decoder != "software" {
		t.Errorf("Decoder = %q, want software", results[0].Decoder)
	}
}

func TestSuite_NoBackendsAvailable(t *testing.T) {
	t.Parallel()
	suite := &Suite{
		Backends: []decoder.Backend{unavailableBackend{}},
		Params: decoder.StreamParams{
			Codec: media.CodecH264, Width: 320, Height: 240, FrameRate: 30,
		},
		NewSource: func() (PacketReader, error) {
			return synthetic.New(synthetic.Config{Width: 320, Height: 240, FrameCount: 10})
		},
	}
	if _, err := suite.Run(context.Background()); err == nil {
		t.Fatal("suite with no usable backend should fail")
	}
}

func TestReportText(t *testing.T) {
	t.Parallel()
	results := []Result{{
		Decoder:    "software",
		Class:      "software",
		Codec:      "h264",
		Resolution: "1920x1080",
		FrameCount: 1798,
		MeanFPS:    212.4,
		MedianMs:   4.2,
		P99Ms:      9.8,
		Rating:     RatingExcellent,
	}}
	out := ReportText(results)
	for _, want := range []string{"software", "h264", "1920x1080", "1798", "Excellent"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestReportJSON_RoundTrips(t *testing.T) {
	t.Parallel()
	src, params := newBenchSource(t, 60)
	res, err := Run(context.Background(), decoder.NewSoftwareBackend(), params, src, Config{WarmupFrames: 10})
	if err != nil {
		t.Fatal(err)
	}
	data, err := ReportJSON([]Result{res})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"run_id"`, `"mean_fps"`, `"rating"`, `"p99_us"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("JSON missing %s", want)
		}
	}
}
