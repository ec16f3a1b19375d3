// Package bench measures decode throughput. The harness runs a closed loop
// over a decode session, timing every frame after a warmup period, and
// distills the samples into latency percentiles, a mean frame rate, and a
// realtime rating.
package bench

import (
	"math"
	"sort"
	"time"
)

// Timing is one measured frame.
type Timing struct {
	FrameNumber uint64        `json:"frame_number"`
	DecodeTime  time.Duration `json:"decode_time_us"`
	SizeBytes   int           `json:"size_bytes"`
	Keyframe    bool          `json:"is_keyframe"`
}

// Stats is the statistical summary of a timing series. Latency values are in
// microseconds for JSON stability.
type Stats struct {
	Count    uint64  `json:"count"`
	TotalUs  int64   `json:"total_time_us"`
	MinUs    int64   `json:"min_us"`
	MaxUs    int64   `json:"max_us"`
	MeanUs   float64 `json:"mean_us"`
	MedianUs float64 `json:"median_us"`
	StdDevUs float64 `json:"std_dev_us"`
	P50Us    float64 `json:"p50_us"`
	P90Us    float64 `json:"p90_us"`
	P95Us    float64 `json:"p95_us"`
	P99Us    float64 `json:"p99_us"`
	// FPS is frames per second over the summed decode time.
	FPS float64 `json:"fps"`
}

// ComputeStats summarizes a timing series. An empty series yields zeroes.
func ComputeStats(timings []Timing) Stats {
	if len(timings) == 0 {
		return Stats{}
	}

	times := make([]int64, len(timings))
	var total int64
	for i, t := range timings {
		us := t.DecodeTime.Microseconds()
		times[i] = us
		total += us
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	count := len(times)
	mean := float64(total) / float64(count)

	var median float64
	if count%2 == 0 {
		median = float64(times[count/2-1]+times[count/2]) / 2
	} else {
		median = float64(times[count/2])
	}

	var variance float64
	for _, us := range times {
		diff := float64(us) - mean
		variance += diff * diff
	}
	variance /= float64(count)

	fps := 0.0
	if total > 0 {
		fps = float64(count) / (float64(total) / 1e6)
	}

	return Stats{
		Count:    uint64(count),
		TotalUs:  total,
		MinUs:    times[0],
		MaxUs:    times[count-1],
		MeanUs:   mean,
		MedianUs: median,
		StdDevUs: math.Sqrt(variance),
		P50Us:    percentile(times, 50),
		P90Us:    percentile(times, 90),
		P95Us:    percentile(times, 95),
		P99Us:    percentile(times, 99),
		FPS:      fps,
	}
}

// percentile reads the nearest-rank value from an ascending series.
func percentile(sorted []int64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Round(p / 100 * float64(len(sorted)-1)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return float64(sorted[idx])
}

// Rating grades decode speed against the stream's nominal rate.
type Rating string

// Ratings, from a multiple of realtime speed.
const (
	RatingExcellent  Rating = "Excellent"  // 3x realtime or better
	RatingGood       Rating = "Good"       // 1.5x to 3x
	RatingAcceptable Rating = "Acceptable" // 1x to 1.5x
	RatingPoor       Rating = "Poor"       // below realtime
)

// RateSpeed converts a decode-rate/nominal-rate ratio into a Rating.
func RateSpeed(speedRatio float64) Rating {
	switch {
	case speedRatio >= 3.0:
		return RatingExcellent
	case speedRatio >= 1.5:
		return RatingGood
	case speedRatio >= 1.0:
		return RatingAcceptable
	default:
		return RatingPoor
	}
}
