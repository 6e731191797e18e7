// Package report summarises a dataset root: per-frame point and human point
// counts, totals, and the strength distribution.
package report

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

// StageName identifies report issues.
const StageName = "report"

// Options controls Build.
type Options struct {
	// HumanLabel is the segment code counted as human.
	HumanLabel int64
}

// DefaultOptions returns the options matching the default class map.
func DefaultOptions() Options {
	return Options{HumanLabel: 6}
}

// FrameStats describes one frame.
type FrameStats struct {
	Timestamp   string
	Points      int
	HumanPoints int
	HasSegment  bool
	StrengthMin float64
	StrengthMax float64
}

// Quantiles of the pooled strength values.
type Quantiles struct {
	Count int
	Min   float64
	P50   float64
	P95   float64
	P99   float64
	Max   float64
}

// Summary is the report for a dataset root.
type Summary struct {
	Root        string
	Frames      []FrameStats
	TotalPoints int
	TotalHuman  int
	Strength    Quantiles
	// SuggestedCeiling is the p99 strength, a starting point for the scale
	// stage's normalisation ceiling. Zero when no strength was read.
	SuggestedCeiling float64
	Result           *pipeline.Result

	strength []float64 // sorted
}

// HumanFraction returns TotalHuman / TotalPoints, or 0 for an empty set.
func (s *Summary) HumanFraction() float64 {
	if s.TotalPoints == 0 {
		return 0
	}
	return float64(s.TotalHuman) / float64(s.TotalPoints)
}

// StrengthValues returns the pooled, sorted strength values.
func (s *Summary) StrengthValues() []float64 { return s.strength }

// Build loads every frame under store and summarises it. Frames that cannot
// be read or have unequal array lengths are reported on Summary.Result and
// left out of the totals.
func Build(ctx context.Context, store *dataset.Store, opts Options) (*Summary, error) {
	frames, err := store.ListFrames()
	if err != nil {
		return nil, err
	}

	sum := &Summary{Root: store.Root(), Result: pipeline.NewResult(StageName)}
	for _, ts := range frames {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		dir, _ := store.Layout().FrameDir(ts)
		f, err := store.LoadFrame(ts)
		if err != nil {
			sum.Result.Report(&pipeline.Issue{Kind: pipeline.KindOf(err, pipeline.ErrSourceFormat), Path: dir, Timestamp: string(ts), Err: err})
			sum.Result.FramesSkipped++
			continue
		}
		if issues := dataset.ValidateFrame(f, dataset.ValidateOptions{}); len(issues) > 0 {
			for _, issue := range issues {
				issue.Path = dir
				sum.Result.Report(issue)
			}
			sum.Result.FramesSkipped++
			continue
		}

		fs := frameStats(f, opts.HumanLabel)
		sum.Frames = append(sum.Frames, fs)
		sum.TotalPoints += fs.Points
		sum.TotalHuman += fs.HumanPoints
		if f.Strength != nil {
			sum.strength = append(sum.strength, f.Strength.Values...)
		}
		sum.Result.FrameDone(pipeline.FrameSummary{Root: store.Root(), Timestamp: string(ts), Points: fs.Points, HumanPoints: fs.HumanPoints})
		logging.Tracef("report: frame %s points=%d human=%d", ts, fs.Points, fs.HumanPoints)
	}

	sort.Float64s(sum.strength)
	sum.Strength = strengthQuantiles(sum.strength)
	sum.SuggestedCeiling = sum.Strength.P99
	logging.Diagf("report: %d frames, %d points, %d human, suggested ceiling %g",
		len(sum.Frames), sum.TotalPoints, sum.TotalHuman, sum.SuggestedCeiling)
	return sum, nil
}

func frameStats(f *dataset.Frame, human int64) FrameStats {
	fs := FrameStats{Timestamp: string(f.Timestamp), Points: f.Len(), HasSegment: f.Segment != nil}
	for _, code := range f.Segment {
		if code == human {
			fs.HumanPoints++
		}
	}
	if f.Strength != nil && len(f.Strength.Values) > 0 {
		fs.StrengthMin = floats.Min(f.Strength.Values)
		fs.StrengthMax = floats.Max(f.Strength.Values)
	}
	return fs
}

// strengthQuantiles computes empirical quantiles over sorted values.
func strengthQuantiles(sorted []float64) Quantiles {
	if len(sorted) == 0 {
		return Quantiles{}
	}
	q := func(p float64) float64 { return stat.Quantile(p, stat.Empirical, sorted, nil) }
	return Quantiles{
		Count: len(sorted),
		Min:   sorted[0],
		P50:   q(0.50),
		P95:   q(0.95),
		P99:   q(0.99),
		Max:   sorted[len(sorted)-1],
	}
}

// Mean returns the mean strength, or NaN when there is none.
func (s *Summary) Mean() float64 {
	if len(s.strength) == 0 {
		return math.NaN()
	}
	return stat.Mean(s.strength, nil)
}

// String returns a one-line summary.
func (s *Summary) String() string {
	return fmt.Sprintf("%s: %d frames, %d points, %d human (%.2f%%), strength p50=%g p95=%g p99=%g max=%g",
		s.Root, len(s.Frames), s.TotalPoints, s.TotalHuman, 100*s.HumanFraction(),
		s.Strength.P50, s.Strength.P95, s.Strength.P99, s.Strength.Max)
}
