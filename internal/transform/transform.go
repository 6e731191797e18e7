// Package transform derives scaled and strength-normalized copies of a
// dataset, one output dataset per scale factor.
package transform

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"

	"github.com/golang/geo/r3"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/fsutil"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

// StageName identifies this stage in results and the run catalog.
const StageName = "scale"

// ScaleCoords returns coords multiplied component-wise by s.
func ScaleCoords(coords []r3.Vector, s float64) []r3.Vector {
	out := make([]r3.Vector, len(coords))
	for i, p := range coords {
		out[i] = p.Mul(s)
	}
	return out
}

// NormalizeStrength clips values to [0, ceiling] and divides by ceiling.
func NormalizeStrength(values []float64, ceiling float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Min(math.Max(v, 0), ceiling) / ceiling
	}
	return out
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// OutputName returns the directory name of the dataset derived from root:
// <basename(root)>_scaled_<scale>_norm_<ceiling>.
func OutputName(root string, scale, ceiling float64) string {
	return fmt.Sprintf("%s_scaled_%s_norm_%s", filepath.Base(filepath.Clean(root)), formatNumber(scale), formatNumber(ceiling))
}

// Options configures a scale run.
type Options struct {
	Root      string
	OutputDir string
	Scales    []float64
	Ceiling   float64
	FS        fsutil.FileSystem // nil uses the OS filesystem
}

func (o *Options) validate() error {
	if o.Root == "" || o.OutputDir == "" {
		return errors.New("scale: dataset root and output directory are required")
	}
	if len(o.Scales) == 0 {
		return errors.New("scale: at least one scale is required")
	}
	for _, s := range o.Scales {
		if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
			return fmt.Errorf("scale: scale must be a positive finite number, got %v", s)
		}
	}
	if math.IsNaN(o.Ceiling) || math.IsInf(o.Ceiling, 0) || o.Ceiling <= 0 {
		return fmt.Errorf("scale: strength ceiling must be a positive finite number, got %v", o.Ceiling)
	}
	if o.FS == nil {
		o.FS = fsutil.OSFileSystem{}
	}
	return nil
}

// OutputRoots returns the output dataset root for each scale, in order.
func (o Options) OutputRoots() []string {
	out := make([]string, len(o.Scales))
	for i, s := range o.Scales {
		out[i] = filepath.Join(o.OutputDir, OutputName(o.Root, s, o.Ceiling))
	}
	return out
}

// Run writes one derived dataset per scale. Each frame is processed on its
// own: coords are scaled, strength is clipped and normalized, and segment is
// copied unchanged. Frames missing an array or with unequal array lengths
// are reported and skipped for that scale.
func Run(ctx context.Context, opts Options) (*pipeline.Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	res := pipeline.NewResult(StageName)
	in := dataset.NewStore(opts.FS, opts.Root)
	frames, err := in.ListFrames()
	if err != nil {
		return res, err
	}

	for i, scale := range opts.Scales {
		outRoot := opts.OutputRoots()[i]
		out := dataset.NewStore(opts.FS, outRoot)
		if err := opts.FS.MkdirAll(outRoot, 0o755); err != nil {
			return res, fmt.Errorf("%w: mkdir %s: %w", pipeline.ErrIO, outRoot, err)
		}
		logging.Opsf("scale: %s -> %s (scale %s, ceiling %s)", in.Root(), outRoot, formatNumber(scale), formatNumber(opts.Ceiling))

		for _, ts := range frames {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			res.RecordsSeen++
			n, err := scaleFrame(in, out, ts, scale, opts.Ceiling)
			if err != nil {
				res.FramesSkipped++
				dir, _ := in.Layout().FrameDir(ts)
				res.Report(&pipeline.Issue{Kind: pipeline.KindOf(err, pipeline.ErrSourceFormat), Path: dir, Timestamp: string(ts), Err: err})
				continue
			}
			res.FrameDone(pipeline.FrameSummary{Root: outRoot, Timestamp: string(ts), Points: n})
			logging.Diagf("scale: %s: frame %s: %d points", OutputName(opts.Root, scale, opts.Ceiling), ts, n)
		}
	}

	logging.Opsf("%s", res.Summary())
	return res, nil
}

func scaleFrame(in, out *dataset.Store, ts dataset.Timestamp, scale, ceiling float64) (int, error) {
	for _, kind := range dataset.AllArrays {
		if !in.HasArray(ts, kind) {
			return 0, fmt.Errorf("%w: missing %s", pipeline.ErrSourceFormat, kind.FileName())
		}
	}
	f, err := in.LoadFrame(ts)
	if err != nil {
		return 0, err
	}
	n := len(f.Coord)
	if f.Strength.Len() != n || len(f.Segment) != n {
		return 0, fmt.Errorf("%w: length mismatch: coord=%d strength=%d segment=%d",
			pipeline.ErrInvariant, n, f.Strength.Len(), len(f.Segment))
	}

	strength := &dataset.StrengthArray{Values: NormalizeStrength(f.Strength.Values, ceiling), Column: f.Strength.Column}
	if err := out.WriteCoord(ts, ScaleCoords(f.Coord, scale)); err != nil {
		return 0, err
	}
	if err := out.WriteStrength(ts, strength); err != nil {
		return 0, err
	}
	if err := out.WriteSegment(ts, f.Segment); err != nil {
		return 0, err
	}
	return n, nil
}
