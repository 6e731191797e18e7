// Package extract turns a stream of sensor records into per-timestamp
// coordinate and intensity arrays, plus optional PCD files.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/golang/geo/r3"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/fsutil"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pcd"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/source"
)

// StageName identifies this stage in results and the run catalog.
const StageName = "extract"

// File name prefixes of the extracted arrays.
const (
	CoordPrefix    = "pointcloud"
	StrengthPrefix = "intensity"
)

// CoordDir returns the directory holding pointcloud_<ts>.npy files.
func CoordDir(outputDir string) string { return filepath.Join(outputDir, "npy", "coord") }

// StrengthDir returns the directory holding intensity_<ts>.npy files.
func StrengthDir(outputDir string) string { return filepath.Join(outputDir, "npy", "strength") }

// PCDDir returns the directory holding pointcloud_<ts>.pcd files.
func PCDDir(outputDir string) string { return filepath.Join(outputDir, "pcd") }

// Options configures an Extractor.
type Options struct {
	OutputDir      string
	Topic          string
	IntensityField string
	WritePCD       bool
	PCDFormat      pcd.Format
	Registry       *source.Registry
	FS             fsutil.FileSystem // nil uses the OS filesystem
}

// Extractor writes one frame per matching record.
type Extractor struct {
	opts Options
}

// New validates opts and returns an Extractor.
func New(opts Options) (*Extractor, error) {
	if opts.OutputDir == "" {
		return nil, errors.New("extract: output directory is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("extract: topic is required")
	}
	if opts.IntensityField == "" {
		return nil, errors.New("extract: intensity field is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("extract: decoder registry is required")
	}
	if opts.WritePCD {
		if _, err := pcd.ParseFormat(string(opts.PCDFormat)); err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	return &Extractor{opts: opts}, nil
}

func (e *Extractor) coordPath(ts string) string {
	return filepath.Join(CoordDir(e.opts.OutputDir), CoordPrefix+"_"+ts+".npy")
}

func (e *Extractor) strengthPath(ts string) string {
	return filepath.Join(StrengthDir(e.opts.OutputDir), StrengthPrefix+"_"+ts+".npy")
}

func (e *Extractor) pcdPath(ts string) string {
	return filepath.Join(PCDDir(e.opts.OutputDir), CoordPrefix+"_"+ts+".pcd")
}

// Run consumes src until io.EOF. Records on other topics are ignored
// silently. Records that fail to decode or persist are reported on the
// result and skipped; only a failing source or a cancelled context aborts
// the run.
func (e *Extractor) Run(ctx context.Context, src source.Source) (*pipeline.Result, error) {
	res := pipeline.NewResult(StageName)
	seen := make(map[string]bool)
	logging.Opsf("extract: topic %s -> %s", e.opts.Topic, e.opts.OutputDir)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("extract: read source: %w", err)
		}
		res.RecordsSeen++

		// An unreadable record with no recoverable topic may still be ours.
		if rec.Topic != e.opts.Topic && !(rec.Err != nil && rec.Topic == "") {
			res.RecordsIgnored++
			logging.Tracef("extract: ignoring record on %s", rec.Topic)
			continue
		}

		ts := strconv.FormatInt(rec.Timestamp, 10)
		if rec.Err != nil {
			res.FramesSkipped++
			res.Report(&pipeline.Issue{
				Kind:      pipeline.KindOf(rec.Err, pipeline.ErrSourceFormat),
				Path:      e.coordPath(ts),
				Timestamp: ts,
				Err:       rec.Err,
			})
			continue
		}
		if seen[ts] {
			res.FramesSkipped++
			res.Reportf(pipeline.ErrReference, e.coordPath(ts), ts, "duplicate timestamp on topic %s; later record skipped", rec.Topic)
			continue
		}

		if err := e.processRecord(rec, ts, res); err != nil {
			res.FramesSkipped++
			res.Report(&pipeline.Issue{
				Kind:      pipeline.KindOf(err, pipeline.ErrSourceFormat),
				Path:      e.coordPath(ts),
				Timestamp: ts,
				Err:       err,
			})
			continue
		}
		seen[ts] = true
	}

	logging.Opsf("%s", res.Summary())
	return res, nil
}

// split separates a decoded record into coordinates and intensities.
func (e *Extractor) split(pr *source.PointRecord) ([]r3.Vector, []float64, error) {
	var ch [4][]float64
	for i, name := range []string{"x", "y", "z", e.opts.IntensityField} {
		v, ok := pr.Channel(name)
		if !ok {
			return nil, nil, fmt.Errorf("%w: point cloud has no %q field (fields: %v)", pipeline.ErrSourceFormat, name, pr.Fields)
		}
		ch[i] = v
	}
	coords := make([]r3.Vector, len(ch[0]))
	for i := range coords {
		coords[i] = r3.Vector{X: ch[0][i], Y: ch[1][i], Z: ch[2][i]}
	}
	return coords, append([]float64(nil), ch[3]...), nil
}

func (e *Extractor) processRecord(rec source.Record, ts string, res *pipeline.Result) error {
	pr, err := e.opts.Registry.Decode(rec.Data, rec.MsgType)
	if err != nil {
		return err
	}
	if err := pr.Validate(); err != nil {
		return err
	}
	dropped := pr.DropNaN()
	res.PointsDropped += dropped
	if dropped > 0 {
		logging.Diagf("extract: %s: dropped %d NaN points", ts, dropped)
	}

	coords, intensity, err := e.split(pr)
	if err != nil {
		return err
	}
	if len(coords) == 0 {
		return fmt.Errorf("%w: no valid points", pipeline.ErrSourceFormat)
	}

	if err := e.writeFrame(ts, coords, intensity); err != nil {
		return err
	}
	res.FrameDone(pipeline.FrameSummary{Root: e.opts.OutputDir, Timestamp: ts, Points: len(coords)})
	logging.Diagf("extract: %s: %d points", ts, len(coords))
	return nil
}

// writeFrame persists every output of one frame. If any write fails the
// files already written for the frame are removed.
func (e *Extractor) writeFrame(ts string, coords []r3.Vector, intensity []float64) error {
	coordData, err := dataset.EncodeCoord(coords)
	if err != nil {
		return err
	}
	strengthData, err := dataset.EncodeStrength(&dataset.StrengthArray{Values: intensity, Column: true})
	if err != nil {
		return err
	}

	type output struct {
		path string
		data []byte
	}
	outputs := []output{
		{e.coordPath(ts), coordData},
		{e.strengthPath(ts), strengthData},
	}
	if e.opts.WritePCD {
		pcdData, err := pcd.Encode(coords, e.opts.PCDFormat)
		if err != nil {
			return err
		}
		outputs = append(outputs, output{e.pcdPath(ts), pcdData})
	}

	var written []string
	for _, out := range outputs {
		if err := e.writeFile(out.path, out.data); err != nil {
			for _, p := range written {
				if rmErr := e.opts.FS.Remove(p); rmErr != nil {
					logging.Warnf("extract: failed to remove partial output %s: %v", p, rmErr)
				}
			}
			return err
		}
		written = append(written, out.path)
	}
	return nil
}

func (e *Extractor) writeFile(path string, data []byte) error {
	if err := e.opts.FS.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %w", pipeline.ErrIO, filepath.Dir(path), err)
	}
	if err := fsutil.WriteFileAtomic(e.opts.FS, path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %w", pipeline.ErrIO, path, err)
	}
	return nil
}
