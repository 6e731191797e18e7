// Package reorganize builds the per-frame dataset layout from extracted
// coordinate and intensity arrays.
package reorganize

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/fsutil"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

// StageName identifies this stage in results and the run catalog.
const StageName = "reorganize"

// Options configures a reorganize run.
type Options struct {
	CoordDir       string // pointcloud_<ts>.npy files
	StrengthDir    string // intensity_<ts>.npy files
	OutputRoot     string
	CoordPrefix    string
	StrengthPrefix string
	UnlabeledLabel int64
	FS             fsutil.FileSystem // nil uses the OS filesystem
}

func (o *Options) setDefaults() error {
	if o.CoordDir == "" || o.StrengthDir == "" || o.OutputRoot == "" {
		return errors.New("reorganize: coord dir, strength dir and output root are required")
	}
	if o.CoordPrefix == "" {
		o.CoordPrefix = "pointcloud"
	}
	if o.StrengthPrefix == "" {
		o.StrengthPrefix = "intensity"
	}
	if o.FS == nil {
		o.FS = fsutil.OSFileSystem{}
	}
	return nil
}

type input struct {
	ts   dataset.Timestamp
	path string
}

// listInputs returns the <prefix>_<ts>.npy files of dir sorted by timestamp.
// Anything else in dir is reported and skipped.
func listInputs(fsys fsutil.FileSystem, dir, prefix string, res *pipeline.Result) ([]input, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", pipeline.ErrIO, dir, err)
	}
	var out []input
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".npy") || !strings.HasPrefix(e.Name(), prefix+"_") {
			res.RecordsIgnored++
			res.Reportf(pipeline.ErrReference, p, "", "unexpected entry, want %s_<timestamp>.npy", prefix)
			continue
		}
		ts, err := dataset.ParseTimestampToken(e.Name(), prefix+"_")
		if err != nil {
			res.RecordsIgnored++
			res.Report(&pipeline.Issue{Kind: pipeline.ErrReference, Path: p, Err: err})
			continue
		}
		out = append(out, input{ts: ts, path: p})
	}
	sort.SliceStable(out, func(i, j int) bool { return dataset.Less(out[i].ts, out[j].ts) })
	return out, nil
}

// Run copies every coord array to <root>/<ts>/coord.npy with a fresh
// segment.npy of unlabeled codes, then every strength array to
// <root>/<ts>/strength.npy. Rerunning resets all labels. Every frame touched
// is checked for length equality afterwards.
func Run(ctx context.Context, opts Options) (*pipeline.Result, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	res := pipeline.NewResult(StageName)
	store := dataset.NewStore(opts.FS, opts.OutputRoot)
	if err := opts.FS.MkdirAll(store.Root(), 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %w", pipeline.ErrIO, store.Root(), err)
	}
	logging.Opsf("reorganize: %s + %s -> %s", opts.CoordDir, opts.StrengthDir, store.Root())

	coords, err := listInputs(opts.FS, opts.CoordDir, opts.CoordPrefix, res)
	if err != nil {
		return res, err
	}
	strengths, err := listInputs(opts.FS, opts.StrengthDir, opts.StrengthPrefix, res)
	if err != nil {
		return res, err
	}

	touched := make(map[dataset.Timestamp]bool)
	skip := func(in input, err error) {
		res.Report(&pipeline.Issue{Kind: pipeline.KindOf(err, pipeline.ErrSourceFormat), Path: in.path, Timestamp: string(in.ts), Err: err})
	}

	for _, in := range coords {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.RecordsSeen++
		data, err := opts.FS.ReadFile(in.path)
		if err != nil {
			skip(in, fmt.Errorf("%w: read: %w", pipeline.ErrIO, err))
			continue
		}
		points, err := dataset.DecodeCoord(data)
		if err != nil {
			skip(in, err)
			continue
		}
		if err := store.WriteRaw(in.ts, dataset.Coord, data); err != nil {
			skip(in, err)
			continue
		}
		seg := make([]int64, len(points))
		for i := range seg {
			seg[i] = opts.UnlabeledLabel
		}
		if err := store.WriteSegment(in.ts, seg); err != nil {
			skip(in, err)
			continue
		}
		touched[in.ts] = true
		logging.Tracef("reorganize: %s -> coord.npy, segment.npy (%d points)", in.path, len(points))
	}

	for _, in := range strengths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.RecordsSeen++
		data, err := opts.FS.ReadFile(in.path)
		if err != nil {
			skip(in, fmt.Errorf("%w: read: %w", pipeline.ErrIO, err))
			continue
		}
		if _, err := dataset.DecodeStrength(data); err != nil {
			skip(in, err)
			continue
		}
		if err := store.WriteRaw(in.ts, dataset.Strength, data); err != nil {
			skip(in, err)
			continue
		}
		touched[in.ts] = true
		logging.Tracef("reorganize: %s -> strength.npy", in.path)
	}

	frames := make([]dataset.Timestamp, 0, len(touched))
	for ts := range touched {
		frames = append(frames, ts)
	}
	dataset.SortTimestamps(frames)

	for _, ts := range frames {
		dir, _ := store.Layout().FrameDir(ts)
		f, err := store.LoadFrame(ts)
		if err != nil {
			res.FramesSkipped++
			res.Report(&pipeline.Issue{Kind: pipeline.KindOf(err, pipeline.ErrSourceFormat), Path: dir, Timestamp: string(ts), Err: err})
			continue
		}
		issues := dataset.ValidateFrame(f, dataset.ValidateOptions{RequireAll: true})
		for _, issue := range issues {
			issue.Path = dir
			res.Report(issue)
		}
		if len(issues) > 0 {
			res.FramesSkipped++
			continue
		}
		res.FrameDone(pipeline.FrameSummary{Root: store.Root(), Timestamp: string(ts), Points: f.Len()})
		logging.Diagf("reorganize: frame %s: %d points", ts, f.Len())
	}

	logging.Opsf("%s", res.Summary())
	return res, nil
}
