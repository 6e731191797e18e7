package dataset

import (
	"context"
	"fmt"
	"math"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

// ValidateOptions controls the checks run by ValidateFrame.
type ValidateOptions struct {
	// RequireAll reports frames missing any of the three arrays.
	RequireAll bool
	// Normalized additionally requires every strength value to lie in [0,1].
	Normalized bool
}

// ValidateFrame checks the frame's internal consistency: equal array
// lengths, no NaN in coord or strength, and the optional checks in opts.
// Every violation is an ErrInvariant issue.
func ValidateFrame(f *Frame, opts ValidateOptions) []*pipeline.Issue {
	var issues []*pipeline.Issue
	add := func(format string, args ...interface{}) {
		issues = append(issues, &pipeline.Issue{
			Kind:      pipeline.ErrInvariant,
			Timestamp: string(f.Timestamp),
			Err:       fmt.Errorf(format, args...),
		})
	}

	if opts.RequireAll {
		if f.Coord == nil {
			add("missing %s", Coord.FileName())
		}
		if f.Strength == nil {
			add("missing %s", Strength.FileName())
		}
		if f.Segment == nil {
			add("missing %s", Segment.FileName())
		}
	}

	n := -1
	check := func(kind ArrayKind, present bool, length int) {
		if !present {
			return
		}
		if n < 0 {
			n = length
			return
		}
		if length != n {
			add("length mismatch: %s has %d points, expected %d", kind, length, n)
		}
	}
	check(Coord, f.Coord != nil, len(f.Coord))
	check(Strength, f.Strength != nil, f.Strength.Len())
	check(Segment, f.Segment != nil, len(f.Segment))

	for i, p := range f.Coord {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z) {
			issue := &pipeline.Issue{Kind: pipeline.ErrInvariant, Timestamp: string(f.Timestamp), Index: pipeline.IntPtr(i), Err: fmt.Errorf("NaN in coord")}
			issues = append(issues, issue)
			break
		}
	}
	if f.Strength != nil {
		for i, v := range f.Strength.Values {
			if math.IsNaN(v) {
				issues = append(issues, &pipeline.Issue{Kind: pipeline.ErrInvariant, Timestamp: string(f.Timestamp), Index: pipeline.IntPtr(i), Err: fmt.Errorf("NaN in strength")})
				break
			}
			if opts.Normalized && (v < 0 || v > 1) {
				issues = append(issues, &pipeline.Issue{Kind: pipeline.ErrInvariant, Timestamp: string(f.Timestamp), Index: pipeline.IntPtr(i), Err: fmt.Errorf("strength %v outside [0,1]", v)})
				break
			}
		}
	}
	return issues
}

// Validate walks every frame of the store and reports missing arrays,
// length mismatches, NaN values and, when opts.Normalized is set, strength
// values outside [0,1]. Unreadable frames are reported with their read error.
func Validate(ctx context.Context, store *Store, opts ValidateOptions) (*pipeline.Result, error) {
	res := pipeline.NewResult("validate")
	frames, err := store.ListFrames()
	if err != nil {
		return nil, err
	}
	for _, ts := range frames {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		dir, _ := store.Layout().FrameDir(ts)
		f, err := store.LoadFrame(ts)
		if err != nil {
			res.Report(&pipeline.Issue{Kind: pipeline.KindOf(err, pipeline.ErrSourceFormat), Path: dir, Timestamp: string(ts), Err: err})
			res.FramesSkipped++
			continue
		}
		issues := ValidateFrame(f, opts)
		for _, issue := range issues {
			issue.Path = dir
			res.Report(issue)
		}
		if len(issues) > 0 {
			res.FramesSkipped++
			continue
		}
		res.FramesWritten++
		res.PointsWritten += f.Len()
		logging.Diagf("validate: frame %s ok (%d points)", ts, f.Len())
	}
	logging.Opsf("%s", res.Summary())
	return res, nil
}
