package labels

import (
	"context"
	"errors"
	"fmt"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

// StageName identifies this stage in results and the run catalog.
const StageName = "label"

// Injector writes annotation labels into the segment arrays of a dataset.
type Injector struct {
	Store     *dataset.Store
	Classes   *ClassMapper
	Managed   ManagedCodes
	Unlabeled int64
	HumanCode int64
}

// NewInjector returns an injector with the default human mapping: class
// "human" maps to humanCode, everything else to unlabeled, and humanCode is
// the only managed code.
func NewInjector(store *dataset.Store, humanTitle string, humanCode, unlabeled int64) *Injector {
	return &Injector{
		Store:     store,
		Classes:   NewClassMapper(humanTitle, humanCode, unlabeled),
		Managed:   NewManagedCodes(humanCode),
		Unlabeled: unlabeled,
		HumanCode: humanCode,
	}
}

// frameStats summarises one labeled frame.
type frameStats struct {
	points  int
	reset   int
	applied int
	skipped int
	human   int
}

// Apply labels every annotated frame. A frame is skipped when its index is
// not in frameMap, its file name has no timestamp, its segment.npy is
// missing, or its arrays disagree in length. Within a frame, managed codes are first reset and then each
// figure assigns its class code to its indices, later figures overwriting
// earlier ones. Figures with an unknown object, missing fields, or indices
// out of range are skipped on their own. Nothing here aborts the run except
// a cancelled context.
func (inj *Injector) Apply(ctx context.Context, ann *Annotation, frameMap *FrameMap) (*pipeline.Result, error) {
	if inj.Store == nil || inj.Classes == nil {
		return nil, errors.New("label: injector needs a store and a class mapper")
	}
	res := pipeline.NewResult(StageName)
	logging.Opsf("label: %d annotated frames, %d mapped indices -> %s", len(ann.Frames), frameMap.Len(), inj.Store.Root())

	for _, frame := range ann.Frames {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.RecordsSeen++
		inj.applyFrame(ann, frameMap, frame, res)
	}

	logging.Opsf("%s", res.Summary())
	return res, nil
}

func (inj *Injector) applyFrame(ann *Annotation, frameMap *FrameMap, frame Frame, res *pipeline.Result) {
	idx := pipeline.IntPtr(frame.Index)
	ts, err := frameMap.Resolve(frame.Index)
	if err != nil {
		res.FramesSkipped++
		res.Report(&pipeline.Issue{Kind: pipeline.ErrReference, Index: idx, Err: err})
		return
	}
	segPath, err := inj.Store.Layout().SegmentPath(ts)
	if err != nil {
		res.FramesSkipped++
		res.Report(&pipeline.Issue{Kind: pipeline.ErrReference, Timestamp: string(ts), Index: idx, Err: err})
		return
	}
	if !inj.Store.HasArray(ts, dataset.Segment) {
		res.FramesSkipped++
		res.Report(&pipeline.Issue{Kind: pipeline.ErrReference, Path: segPath, Timestamp: string(ts), Index: idx,
			Err: fmt.Errorf("segment array not found for frame %d", frame.Index)})
		return
	}
	seg, err := inj.Store.ReadSegment(ts)
	if err != nil {
		res.FramesSkipped++
		res.Report(&pipeline.Issue{Kind: pipeline.KindOf(err, pipeline.ErrSourceFormat), Path: segPath, Timestamp: string(ts), Index: idx, Err: err})
		return
	}

	if err := inj.checkLengths(ts, len(seg)); err != nil {
		res.FramesSkipped++
		res.Report(&pipeline.Issue{Kind: pipeline.KindOf(err, pipeline.ErrSourceFormat), Path: segPath, Timestamp: string(ts), Index: idx, Err: err})
		return
	}

	stats := frameStats{points: len(seg)}
	stats.reset = inj.Managed.Reset(seg, inj.Unlabeled)

	for fi, fig := range frame.Figures {
		figErr := func(kind error, format string, args ...interface{}) {
			stats.skipped++
			res.Report(&pipeline.Issue{Kind: kind, Path: segPath, Timestamp: string(ts), Index: idx,
				Err: fmt.Errorf("figure %d: "+format, append([]interface{}{fi}, args...)...)})
		}
		if fig.Problem != "" {
			figErr(pipeline.ErrSourceFormat, "%s", fig.Problem)
			continue
		}
		obj, ok := ann.Object(fig.ObjectKey)
		if !ok {
			figErr(pipeline.ErrReference, "unknown object key %q", fig.ObjectKey)
			continue
		}
		if bad, ok := firstOutOfRange(fig.Indices, len(seg)); ok {
			figErr(pipeline.ErrReference, "point index %d out of range [0,%d)", bad, len(seg))
			continue
		}
		code := inj.Classes.Code(obj.ClassTitle)
		for _, i := range fig.Indices {
			seg[i] = code
		}
		stats.applied++
		logging.Tracef("label: %s: figure %d (%s, %q) -> %d points as %d", ts, fi, obj.Key, obj.ClassTitle, len(fig.Indices), code)
	}

	res.FiguresApplied += stats.applied
	res.FiguresSkipped += stats.skipped
	if err := inj.Store.WriteSegment(ts, seg); err != nil {
		res.FramesSkipped++
		res.Report(&pipeline.Issue{Kind: pipeline.KindOf(err, pipeline.ErrIO), Path: segPath, Timestamp: string(ts), Index: idx, Err: err})
		return
	}

	for _, v := range seg {
		if v == inj.HumanCode {
			stats.human++
		}
	}
	res.FrameDone(pipeline.FrameSummary{Root: inj.Store.Root(), Timestamp: string(ts), Points: stats.points, HumanPoints: stats.human, Labeled: true})
	logging.Diagf("label: frame %d -> %s: %d points, %d reset, figures applied=%d skipped=%d, human points=%d",
		frame.Index, ts, stats.points, stats.reset, stats.applied, stats.skipped, stats.human)
}

// checkLengths compares the segment length with the frame's coord and
// strength arrays, when present.
func (inj *Injector) checkLengths(ts dataset.Timestamp, n int) error {
	if inj.Store.HasArray(ts, dataset.Coord) {
		coords, err := inj.Store.ReadCoord(ts)
		if err != nil {
			return err
		}
		if len(coords) != n {
			return fmt.Errorf("%w: length mismatch: coord has %d points, segment has %d", pipeline.ErrInvariant, len(coords), n)
		}
	}
	if inj.Store.HasArray(ts, dataset.Strength) {
		st, err := inj.Store.ReadStrength(ts)
		if err != nil {
			return err
		}
		if st.Len() != n {
			return fmt.Errorf("%w: length mismatch: strength has %d points, segment has %d", pipeline.ErrInvariant, st.Len(), n)
		}
	}
	return nil
}

func firstOutOfRange(indices []int, n int) (int, bool) {
	for _, i := range indices {
		if i < 0 || i >= n {
			return i, true
		}
	}
	return 0, false
}
