// Package viewer inspects a dataset root frame by frame: a sorted frame
// sequence, an explicit navigation cursor, and HTML scatter rendering.
package viewer

import (
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

// View is one loaded frame ready to draw.
type View struct {
	Timestamp dataset.Timestamp
	Coord     []r3.Vector
	// Segment is nil when the frame has no segment array.
	Segment []int64
	Colors  []Color
}

// Sequence is the timestamp-sorted frame list of a dataset root.
type Sequence struct {
	store  *dataset.Store
	frames []dataset.Timestamp
}

// NewSequence lists the frames under store.
func NewSequence(store *dataset.Store) (*Sequence, error) {
	frames, err := store.ListFrames()
	if err != nil {
		return nil, err
	}
	return &Sequence{store: store, frames: frames}, nil
}

// Len returns the frame count.
func (s *Sequence) Len() int { return len(s.frames) }

// Frames returns the sorted timestamps.
func (s *Sequence) Frames() []dataset.Timestamp { return s.frames }

// Start returns a cursor at the first frame.
func (s *Sequence) Start() Cursor { return Cursor{Index: 0, Len: len(s.frames)} }

// IndexOf returns the position of ts, or -1.
func (s *Sequence) IndexOf(ts dataset.Timestamp) int {
	for i, f := range s.frames {
		if f == ts {
			return i
		}
	}
	return -1
}

// Timestamp returns the frame under c.
func (s *Sequence) Timestamp(c Cursor) (dataset.Timestamp, error) {
	if c.Len != len(s.frames) || !c.Valid() {
		return "", fmt.Errorf("%w: cursor %d/%d outside sequence of %d frames", pipeline.ErrReference, c.Index, c.Len, len(s.frames))
	}
	return s.frames[c.Index], nil
}

// Load reads the coord and segment arrays of the frame under c. A frame
// without a segment array gets all-zero colors.
func (s *Sequence) Load(c Cursor) (*View, error) {
	ts, err := s.Timestamp(c)
	if err != nil {
		return nil, err
	}
	coord, err := s.store.ReadCoord(ts)
	if err != nil {
		return nil, err
	}
	v := &View{Timestamp: ts, Coord: coord}
	if !s.store.HasArray(ts, dataset.Segment) {
		v.Colors = make([]Color, len(coord))
		return v, nil
	}
	if v.Segment, err = s.store.ReadSegment(ts); err != nil {
		return nil, err
	}
	if len(v.Segment) != len(coord) {
		return nil, fmt.Errorf("%w: frame %s has %d coords and %d segment codes", pipeline.ErrInvariant, ts, len(coord), len(v.Segment))
	}
	v.Colors = SegmentColors(v.Segment)
	return v, nil
}
