package dataset

import (
	"fmt"
	"path/filepath"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/security"
)

// ArrayKind names one of the three per-frame arrays.
type ArrayKind int

const (
	Coord ArrayKind = iota
	Strength
	Segment
)

// AllArrays lists every array kind in canonical order.
var AllArrays = []ArrayKind{Coord, Strength, Segment}

// FileName returns the on-disk file name of the array.
func (k ArrayKind) FileName() string {
	switch k {
	case Coord:
		return "coord.npy"
	case Strength:
		return "strength.npy"
	case Segment:
		return "segment.npy"
	default:
		return fmt.Sprintf("array%d.npy", int(k))
	}
}

func (k ArrayKind) String() string {
	switch k {
	case Coord:
		return "coord"
	case Strength:
		return "strength"
	case Segment:
		return "segment"
	default:
		return fmt.Sprintf("ArrayKind(%d)", int(k))
	}
}

// Layout maps timestamps to paths below a dataset root:
//
//	<root>/<timestamp>/coord.npy
//	<root>/<timestamp>/strength.npy
//	<root>/<timestamp>/segment.npy
type Layout struct {
	Root string
}

// FrameDir returns the directory holding the frame's arrays.
func (l Layout) FrameDir(ts Timestamp) (string, error) {
	if err := ValidateToken(string(ts)); err != nil {
		return "", err
	}
	dir := filepath.Join(l.Root, string(ts))
	if err := security.ValidatePathWithinRoot(dir, l.Root); err != nil {
		return "", err
	}
	return dir, nil
}

// ArrayPath returns the path of one array of a frame.
func (l Layout) ArrayPath(ts Timestamp, kind ArrayKind) (string, error) {
	dir, err := l.FrameDir(ts)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, kind.FileName()), nil
}

// CoordPath returns <root>/<ts>/coord.npy.
func (l Layout) CoordPath(ts Timestamp) (string, error) { return l.ArrayPath(ts, Coord) }

// StrengthPath returns <root>/<ts>/strength.npy.
func (l Layout) StrengthPath(ts Timestamp) (string, error) { return l.ArrayPath(ts, Strength) }

// SegmentPath returns <root>/<ts>/segment.npy.
func (l Layout) SegmentPath(ts Timestamp) (string, error) { return l.ArrayPath(ts, Segment) }
