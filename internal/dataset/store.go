// Package dataset implements the on-disk frame dataset: one directory per
// timestamp holding coord.npy, strength.npy and segment.npy.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/golang/geo/r3"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/fsutil"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

// Store reads and writes frames below a dataset root.
type Store struct {
	fs     fsutil.FileSystem
	layout Layout
}

// NewStore creates a store rooted at root. A nil fsys uses the OS filesystem.
func NewStore(fsys fsutil.FileSystem, root string) *Store {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Store{fs: fsys, layout: Layout{Root: filepath.Clean(root)}}
}

// Root returns the dataset root directory.
func (s *Store) Root() string { return s.layout.Root }

// Layout returns the path layout of the store.
func (s *Store) Layout() Layout { return s.layout }

// FS returns the underlying filesystem.
func (s *Store) FS() fsutil.FileSystem { return s.fs }

func ioErr(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", pipeline.ErrIO, op, path, err)
}

// ListFrames returns the timestamps of every frame directory below the root,
// sorted with Less. Non-directory entries and directories whose name is not
// a valid token are skipped.
func (s *Store) ListFrames() ([]Timestamp, error) {
	entries, err := s.fs.ReadDir(s.layout.Root)
	if err != nil {
		return nil, ioErr("list", s.layout.Root, err)
	}
	out := make([]Timestamp, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			logging.Diagf("dataset: ignoring non-directory entry %s", filepath.Join(s.layout.Root, e.Name()))
			continue
		}
		if err := ValidateToken(e.Name()); err != nil {
			logging.Diagf("dataset: ignoring directory %q: %v", e.Name(), err)
			continue
		}
		out = append(out, Timestamp(e.Name()))
	}
	SortTimestamps(out)
	return out, nil
}

// HasArray reports whether the frame has the given array on disk.
func (s *Store) HasArray(ts Timestamp, kind ArrayKind) bool {
	p, err := s.layout.ArrayPath(ts, kind)
	if err != nil {
		return false
	}
	return s.fs.Exists(p)
}

// EnsureFrameDir creates the frame directory if needed.
func (s *Store) EnsureFrameDir(ts Timestamp) (string, error) {
	dir, err := s.layout.FrameDir(ts)
	if err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", ioErr("mkdir", dir, err)
	}
	return dir, nil
}

func (s *Store) readArray(ts Timestamp, kind ArrayKind) (string, []byte, error) {
	p, err := s.layout.ArrayPath(ts, kind)
	if err != nil {
		return "", nil, err
	}
	data, err := s.fs.ReadFile(p)
	if err != nil {
		return p, nil, ioErr("read", p, err)
	}
	return p, data, nil
}

func (s *Store) writeArray(ts Timestamp, kind ArrayKind, data []byte) error {
	if _, err := s.EnsureFrameDir(ts); err != nil {
		return err
	}
	p, err := s.layout.ArrayPath(ts, kind)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(s.fs, p, data, 0o644); err != nil {
		return ioErr("write", p, err)
	}
	logging.Tracef("dataset: wrote %s (%d bytes)", p, len(data))
	return nil
}

// ReadCoord reads the frame's [N,3] coordinates.
func (s *Store) ReadCoord(ts Timestamp) ([]r3.Vector, error) {
	p, data, err := s.readArray(ts, Coord)
	if err != nil {
		return nil, err
	}
	coords, err := DecodeCoord(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return coords, nil
}

// ReadStrength reads the frame's strength array.
func (s *Store) ReadStrength(ts Timestamp) (*StrengthArray, error) {
	p, data, err := s.readArray(ts, Strength)
	if err != nil {
		return nil, err
	}
	st, err := DecodeStrength(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return st, nil
}

// ReadSegment reads the frame's label array.
func (s *Store) ReadSegment(ts Timestamp) ([]int64, error) {
	p, data, err := s.readArray(ts, Segment)
	if err != nil {
		return nil, err
	}
	seg, err := DecodeSegment(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return seg, nil
}

// WriteCoord writes the frame's coordinates, creating the frame directory.
func (s *Store) WriteCoord(ts Timestamp, coords []r3.Vector) error {
	data, err := EncodeCoord(coords)
	if err != nil {
		return err
	}
	return s.writeArray(ts, Coord, data)
}

// WriteStrength writes the frame's strength, preserving its shape.
func (s *Store) WriteStrength(ts Timestamp, st *StrengthArray) error {
	data, err := EncodeStrength(st)
	if err != nil {
		return err
	}
	return s.writeArray(ts, Strength, data)
}

// WriteSegment writes the frame's labels.
func (s *Store) WriteSegment(ts Timestamp, seg []int64) error {
	data, err := EncodeSegment(seg)
	if err != nil {
		return err
	}
	return s.writeArray(ts, Segment, data)
}

// WriteRaw writes an already-encoded array verbatim.
func (s *Store) WriteRaw(ts Timestamp, kind ArrayKind, data []byte) error {
	return s.writeArray(ts, kind, data)
}

// Frame is one fully or partially loaded frame. Missing arrays are nil.
type Frame struct {
	Timestamp Timestamp
	Coord     []r3.Vector
	Strength  *StrengthArray
	Segment   []int64
}

// Len returns the point count of the first array present.
func (f *Frame) Len() int {
	switch {
	case f.Coord != nil:
		return len(f.Coord)
	case f.Strength != nil:
		return f.Strength.Len()
	default:
		return len(f.Segment)
	}
}

// LoadFrame reads every array present in the frame directory. Missing
// arrays are left nil; any other read or decode failure is returned.
func (s *Store) LoadFrame(ts Timestamp) (*Frame, error) {
	f := &Frame{Timestamp: ts}
	var err error
	if s.HasArray(ts, Coord) {
		if f.Coord, err = s.ReadCoord(ts); err != nil {
			return nil, err
		}
	}
	if s.HasArray(ts, Strength) {
		if f.Strength, err = s.ReadStrength(ts); err != nil {
			return nil, err
		}
	}
	if s.HasArray(ts, Segment) {
		if f.Segment, err = s.ReadSegment(ts); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// IsNotExist reports whether err was caused by a missing file.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
