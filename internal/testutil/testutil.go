// Package testutil provides shared test fixtures for the dataset stages.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/fsutil"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Vectors converts literal triples to points.
func Vectors(pts ...[3]float64) []r3.Vector {
	out := make([]r3.Vector, len(pts))
	for i, p := range pts {
		out[i] = r3.Vector{X: p[0], Y: p[1], Z: p[2]}
	}
	return out
}

// Unlabeled returns n labels of -1.
func Unlabeled(n int) []int64 {
	seg := make([]int64, n)
	for i := range seg {
		seg[i] = -1
	}
	return seg
}

// NewMemoryStore returns a dataset store backed by an in-memory filesystem.
func NewMemoryStore(root string) (*dataset.Store, *fsutil.MemoryFileSystem) {
	mfs := fsutil.NewMemoryFileSystem()
	if err := mfs.MkdirAll(root, 0o755); err != nil {
		panic(err)
	}
	return dataset.NewStore(mfs, root), mfs
}

// Frame describes a frame fixture. Nil arrays are not written.
type Frame struct {
	Timestamp dataset.Timestamp
	Coord     []r3.Vector
	Strength  []float64
	Column    bool
	Segment   []int64
}

// WriteFrame writes the fixture's arrays to store.
func WriteFrame(t testing.TB, store *dataset.Store, f Frame) {
	t.Helper()
	if f.Coord != nil {
		AssertNoError(t, store.WriteCoord(f.Timestamp, f.Coord))
	}
	if f.Strength != nil {
		AssertNoError(t, store.WriteStrength(f.Timestamp, &dataset.StrengthArray{Values: f.Strength, Column: f.Column}))
	}
	if f.Segment != nil {
		AssertNoError(t, store.WriteSegment(f.Timestamp, f.Segment))
	}
}

// WriteExtracted writes extractor-style inputs: pointcloud_<ts>.npy into
// coordDir and intensity_<ts>.npy into strengthDir, on the OS filesystem.
func WriteExtracted(t testing.TB, coordDir, strengthDir string, ts dataset.Timestamp, coords []r3.Vector, strength []float64) {
	t.Helper()
	if coords != nil {
		data, err := dataset.EncodeCoord(coords)
		AssertNoError(t, err)
		WriteFile(t, filepath.Join(coordDir, "pointcloud_"+string(ts)+".npy"), data)
	}
	if strength != nil {
		data, err := dataset.EncodeStrength(&dataset.StrengthArray{Values: strength, Column: true})
		AssertNoError(t, err)
		WriteFile(t, filepath.Join(strengthDir, "intensity_"+string(ts)+".npy"), data)
	}
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) string {
	t.Helper()
	AssertNoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	AssertNoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// AnnotationJSON is a minimal annotation document with one "human" object
// (key "h1") and one "car" object (key "c1"). Frame 0 labels points 1 and 2
// as human.
const AnnotationJSON = `{
  "objects": [
    {"key": "h1", "classTitle": "Human"},
    {"key": "c1", "classTitle": "car"}
  ],
  "frames": [
    {"index": 0, "figures": [{"objectKey": "h1", "geometry": {"indices": [1, 2]}}]}
  ]
}`
