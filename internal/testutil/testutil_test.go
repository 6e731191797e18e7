package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
)

func TestWriteFrameRoundTrip(t *testing.T) {
	store, _ := NewMemoryStore("/ds")
	WriteFrame(t, store, Frame{
		Timestamp: "100",
		Coord:     Vectors([3]float64{0, 0, 0}, [3]float64{1, 2, 3}),
		Strength:  []float64{5, 6},
		Column:    true,
		Segment:   Unlabeled(2),
	})

	f, err := store.LoadFrame("100")
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())
	assert.True(t, f.Strength.Column)
	assert.Equal(t, []int64{-1, -1}, f.Segment)
}

func TestWriteExtracted(t *testing.T) {
	dir := t.TempDir()
	coordDir := filepath.Join(dir, "coord")
	strengthDir := filepath.Join(dir, "strength")
	WriteExtracted(t, coordDir, strengthDir, "42", Vectors([3]float64{1, 1, 1}), []float64{9})

	ts, err := dataset.ParseTimestampToken(filepath.Join(coordDir, "pointcloud_42.npy"), "pointcloud_")
	require.NoError(t, err)
	assert.Equal(t, dataset.Timestamp("42"), ts)
	assert.FileExists(t, filepath.Join(strengthDir, "intensity_42.npy"))
}

func TestAssertNoError(t *testing.T) {
	AssertNoError(t, nil)
}
