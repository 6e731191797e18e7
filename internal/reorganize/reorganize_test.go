package reorganize

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sbinet/npyio"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/fsutil"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/testutil"
)

const (
	coordDir    = "/in/npy/coord"
	strengthDir = "/in/npy/strength"
	root        = "/data/segment-1"
)

func putCoord(t *testing.T, mfs *fsutil.MemoryFileSystem, ts string, coords []r3.Vector) {
	t.Helper()
	data, err := dataset.EncodeCoord(coords)
	require.NoError(t, err)
	require.NoError(t, mfs.WriteFile(filepath.Join(coordDir, "pointcloud_"+ts+".npy"), data, 0o644))
}

func putStrength(t *testing.T, mfs *fsutil.MemoryFileSystem, ts string, values []float64) {
	t.Helper()
	data, err := dataset.EncodeStrength(&dataset.StrengthArray{Values: values, Column: true})
	require.NoError(t, err)
	require.NoError(t, mfs.WriteFile(filepath.Join(strengthDir, "intensity_"+ts+".npy"), data, 0o644))
}

func options(mfs *fsutil.MemoryFileSystem) Options {
	return Options{CoordDir: coordDir, StrengthDir: strengthDir, OutputRoot: root, UnlabeledLabel: -1, FS: mfs}
}

func seed(t *testing.T) *fsutil.MemoryFileSystem {
	mfs := fsutil.NewMemoryFileSystem()
	putCoord(t, mfs, "200", testutil.Vectors([3]float64{1, 2, 3}, [3]float64{4, 5, 6}))
	putStrength(t, mfs, "200", []float64{10, 20})
	putCoord(t, mfs, "100", testutil.Vectors([3]float64{0, 0, 0}, [3]float64{1, 1, 1}, [3]float64{2, 2, 2}))
	putStrength(t, mfs, "100", []float64{1, 2, 3})
	return mfs
}

func TestRunBuildsLayout(t *testing.T) {
	mfs := seed(t)
	res, err := Run(context.Background(), options(mfs))
	require.NoError(t, err)
	assert.False(t, res.HasIssues())
	assert.Equal(t, 2, res.FramesWritten)
	assert.Equal(t, 5, res.PointsWritten)

	store := dataset.NewStore(mfs, root)
	frames, err := store.ListFrames()
	require.NoError(t, err)
	assert.Equal(t, []dataset.Timestamp{"100", "200"}, frames)

	f, err := store.LoadFrame("100")
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, -1, -1}, f.Segment)
	assert.Equal(t, []float64{1, 2, 3}, f.Strength.Values)
	assert.True(t, f.Strength.Column)
	assert.Empty(t, dataset.ValidateFrame(f, dataset.ValidateOptions{RequireAll: true}))

	// coord is copied byte for byte.
	src, err := mfs.ReadFile(filepath.Join(coordDir, "pointcloud_100.npy"))
	require.NoError(t, err)
	dst, err := mfs.ReadFile(filepath.Join(root, "100", "coord.npy"))
	require.NoError(t, err)
	assert.Equal(t, src, dst)
}

func TestRunIsIdempotentAndResetsLabels(t *testing.T) {
	mfs := seed(t)
	_, err := Run(context.Background(), options(mfs))
	require.NoError(t, err)

	snapshot := map[string][]byte{}
	for _, f := range mfs.Files() {
		data, err := mfs.ReadFile(f)
		require.NoError(t, err)
		snapshot[f] = data
	}

	store := dataset.NewStore(mfs, root)
	require.NoError(t, store.WriteSegment("100", []int64{6, 6, -1}))

	res, err := Run(context.Background(), options(mfs))
	require.NoError(t, err)
	assert.False(t, res.HasIssues())
	for _, f := range mfs.Files() {
		data, err := mfs.ReadFile(f)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(snapshot[f], data), "%s changed between runs", f)
	}
}

func TestRunReportsMalformedInputs(t *testing.T) {
	mfs := seed(t)
	require.NoError(t, mfs.WriteFile(filepath.Join(coordDir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, mfs.WriteFile(filepath.Join(coordDir, "pointcloud.npy"), []byte("x"), 0o644))
	require.NoError(t, mfs.WriteFile(filepath.Join(coordDir, "pointcloud_300.npy"), []byte("garbage"), 0o644))

	var wrongShape bytes.Buffer
	require.NoError(t, npyio.Write(&wrongShape, []float64{1, 2, 3}))
	require.NoError(t, mfs.WriteFile(filepath.Join(coordDir, "pointcloud_400.npy"), wrongShape.Bytes(), 0o644))

	res, err := Run(context.Background(), options(mfs))
	require.NoError(t, err)
	assert.Equal(t, 2, res.FramesWritten)
	require.Len(t, res.Issues, 4)
	assert.ErrorIs(t, res.Issues[0], pipeline.ErrReference)
	assert.ErrorIs(t, res.Issues[1], pipeline.ErrReference)
	assert.ErrorIs(t, res.Issues[2], pipeline.ErrSourceFormat)
	assert.Equal(t, "300", res.Issues[2].Timestamp)
	assert.ErrorIs(t, res.Issues[3], pipeline.ErrSourceFormat)
	assert.Equal(t, "400", res.Issues[3].Timestamp)

	store := dataset.NewStore(mfs, root)
	assert.False(t, store.HasArray("300", dataset.Coord))
	assert.False(t, store.HasArray("400", dataset.Segment))
}

func TestRunStrengthOnlyAndMismatch(t *testing.T) {
	mfs := seed(t)
	putStrength(t, mfs, "500", []float64{1})
	putCoord(t, mfs, "600", testutil.Vectors([3]float64{1, 1, 1}))
	putStrength(t, mfs, "600", []float64{1, 2})

	res, err := Run(context.Background(), options(mfs))
	require.NoError(t, err)
	assert.Equal(t, 2, res.FramesWritten)
	assert.Equal(t, 2, res.FramesSkipped)
	assert.Equal(t, pipeline.ExitIssues, res.ExitCode())

	byTS := map[string][]*pipeline.Issue{}
	for _, issue := range res.Issues {
		assert.ErrorIs(t, issue, pipeline.ErrInvariant)
		byTS[issue.Timestamp] = append(byTS[issue.Timestamp], issue)
	}
	assert.Len(t, byTS["500"], 2) // missing coord and segment
	assert.Len(t, byTS["600"], 1)

	store := dataset.NewStore(mfs, root)
	assert.True(t, store.HasArray("500", dataset.Strength))
}

func TestRunMissingInputDir(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	_, err := Run(context.Background(), options(mfs))
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrIO)
}

func TestRunRequiresPaths(t *testing.T) {
	_, err := Run(context.Background(), Options{CoordDir: coordDir})
	assert.Error(t, err)
}
