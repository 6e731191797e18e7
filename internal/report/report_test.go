package report

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/testutil"
)

func line(n int) []r3.Vector {
	out := make([]r3.Vector, n)
	for i := range out {
		out[i] = r3.Vector{X: float64(i), Y: 1, Z: 0}
	}
	return out
}

func ramp(from, to int) []float64 {
	out := make([]float64, 0, to-from+1)
	for v := from; v <= to; v++ {
		out = append(out, float64(v))
	}
	return out
}

func buildStore(t *testing.T) *dataset.Store {
	t.Helper()
	store, _ := testutil.NewMemoryStore("/data/seq")

	seg := testutil.Unlabeled(60)
	for i := 0; i < 10; i++ {
		seg[i] = 6
	}
	testutil.WriteFrame(t, store, testutil.Frame{Timestamp: "100", Coord: line(60), Strength: ramp(1, 60), Segment: seg})
	testutil.WriteFrame(t, store, testutil.Frame{Timestamp: "200", Coord: line(40), Strength: ramp(61, 100)})
	testutil.WriteFrame(t, store, testutil.Frame{Timestamp: "300", Coord: line(3), Strength: []float64{1, 2}, Segment: testutil.Unlabeled(3)})
	return store
}

func TestBuild(t *testing.T) {
	sum, err := Build(context.Background(), buildStore(t), DefaultOptions())
	require.NoError(t, err)

	require.Len(t, sum.Frames, 2)
	assert.Equal(t, FrameStats{Timestamp: "100", Points: 60, HumanPoints: 10, HasSegment: true, StrengthMin: 1, StrengthMax: 60}, sum.Frames[0])
	assert.Equal(t, FrameStats{Timestamp: "200", Points: 40, StrengthMin: 61, StrengthMax: 100}, sum.Frames[1])
	assert.Equal(t, 100, sum.TotalPoints)
	assert.Equal(t, 10, sum.TotalHuman)
	assert.InDelta(t, 0.1, sum.HumanFraction(), 1e-12)

	assert.Equal(t, Quantiles{Count: 100, Min: 1, P50: 50, P95: 95, P99: 99, Max: 100}, sum.Strength)
	assert.Equal(t, 99.0, sum.SuggestedCeiling)
	assert.InDelta(t, 50.5, sum.Mean(), 1e-12)
	assert.Len(t, sum.StrengthValues(), 100)

	// Frame 300 has unequal lengths.
	require.Len(t, sum.Result.Issues, 1)
	assert.ErrorIs(t, sum.Result.Issues[0], pipeline.ErrInvariant)
	assert.Equal(t, "300", sum.Result.Issues[0].Timestamp)
	assert.Equal(t, 1, sum.Result.FramesSkipped)
	assert.Equal(t, 2, sum.Result.FramesWritten)
	assert.Contains(t, sum.String(), "2 frames, 100 points, 10 human")
}

func TestBuildCustomHumanLabel(t *testing.T) {
	store, _ := testutil.NewMemoryStore("/data/seq")
	testutil.WriteFrame(t, store, testutil.Frame{Timestamp: "1", Coord: line(3), Strength: []float64{1, 1, 1}, Segment: []int64{2, 6, 2}})

	sum, err := Build(context.Background(), store, Options{HumanLabel: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalHuman)
}

func TestBuildEmpty(t *testing.T) {
	store, _ := testutil.NewMemoryStore("/data/empty")
	sum, err := Build(context.Background(), store, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, sum.Frames)
	assert.Equal(t, Quantiles{}, sum.Strength)
	assert.Zero(t, sum.HumanFraction())
	assert.True(t, math.IsNaN(sum.Mean()))

	assert.Error(t, sum.WriteHistogramTo(&bytes.Buffer{}))
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, buildStore(t), DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteHistogram(t *testing.T) {
	sum, err := Build(context.Background(), buildStore(t), DefaultOptions())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, sum.WriteHistogramTo(&buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))

	path := filepath.Join(t.TempDir(), "strength.png")
	require.NoError(t, sum.WriteHistogram(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}
