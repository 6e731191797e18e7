package source

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

func TestDropNaNPreservesOrder(t *testing.T) {
	nan := math.NaN()
	pr := NewPointRecord("x", "y", "z", "intensity")
	pr.Channels["x"] = []float64{0, 1, nan, 3}
	pr.Channels["y"] = []float64{0, 1, 2, 3}
	pr.Channels["z"] = []float64{0, 1, 2, 3}
	pr.Channels["intensity"] = []float64{10, nan, 30, 40}

	require.NoError(t, pr.Validate())
	dropped := pr.DropNaN()

	assert.Equal(t, 2, dropped)
	assert.Equal(t, 2, pr.Len())
	assert.Equal(t, []float64{0, 3}, pr.Channels["x"])
	assert.Equal(t, []float64{10, 40}, pr.Channels["intensity"])
}

func TestDropNaNNoop(t *testing.T) {
	pr := NewPointRecord("x")
	pr.Channels["x"] = []float64{1, 2}
	assert.Equal(t, 0, pr.DropNaN())
	assert.Equal(t, 2, pr.Len())
}

func TestPointRecordValidate(t *testing.T) {
	pr := NewPointRecord("x", "y")
	pr.Channels["x"] = []float64{1, 2}
	pr.Channels["y"] = []float64{1}
	assert.True(t, errors.Is(pr.Validate(), pipeline.ErrSourceFormat))

	delete(pr.Channels, "y")
	assert.True(t, errors.Is(pr.Validate(), pipeline.ErrSourceFormat))

	var empty *PointRecord
	assert.Equal(t, 0, empty.Len())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test/Points", DecodeFunc(func(data []byte, msgType string) (*PointRecord, error) {
		pr := NewPointRecord("x")
		pr.Channels["x"] = []float64{float64(len(data))}
		return pr, nil
	}))

	pr, err := reg.Decode([]byte{1, 2, 3}, "test/Points")
	require.NoError(t, err)
	x, ok := pr.Channel("x")
	require.True(t, ok)
	assert.Equal(t, []float64{3}, x)

	_, err = reg.Decode(nil, "unknown/Type")
	assert.True(t, errors.Is(err, pipeline.ErrSourceFormat))
	assert.Equal(t, []string{"test/Points"}, reg.Types())
}

func TestSliceSource(t *testing.T) {
	ctx := context.Background()
	src := NewSliceSource(Record{Timestamp: 1, Topic: "/a"}, Record{Timestamp: 2, Topic: "/b"})

	r, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Timestamp)
	r, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/b", r.Topic)
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, src.Close())
	_, err = src.Next(ctx)
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewSliceSource(Record{}).Next(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}
