package dataset

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

func encode(t *testing.T, v interface{}) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, npyio.Write(&buf, v))
	return buf.Bytes()
}

func TestCoordRoundTrip(t *testing.T) {
	in := []r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 1, Y: -2.5, Z: 3}, {X: 1e6, Y: 1e-6, Z: -0}}
	data, err := EncodeCoord(in)
	require.NoError(t, err)

	out, err := DecodeCoord(data)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("coord mismatch (-want +got):\n%s", diff)
	}
}

func TestCoordEmpty(t *testing.T) {
	data, err := EncodeCoord(nil)
	require.NoError(t, err)
	out, err := DecodeCoord(data)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDecodeCoordRowMajor(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	var buf bytes.Buffer
	require.NoError(t, npyio.Write(&buf, m))
	out, err := DecodeCoord(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, r3.Vector{X: 4, Y: 5, Z: 6}, out[1])

	f32 := encode(t, []float32{1.5, 2.5, 3.5})
	_, err = DecodeCoord(f32)
	require.Error(t, err, "1-D non-empty array is not a coord array")
	assert.True(t, errors.Is(err, pipeline.ErrSourceFormat))
}

func TestDecodeCoordRejectsWrongShape(t *testing.T) {
	data := encode(t, mat.NewDense(2, 2, []float64{1, 2, 3, 4}))
	_, err := DecodeCoord(data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrSourceFormat))

	_, err = DecodeCoord(encode(t, []int64{1, 2, 3}))
	assert.True(t, errors.Is(err, pipeline.ErrSourceFormat))

	_, err = DecodeCoord([]byte("not an npy file"))
	assert.True(t, errors.Is(err, pipeline.ErrSourceFormat))
}

func TestStrengthShapes(t *testing.T) {
	tests := []struct {
		name   string
		column bool
	}{
		{"flat", false},
		{"column", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &StrengthArray{Values: []float64{10, 150, -5}, Column: tt.column}
			data, err := EncodeStrength(in)
			require.NoError(t, err)
			out, err := DecodeStrength(data)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestDecodeStrengthFloat32(t *testing.T) {
	out, err := DecodeStrength(encode(t, []float32{0.5, 1.5}))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.5}, out.Values)
	assert.False(t, out.Column)

	_, err = DecodeStrength(encode(t, mat.NewDense(1, 2, []float64{1, 2})))
	assert.True(t, errors.Is(err, pipeline.ErrSourceFormat))
}

func TestSegmentDtypes(t *testing.T) {
	tests := []struct {
		name string
		data interface{}
	}{
		{"int64", []int64{-1, 6, 6}},
		{"int32", []int32{-1, 6, 6}},
		{"int8", []int8{-1, 6, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := DecodeSegment(encode(t, tt.data))
			require.NoError(t, err)
			assert.Equal(t, []int64{-1, 6, 6}, out)
		})
	}

	_, err := DecodeSegment(encode(t, []float64{1}))
	assert.True(t, errors.Is(err, pipeline.ErrSourceFormat))
}

func TestEncodeSegmentIsInt64(t *testing.T) {
	data, err := EncodeSegment([]int64{-1, -1})
	require.NoError(t, err)
	r, err := npyio.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "<i8", r.Header.Descr.Type)
	assert.Equal(t, []int{2}, r.Header.Descr.Shape)
}

func TestHasNaN(t *testing.T) {
	assert.False(t, HasNaN([]r3.Vector{{X: 1}}))
	assert.True(t, HasNaN([]r3.Vector{{X: 1}, {Y: math.NaN()}}))
}
