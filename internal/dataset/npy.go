package dataset

import (
	"bytes"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

// StrengthArray is a strength vector together with its stored shape.
// Column is true for [N,1] arrays and false for [N].
type StrengthArray struct {
	Values []float64
	Column bool
}

// Len returns the number of points.
func (s *StrengthArray) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Values)
}

// rawArray is a decoded npy payload flattened in row-major order.
type rawArray struct {
	shape   []int
	floats  []float64
	ints    []int64
	isFloat bool
}

func (a *rawArray) size() int {
	if a.isFloat {
		return len(a.floats)
	}
	return len(a.ints)
}

func sourceFormatf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", pipeline.ErrSourceFormat, fmt.Sprintf(format, args...))
}

// decodeNPY reads an npy payload and widens it to float64 or int64.
// Accepted dtypes are <f8 and <f4 for floats and <i8, <i4, |i1 for integers.
func decodeNPY(data []byte) (*rawArray, error) {
	r, err := npyio.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, sourceFormatf("read npy header: %v", err)
	}
	descr := r.Header.Descr
	out := &rawArray{shape: append([]int(nil), descr.Shape...)}

	switch descr.Type {
	case "<f8":
		var v []float64
		if err := r.Read(&v); err != nil {
			return nil, sourceFormatf("read <f8 data: %v", err)
		}
		out.floats, out.isFloat = v, true
	case "<f4":
		var v []float32
		if err := r.Read(&v); err != nil {
			return nil, sourceFormatf("read <f4 data: %v", err)
		}
		out.floats, out.isFloat = make([]float64, len(v)), true
		for i, x := range v {
			out.floats[i] = float64(x)
		}
	case "<i8":
		var v []int64
		if err := r.Read(&v); err != nil {
			return nil, sourceFormatf("read <i8 data: %v", err)
		}
		out.ints = v
	case "<i4":
		var v []int32
		if err := r.Read(&v); err != nil {
			return nil, sourceFormatf("read <i4 data: %v", err)
		}
		out.ints = make([]int64, len(v))
		for i, x := range v {
			out.ints[i] = int64(x)
		}
	case "|i1":
		var v []int8
		if err := r.Read(&v); err != nil {
			return nil, sourceFormatf("read |i1 data: %v", err)
		}
		out.ints = make([]int64, len(v))
		for i, x := range v {
			out.ints[i] = int64(x)
		}
	default:
		return nil, sourceFormatf("unsupported npy dtype %q", descr.Type)
	}

	want := 1
	for _, d := range out.shape {
		want *= d
	}
	if want != out.size() {
		return nil, sourceFormatf("npy shape %v holds %d values, payload has %d", out.shape, want, out.size())
	}
	if descr.Fortran && len(out.shape) == 2 {
		out.toRowMajor()
	}
	return out, nil
}

func (a *rawArray) toRowMajor() {
	rows, cols := a.shape[0], a.shape[1]
	if a.isFloat {
		dst := make([]float64, len(a.floats))
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				dst[i*cols+j] = a.floats[j*rows+i]
			}
		}
		a.floats = dst
		return
	}
	dst := make([]int64, len(a.ints))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[i*cols+j] = a.ints[j*rows+i]
		}
	}
	a.ints = dst
}

// DecodeCoord decodes an [N,3] float array. An empty 1-D array decodes as
// zero points.
func DecodeCoord(data []byte) ([]r3.Vector, error) {
	a, err := decodeNPY(data)
	if err != nil {
		return nil, err
	}
	if !a.isFloat {
		return nil, sourceFormatf("coord must be a float array")
	}
	if len(a.shape) == 1 && a.shape[0] == 0 {
		return []r3.Vector{}, nil
	}
	if len(a.shape) != 2 || a.shape[1] != 3 {
		return nil, sourceFormatf("coord must have shape [N,3], got %v", a.shape)
	}
	out := make([]r3.Vector, a.shape[0])
	for i := range out {
		out[i] = r3.Vector{X: a.floats[3*i], Y: a.floats[3*i+1], Z: a.floats[3*i+2]}
	}
	return out, nil
}

// EncodeCoord encodes points as a float64 [N,3] array.
func EncodeCoord(coords []r3.Vector) ([]byte, error) {
	var buf bytes.Buffer
	if len(coords) == 0 {
		if err := npyio.Write(&buf, []float64{}); err != nil {
			return nil, fmt.Errorf("encode coord: %w", err)
		}
		return buf.Bytes(), nil
	}
	flat := make([]float64, 0, 3*len(coords))
	for _, p := range coords {
		flat = append(flat, p.X, p.Y, p.Z)
	}
	if err := npyio.Write(&buf, mat.NewDense(len(coords), 3, flat)); err != nil {
		return nil, fmt.Errorf("encode coord: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeStrength decodes an [N] or [N,1] float array.
func DecodeStrength(data []byte) (*StrengthArray, error) {
	a, err := decodeNPY(data)
	if err != nil {
		return nil, err
	}
	if !a.isFloat {
		return nil, sourceFormatf("strength must be a float array")
	}
	switch {
	case len(a.shape) == 1:
		return &StrengthArray{Values: a.floats}, nil
	case len(a.shape) == 2 && a.shape[1] == 1:
		return &StrengthArray{Values: a.floats, Column: true}, nil
	default:
		return nil, sourceFormatf("strength must have shape [N] or [N,1], got %v", a.shape)
	}
}

// EncodeStrength encodes strength as float64, preserving the column shape.
func EncodeStrength(s *StrengthArray) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if s.Column && len(s.Values) > 0 {
		err = npyio.Write(&buf, mat.NewDense(len(s.Values), 1, append([]float64(nil), s.Values...)))
	} else {
		err = npyio.Write(&buf, append([]float64{}, s.Values...))
	}
	if err != nil {
		return nil, fmt.Errorf("encode strength: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSegment decodes an [N] integer label array.
func DecodeSegment(data []byte) ([]int64, error) {
	a, err := decodeNPY(data)
	if err != nil {
		return nil, err
	}
	if a.isFloat {
		return nil, sourceFormatf("segment must be an integer array")
	}
	if len(a.shape) != 1 {
		return nil, sourceFormatf("segment must have shape [N], got %v", a.shape)
	}
	return a.ints, nil
}

// EncodeSegment encodes labels as int64 [N].
func EncodeSegment(seg []int64) ([]byte, error) {
	var buf bytes.Buffer
	if err := npyio.Write(&buf, append([]int64{}, seg...)); err != nil {
		return nil, fmt.Errorf("encode segment: %w", err)
	}
	return buf.Bytes(), nil
}

// HasNaN reports whether any coordinate component is NaN.
func HasNaN(coords []r3.Vector) bool {
	for _, p := range coords {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z) {
			return true
		}
	}
	return false
}
