package viewer

import (
	"fmt"
	"math"
)

// Color is an RGB triple with channels in [0,1].
type Color struct {
	R, G, B float64
}

// Hex returns the color as #rrggbb.
func (c Color) Hex() string {
	to8 := func(v float64) int { return int(math.Round(math.Max(0, math.Min(1, v)) * 255)) }
	return fmt.Sprintf("#%02x%02x%02x", to8(c.R), to8(c.G), to8(c.B))
}

// lutSize matches the 256-entry lookup table of the classic bwr map.
const lutSize = 256

// bwr is the diverging blue-white-red map evaluated at t in [0,1].
func bwr(t float64) Color {
	if t <= 0.5 {
		return Color{R: 2 * t, G: 2 * t, B: 1}
	}
	return Color{R: 1, G: 2 * (1 - t), B: 2 * (1 - t)}
}

func lut(i int) Color {
	if i < 0 {
		i = 0
	}
	if i >= lutSize {
		i = lutSize - 1
	}
	return bwr(float64(i) / float64(lutSize-1))
}

// SegmentColors maps segment codes to colors. Codes are min-max normalised
// into the map when they differ; when every code is equal the raw code is
// used as a table index, so a uniform -1 frame renders as the low end.
func SegmentColors(segment []int64) []Color {
	out := make([]Color, len(segment))
	if len(segment) == 0 {
		return out
	}
	lo, hi := segment[0], segment[0]
	for _, v := range segment {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	for i, v := range segment {
		if lo == hi {
			out[i] = lut(int(v))
			continue
		}
		t := float64(v-lo) / float64(hi-lo)
		out[i] = lut(int(t * lutSize))
	}
	return out
}
