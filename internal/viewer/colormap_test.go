package viewer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColorHex(t *testing.T) {
	assert.Equal(t, "#0000ff", Color{B: 1}.Hex())
	assert.Equal(t, "#ffffff", Color{R: 1, G: 1, B: 1}.Hex())
	assert.Equal(t, "#ff0000", Color{R: 2}.Hex(), "channels are clamped")
}

func TestBWREndpoints(t *testing.T) {
	assert.Equal(t, Color{B: 1}, bwr(0))
	assert.Equal(t, Color{R: 1, G: 1, B: 1}, bwr(0.5))
	assert.Equal(t, Color{R: 1}, bwr(1))
}

func TestSegmentColorsNormalised(t *testing.T) {
	got := SegmentColors([]int64{-1, 6, 6, -1})
	assert.Equal(t, Color{B: 1}, got[0])
	assert.Equal(t, Color{R: 1}, got[1])
	assert.Equal(t, got[1], got[2])
	assert.Equal(t, got[0], got[3])
}

func TestSegmentColorsUniform(t *testing.T) {
	// Every code equal: the raw code indexes the table, negatives clamp low.
	got := SegmentColors([]int64{-1, -1})
	assert.Equal(t, []Color{{B: 1}, {B: 1}}, got)

	six := SegmentColors([]int64{6})
	assert.Equal(t, lut(6), six[0])
	assert.InDelta(t, 12.0/255, six[0].R, 1e-12)
	assert.Equal(t, 1.0, six[0].B)

	assert.Equal(t, Color{R: 1}, SegmentColors([]int64{1000})[0])
	assert.Empty(t, SegmentColors(nil))
}
