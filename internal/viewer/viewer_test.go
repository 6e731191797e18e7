package viewer

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/testutil"
)

func testSequence(t *testing.T) *Sequence {
	t.Helper()
	store, _ := testutil.NewMemoryStore("/data/seq")
	coords := testutil.Vectors([3]float64{1, 2, 0}, [3]float64{-3, 4, 0}, [3]float64{0.5, -0.5, 1}, [3]float64{9, 0, 0})
	testutil.WriteFrame(t, store, testutil.Frame{Timestamp: "200", Coord: coords, Segment: []int64{-1, 6, 6, -1}})
	testutil.WriteFrame(t, store, testutil.Frame{Timestamp: "100", Coord: coords})
	testutil.WriteFrame(t, store, testutil.Frame{Timestamp: "300", Coord: coords, Segment: []int64{-1, 6}})
	seq, err := NewSequence(store)
	require.NoError(t, err)
	return seq
}

func TestSequenceLoad(t *testing.T) {
	seq := testSequence(t)
	require.Equal(t, 3, seq.Len())
	assert.Equal(t, []dataset.Timestamp{"100", "200", "300"}, seq.Frames())
	assert.Equal(t, 1, seq.IndexOf("200"))
	assert.Equal(t, -1, seq.IndexOf("999"))

	cur := seq.Start()
	v, err := seq.Load(cur)
	require.NoError(t, err)
	assert.Equal(t, dataset.Timestamp("100"), v.Timestamp)
	assert.Nil(t, v.Segment)
	assert.Equal(t, make([]Color, 4), v.Colors, "no segment gives zero colors")

	cur, _ = cur.Next()
	v, err = seq.Load(cur)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 6, 6, -1}, v.Segment)
	assert.Equal(t, Color{R: 1}, v.Colors[1])

	cur, _ = cur.Next()
	_, err = seq.Load(cur)
	assert.ErrorIs(t, err, pipeline.ErrInvariant)

	_, err = seq.Load(Cursor{Index: 0, Len: 7})
	assert.ErrorIs(t, err, pipeline.ErrReference)
}

func TestRenderHTML(t *testing.T) {
	seq := testSequence(t)
	var views []*View
	for _, c := range []Cursor{{Index: 0, Len: 3}, {Index: 1, Len: 3}} {
		v, err := seq.Load(c)
		require.NoError(t, err)
		views = append(views, v)
	}

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, views, RenderOptions{}))
	html := buf.String()
	assert.Contains(t, html, "Frame 100")
	assert.Contains(t, html, "Frame 200")
	assert.Contains(t, html, "segment -1")
	assert.Contains(t, html, "segment 6")
	assert.Contains(t, html, "#ff0000")

	assert.Error(t, RenderHTML(&buf, nil, RenderOptions{}))
}

func TestFrameSeriesStride(t *testing.T) {
	v := &View{
		Timestamp: "1",
		Coord:     testutil.Vectors([3]float64{0, 0, 0}, [3]float64{1, 0, 0}, [3]float64{2, 0, 0}, [3]float64{3, 0, 0}, [3]float64{4, 0, 0}),
		Segment:   []int64{6, -1, 6, -1, 6},
	}
	v.Colors = SegmentColors(v.Segment)

	all := frameSeries(v, 1)
	require.Len(t, all, 2)
	assert.Equal(t, "segment -1", all[0].name)
	assert.Len(t, all[0].data, 2)
	assert.Len(t, all[1].data, 3)

	strided := frameSeries(v, 2)
	require.Len(t, strided, 1, "stride 2 only visits codes at even indices")
	assert.Equal(t, "segment 6", strided[0].name)
	assert.Len(t, strided[0].data, 3)
}

func TestBrowser(t *testing.T) {
	seq := testSequence(t)
	var out bytes.Buffer
	var shown []dataset.Timestamp
	b := &Browser{Seq: seq, Out: &out, Show: func(v *View) error {
		shown = append(shown, v.Timestamp)
		return nil
	}}

	cur, err := b.Run(context.Background(), strings.NewReader("a\nd\nx\ng 9\ng 1\nd\nd\nd\nq\nd\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, cur.Index)

	text := out.String()
	assert.Contains(t, text, MsgFirstFrame)
	assert.Contains(t, text, MsgLastFrame)
	assert.Contains(t, text, `unknown command "x"`)
	assert.Contains(t, text, "frame 9 outside 1..3")
	assert.Contains(t, text, "Error loading frame 2")
	// Frame 300 fails to load, so it is never shown.
	assert.Equal(t, []dataset.Timestamp{"100", "200", "100", "200"}, shown)
}

func TestBrowserEOFAndEmpty(t *testing.T) {
	seq := testSequence(t)
	var out bytes.Buffer
	cur, err := (&Browser{Seq: seq, Out: &out}).Run(context.Background(), strings.NewReader("d"))
	require.NoError(t, err)
	assert.Equal(t, 1, cur.Index)

	store, _ := testutil.NewMemoryStore("/data/empty")
	empty, err := NewSequence(store)
	require.NoError(t, err)
	_, err = (&Browser{Seq: empty, Out: &out}).Run(context.Background(), strings.NewReader(""))
	assert.Error(t, err)
}
