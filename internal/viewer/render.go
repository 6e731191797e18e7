package viewer

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderOptions controls RenderHTML.
type RenderOptions struct {
	// MaxPoints caps the points drawn per frame; larger frames are strided.
	// Zero means DefaultMaxPoints.
	MaxPoints int
	// PointSize is the scatter symbol size. Zero means DefaultPointSize.
	PointSize int
	// AssetsHost overrides where the echarts JavaScript is loaded from.
	AssetsHost string
}

// Render defaults.
const (
	DefaultMaxPoints = 20000
	DefaultPointSize = 2
)

func (o RenderOptions) withDefaults() RenderOptions {
	if o.MaxPoints <= 0 {
		o.MaxPoints = DefaultMaxPoints
	}
	if o.PointSize <= 0 {
		o.PointSize = DefaultPointSize
	}
	return o
}

type series struct {
	name  string
	color Color
	data  []opts.ScatterData
}

// frameSeries groups the strided points of v by segment code. A frame
// without segment data yields a single series.
func frameSeries(v *View, stride int) []series {
	if v.Segment == nil {
		s := series{name: "points"}
		if len(v.Colors) > 0 {
			s.color = v.Colors[0]
		}
		for i := 0; i < len(v.Coord); i += stride {
			s.data = append(s.data, opts.ScatterData{Value: []interface{}{v.Coord[i].X, v.Coord[i].Y}})
		}
		return []series{s}
	}

	byCode := make(map[int64]*series)
	for i := 0; i < len(v.Coord); i += stride {
		code := v.Segment[i]
		s, ok := byCode[code]
		if !ok {
			s = &series{name: fmt.Sprintf("segment %d", code), color: v.Colors[i]}
			byCode[code] = s
		}
		s.data = append(s.data, opts.ScatterData{Value: []interface{}{v.Coord[i].X, v.Coord[i].Y}})
	}
	codes := make([]int64, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	out := make([]series, 0, len(codes))
	for _, code := range codes {
		out = append(out, *byCode[code])
	}
	return out
}

func extent(v *View) float64 {
	pad := 1.0
	for _, p := range v.Coord {
		pad = math.Max(pad, math.Max(math.Abs(p.X), math.Abs(p.Y)))
	}
	return math.Ceil(pad)
}

func frameChart(v *View, o RenderOptions) *charts.Scatter {
	stride := 1
	if len(v.Coord) > o.MaxPoints {
		stride = (len(v.Coord) + o.MaxPoints - 1) / o.MaxPoints
	}
	pad := extent(v)

	initOpts := opts.Initialization{PageTitle: "LiDAR frames", Width: "900px", Height: "900px"}
	if o.AssetsHost != "" {
		initOpts.AssetsHost = o.AssetsHost
	}
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: "Frame " + string(v.Timestamp), Subtitle: fmt.Sprintf("points=%d stride=%d", len(v.Coord), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	for _, s := range frameSeries(v, stride) {
		scatter.AddSeries(s.name, s.data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: o.PointSize}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: s.color.Hex()}),
		)
	}
	return scatter
}

// RenderHTML writes one top-down X/Y scatter chart per view to w as a single
// HTML page, coloured by segment code.
func RenderHTML(w io.Writer, views []*View, o RenderOptions) error {
	if len(views) == 0 {
		return fmt.Errorf("no frames to render")
	}
	o = o.withDefaults()
	page := components.NewPage()
	page.SetPageTitle(fmt.Sprintf("LiDAR frames %s..%s", views[0].Timestamp, views[len(views)-1].Timestamp))
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	for _, v := range views {
		page.AddCharts(frameChart(v, o))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("rendering frames: %w", err)
	}
	return nil
}
