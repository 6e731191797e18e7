package report

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// HistogramBins is the bin count used by WriteHistogram.
const HistogramBins = 64

const (
	histWidth  = 10 * vg.Inch
	histHeight = 5 * vg.Inch
)

func (s *Summary) histogramPlot() (*plot.Plot, error) {
	if len(s.strength) == 0 {
		return nil, fmt.Errorf("no strength values under %s", s.Root)
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Strength distribution (%d points)", len(s.strength))
	p.X.Label.Text = "strength"
	p.Y.Label.Text = "points"

	hist, err := plotter.NewHist(plotter.Values(s.strength), HistogramBins)
	if err != nil {
		return nil, fmt.Errorf("building histogram: %w", err)
	}
	hist.LineStyle.Width = vg.Points(0.5)
	p.Add(hist)

	if s.SuggestedCeiling > 0 {
		line, err := plotter.NewLine(plotter.XYs{
			{X: s.SuggestedCeiling, Y: 0},
			{X: s.SuggestedCeiling, Y: maxBin(hist)},
		})
		if err != nil {
			return nil, fmt.Errorf("building ceiling marker: %w", err)
		}
		line.Width = vg.Points(1)
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("p99 = %g", s.SuggestedCeiling), line)
	}
	return p, nil
}

func maxBin(h *plotter.Histogram) float64 {
	var m float64
	for _, b := range h.Bins {
		if b.Weight > m {
			m = b.Weight
		}
	}
	return m
}

// WriteHistogram renders the strength histogram as a PNG file at path.
func (s *Summary) WriteHistogram(path string) error {
	p, err := s.histogramPlot()
	if err != nil {
		return err
	}
	if err := p.Save(histWidth, histHeight, path); err != nil {
		return fmt.Errorf("saving histogram %s: %w", path, err)
	}
	return nil
}

// WriteHistogramTo renders the strength histogram as PNG to w.
func (s *Summary) WriteHistogramTo(w io.Writer) error {
	p, err := s.histogramPlot()
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(histWidth, histHeight, "png")
	if err != nil {
		return fmt.Errorf("encoding histogram: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
