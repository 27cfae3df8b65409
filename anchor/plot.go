package anchor

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Plot dimensions used by WriteHistoryPNG.
const (
	HistoryPlotWidth  = 8 * vg.Inch
	HistoryPlotHeight = 4 * vg.Inch
)

// PlotHistory charts one estimator channel: raw measurements as points, the
// filtered estimate as a line and the innovation as a second line. X is the
// sample index within the history window.
func PlotHistory(title string, samples []Sample) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = "Value"

	if len(samples) == 0 {
		return p, nil
	}

	measPts := make(plotter.XYs, len(samples))
	estPts := make(plotter.XYs, len(samples))
	innPts := make(plotter.XYs, len(samples))
	for i, s := range samples {
		x := float64(i)
		measPts[i] = plotter.XY{X: x, Y: s.Measurement}
		estPts[i] = plotter.XY{X: x, Y: s.Estimate}
		innPts[i] = plotter.XY{X: x, Y: s.Innovation}
	}

	meas, err := plotter.NewScatter(measPts)
	if err != nil {
		return nil, fmt.Errorf("measurement series: %w", err)
	}
	meas.GlyphStyle.Color = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	meas.GlyphStyle.Radius = vg.Points(2)
	meas.GlyphStyle.Shape = draw.CircleGlyph{}

	est, err := plotter.NewLine(estPts)
	if err != nil {
		return nil, fmt.Errorf("estimate series: %w", err)
	}
	est.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	est.Width = vg.Points(1.5)

	inn, err := plotter.NewLine(innPts)
	if err != nil {
		return nil, fmt.Errorf("innovation series: %w", err)
	}
	inn.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	inn.Width = vg.Points(1)
	inn.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(plotter.NewGrid(), meas, est, inn)
	p.Legend.Add("measurement", meas)
	p.Legend.Add("estimate", est)
	p.Legend.Add("innovation", inn)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WriteHistoryPNG renders PlotHistory as PNG.
func WriteHistoryPNG(w io.Writer, title string, samples []Sample) error {
	p, err := PlotHistory(title, samples)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(HistoryPlotWidth, HistoryPlotHeight, "png")
	if err != nil {
		return fmt.Errorf("creating plot writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("writing plot: %w", err)
	}
	return nil
}
