package plot

import (
	"io"
	"math"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/turtacn/ertviz/internal/domain/ensemble"
	"github.com/turtacn/ertviz/pkg/errors"
)

// RenderOptions sizes the PNG output.
type RenderOptions struct {
	Width  int
	Height int
	Title  string
	Legend bool
}

// DefaultRenderOptions is 1024x576 with a legend.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{Width: 1024, Height: 576, Legend: true}
}

var (
	royalBlue = drawing.Color{R: 65, G: 105, B: 225, A: 255}
	red       = drawing.Color{R: 255, G: 0, B: 0, A: 255}
)

func withAlpha(c drawing.Color, opacity float64) drawing.Color {
	c.A = uint8(math.Round(255 * opacity))
	return c
}

// RenderPNG draws the current figure of m as a PNG.  Date axes become time
// series; every other axis is drawn on its numeric positions.
func RenderPNG(w io.Writer, m *EnsemblePlotModel, opts RenderOptions) error {
	if opts.Width <= 0 || opts.Height <= 0 {
		d := DefaultRenderOptions()
		opts.Width, opts.Height = d.Width, d.Height
	}

	var (
		series     []chart.Series
		xMin, xMax = math.Inf(1), math.Inf(-1)
		yMin, yMax = math.Inf(1), math.Inf(-1)
		timeAxis   bool
	)
	add := func(p PlotModel, style chart.Style) {
		if len(p.Y) == 0 {
			return
		}
		xs := p.X.Positions()
		for i := range p.Y {
			xMin, xMax = math.Min(xMin, xs[i]), math.Max(xMax, xs[i])
			yMin, yMax = math.Min(yMin, p.Y[i]), math.Max(yMax, p.Y[i])
		}
		if p.X.Kind == ensemble.AxisTime {
			timeAxis = true
			series = append(series, chart.TimeSeries{Name: p.Name, XValues: p.X.Times, YValues: p.Y, Style: style})
			return
		}
		series = append(series, chart.ContinuousSeries{Name: p.Name, XValues: xs, YValues: p.Y, Style: style})
	}

	for _, r := range m.Realizations() {
		add(r, chart.Style{
			StrokeColor: withAlpha(royalBlue, m.Opacity(r.Name)),
			StrokeWidth: 1,
			DotColor:    withAlpha(royalBlue, m.Opacity(r.Name)),
			DotWidth:    1,
		})
	}
	for _, o := range m.Observations() {
		if o.Mode == ModeMarkers {
			add(o, chart.Style{StrokeWidth: 0, DotWidth: 4, DotColor: red})
			continue
		}
		add(o, chart.Style{StrokeColor: red, StrokeWidth: 1, StrokeDashArray: []float64{5, 5}})
	}

	if len(series) == 0 {
		return errors.New(errors.CodeRenderFailed, "figure has no data to render")
	}

	xr := padRange(xMin, xMax)
	if timeAxis {
		xr = padRange(chart.TimeToFloat64(timeFromUnix(xMin)), chart.TimeToFloat64(timeFromUnix(xMax)))
	}

	layout := m.Layout()
	ch := chart.Chart{
		Title:      opts.Title,
		Width:      opts.Width,
		Height:     opts.Height,
		Background: chart.Style{Padding: chart.Box{Top: 14, Left: 16, Right: 12, Bottom: 14}},
		XAxis:      chart.XAxis{Name: layout.XAxis.Title, Range: xr},
		YAxis:      chart.YAxis{Name: layout.YAxis.Title, Range: padRange(yMin, yMax)},
		Series:     series,
	}
	if opts.Legend {
		ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	}

	if err := ch.Render(chart.PNG, w); err != nil {
		return errors.Wrap(err, errors.CodeRenderFailed, "chart render failed")
	}
	return nil
}

func timeFromUnix(sec float64) time.Time { return time.Unix(int64(sec), 0) }

// padRange widens [lo, hi] by 5% so that single points and flat series
// still get a non-empty range.
func padRange(lo, hi float64) *chart.ContinuousRange {
	if hi <= lo {
		return &chart.ContinuousRange{Min: lo - 1, Max: hi + 1}
	}
	pad := (hi - lo) * 0.05
	return &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}
