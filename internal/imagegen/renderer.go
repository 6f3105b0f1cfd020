package imagegen

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/image/draw"

	"github.com/lox/kasselweather/internal/charts"
	"github.com/lox/kasselweather/internal/stats"
)

const (
	titleBand = 50
	boxHalf   = 0.3
	barShare  = 0.8
)

// noStroke is invisible but non-zero, so go-chart does not substitute its
// default series colour.
var noStroke = drawing.Color{R: 1, A: 0}

// errNoSeries reports a figure whose traces hold no drawable values.
var errNoSeries = errors.New("no drawable series")

// Renderer rasterizes chart figures to PNG with go-chart.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderFigure writes a PNG of fig. Figures without traces, or whose traces
// are all gaps, produce a placeholder image instead of an error.
func (r *Renderer) RenderFigure(fig charts.Figure, w io.Writer) error {
	if fig.Empty() {
		return r.placeholder(fig, w)
	}
	c, err := buildChart(fig)
	if errors.Is(err, errNoSeries) {
		return r.placeholder(fig, w)
	}
	if err != nil {
		return err
	}
	if err := c.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render %s: %w", fig.Name, err)
	}
	return nil
}

// RenderDashboard renders each cell and tiles them under a title band.
func (r *Renderer) RenderDashboard(d charts.Dashboard, w io.Writer) error {
	loadFonts()
	if fontErr != nil {
		return fmt.Errorf("load fonts: %w", fontErr)
	}
	if d.Rows <= 0 || d.Cols <= 0 {
		return fmt.Errorf("dashboard %s: empty grid", d.Name)
	}

	cellW := d.Width / d.Cols
	cellH := (d.Height - titleBand) / d.Rows
	dst := image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	drawCentered(dst, d.Title, d.Width/2, titleBand-15, color.Black, fontTitle)

	for i, cell := range d.Cells {
		if i >= d.Rows*d.Cols {
			break
		}
		cell.Width, cell.Height = cellW, cellH

		var buf bytes.Buffer
		if err := r.RenderFigure(cell, &buf); err != nil {
			return fmt.Errorf("cell %d: %w", i, err)
		}
		src, err := png.Decode(&buf)
		if err != nil {
			return fmt.Errorf("decode cell %d: %w", i, err)
		}

		x0 := (i % d.Cols) * cellW
		y0 := titleBand + (i/d.Cols)*cellH
		rect := image.Rect(x0, y0, x0+cellW, y0+cellH)
		draw.Draw(dst, rect, src, src.Bounds().Min, draw.Over)
	}

	if err := png.Encode(w, dst); err != nil {
		return fmt.Errorf("encode dashboard: %w", err)
	}
	return nil
}

func (r *Renderer) placeholder(fig charts.Figure, w io.Writer) error {
	loadFonts()
	if fontErr != nil {
		return fmt.Errorf("load fonts: %w", fontErr)
	}
	width, height := fig.Width, fig.Height
	if width <= 0 || height <= 0 {
		width, height = charts.FigureWidth, charts.FigureHeight
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	drawCentered(dst, fig.Title, width/2, 40, color.Black, fontTitle)
	drawCentered(dst, "Keine Daten verfügbar", width/2, height/2, color.Gray{Y: 110}, fontRegular)

	if err := png.Encode(w, dst); err != nil {
		return fmt.Errorf("encode placeholder: %w", err)
	}
	return nil
}

// xMapper converts figure x values to chart coordinates.
type xMapper func(s string) (float64, bool)

func mapperFor(axis charts.Axis) xMapper {
	switch axis.Type {
	case charts.AxisDate:
		return func(s string) (float64, bool) {
			t, err := time.Parse(charts.DateLayout, s)
			if err != nil {
				return 0, false
			}
			return chart.TimeToFloat64(t), true
		}
	case charts.AxisCategory:
		return func(s string) (float64, bool) {
			for i, c := range axis.Categories {
				if c == s {
					return float64(i), true
				}
			}
			return 0, false
		}
	default:
		return func(s string) (float64, bool) {
			f, err := strconv.ParseFloat(s, 64)
			return f, err == nil
		}
	}
}

// bounds tracks the extent of everything drawn on one axis.
type bounds struct {
	min, max float64
	set      bool
}

func (b *bounds) add(vs ...float64) {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if !b.set {
			b.min, b.max, b.set = v, v, true
			continue
		}
		b.min = math.Min(b.min, v)
		b.max = math.Max(b.max, v)
	}
}

func (b bounds) padded(frac float64) (float64, float64) {
	if !b.set {
		return 0, 1
	}
	span := b.max - b.min
	if span == 0 {
		return b.min - 1, b.max + 1
	}
	return b.min - span*frac, b.max + span*frac
}

type legendEntry struct {
	name  string
	color drawing.Color
}

func buildChart(fig charts.Figure) (chart.Chart, error) {
	mapX := mapperFor(fig.XAxis)
	var (
		fills  []chart.Series
		lines  []chart.Series
		legend []legendEntry
		xb, yb bounds
	)

	for _, tr := range fig.Traces {
		col := parseColor(tr.Color)
		xs := make([]float64, 0, len(tr.X))
		for _, s := range tr.X {
			x, ok := mapX(s)
			if !ok {
				return chart.Chart{}, fmt.Errorf("%s: bad x value %q in trace %q", fig.Name, s, tr.Name)
			}
			xs = append(xs, x)
		}
		if tr.Name != "" {
			legend = append(legend, legendEntry{name: tr.Name, color: col})
		}

		switch tr.Kind {
		case charts.KindBand:
			fill := col.WithAlpha(uint8(255 * opacity(tr.Opacity)))
			upperX, upper := dropGaps(xs, tr.Y)
			lowerX, lower := dropGaps(xs, tr.Y2)
			if len(upper) == 0 || len(lower) == 0 {
				continue
			}
			fills = append(fills,
				chart.ContinuousSeries{XValues: upperX, YValues: upper, Style: chart.Style{StrokeColor: noStroke, FillColor: fill}},
				chart.ContinuousSeries{XValues: lowerX, YValues: lower, Style: chart.Style{StrokeColor: noStroke, FillColor: drawing.ColorWhite}},
			)
			xb.add(xs...)
			yb.add(tr.Y...)
			yb.add(tr.Y2...)

		case charts.KindBar:
			bx, by := barPath(xs, tr.Y)
			if len(bx) == 0 {
				continue
			}
			fills = append(fills, chart.ContinuousSeries{
				XValues: bx,
				YValues: by,
				Style:   chart.Style{StrokeColor: col, StrokeWidth: 1, FillColor: col},
			})
			xb.add(bx...)
			yb.add(tr.Y...)

		case charts.KindBox:
			if tr.Box == nil || len(xs) == 0 {
				continue
			}
			boxFills, boxLines := boxSeries(xs[0], *tr.Box, col)
			fills = append(fills, boxFills...)
			lines = append(lines, boxLines...)
			xb.add(xs[0]-boxHalf, xs[0]+boxHalf)
			yb.add(tr.Box.LowerWhisker, tr.Box.UpperWhisker)
			yb.add(tr.Box.Outliers...)

		default:
			style := chart.Style{StrokeColor: col, StrokeWidth: width(tr.Width)}
			if tr.Dashed {
				style.StrokeDashArray = []float64{6, 4}
			}
			if tr.Markers || tr.Kind == charts.KindPoint {
				style.DotColor = col
				style.DotWidth = 3
			}
			if tr.Kind == charts.KindPoint {
				style.StrokeColor = noStroke
			}
			for _, seg := range segments(xs, tr.Y) {
				lines = append(lines, lineSeries(fig.XAxis.Type, seg[0], seg[1], style))
			}
			xb.add(xs...)
			yb.add(tr.Y...)
		}
	}

	var notes []chart.Value2
	for _, a := range fig.Annotations {
		x, ok := mapX(a.X)
		if !ok {
			continue
		}
		notes = append(notes, chart.Value2{XValue: x, YValue: a.Y, Label: a.Text})
		yb.add(a.Y)
	}

	if len(fills)+len(lines) == 0 {
		return chart.Chart{}, errNoSeries
	}
	series := append(fills, lines...)
	if len(notes) > 0 {
		series = append(series, chart.AnnotationSeries{Annotations: notes})
	}

	yMin, yMax := yb.padded(0.05)
	if fig.YAxis.ZeroBased {
		yMin = 0
		if yMax <= 0 {
			yMax = 1
		}
	}

	c := chart.Chart{
		Title:  fig.Title,
		Width:  fig.Width,
		Height: fig.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 60, Left: 20, Right: 20, Bottom: 10},
		},
		XAxis:  xAxis(fig.XAxis, xb),
		YAxis:  chart.YAxis{Name: fig.YAxis.Title, Range: &chart.ContinuousRange{Min: yMin, Max: yMax}},
		Series: series,
	}
	if fig.ShowLegend && len(legend) > 0 {
		c.Elements = []chart.Renderable{legendRenderable(legend)}
	}
	return c, nil
}

func xAxis(axis charts.Axis, xb bounds) chart.XAxis {
	xa := chart.XAxis{Name: axis.Title}

	switch axis.Type {
	case charts.AxisCategory:
		xa.Range = &chart.ContinuousRange{Min: -0.5, Max: float64(len(axis.Categories)) - 0.5}
		for i, c := range axis.Categories {
			xa.Ticks = append(xa.Ticks, chart.Tick{Value: float64(i), Label: c})
		}

	case charts.AxisYear:
		lo, hi := xb.min, xb.max
		if !xb.set {
			lo, hi = 0, 1
		}
		xa.Range = &chart.ContinuousRange{Min: lo - 0.5, Max: hi + 0.5}
		step := math.Max(1, math.Ceil((hi-lo+1)/10))
		for y := lo; y <= hi; y += step {
			xa.Ticks = append(xa.Ticks, chart.Tick{Value: y, Label: strconv.Itoa(int(y))})
		}

	case charts.AxisDate:
		lo, hi := xb.padded(0.01)
		xa.Range = &chart.ContinuousRange{Min: lo, Max: hi}
		layout := "01/2006"
		if time.Duration(hi-lo) > 2*365*24*time.Hour {
			layout = "2006"
		}
		xa.ValueFormatter = func(v interface{}) string {
			if f, ok := v.(float64); ok {
				return time.Unix(0, int64(f)).UTC().Format(layout)
			}
			return ""
		}

	default:
		lo, hi := xb.padded(0.02)
		xa.Range = &chart.ContinuousRange{Min: lo, Max: hi}
	}
	return xa
}

func lineSeries(axis charts.AxisType, xs, ys []float64, style chart.Style) chart.Series {
	if axis == charts.AxisDate {
		ts := chart.TimeSeries{Style: style, YValues: ys, XValues: make([]time.Time, len(xs))}
		for i, x := range xs {
			ts.XValues[i] = time.Unix(0, int64(x)).UTC()
		}
		return ts
	}
	return chart.ContinuousSeries{Style: style, XValues: xs, YValues: ys}
}

// boxSeries draws a box plot with line series. go-chart fills from a series
// down to the canvas floor, so the box body is a coloured fill at Q3 covered
// by a white fill at Q1; outlines, whiskers and outliers go on top.
func boxSeries(x float64, b stats.Box, col drawing.Color) (fills, lines []chart.Series) {
	l, r := x-boxHalf, x+boxHalf
	stroke := chart.Style{StrokeColor: col, StrokeWidth: 1.5}

	fills = []chart.Series{
		chart.ContinuousSeries{XValues: []float64{l, r}, YValues: []float64{b.Q3, b.Q3}, Style: chart.Style{StrokeColor: noStroke, FillColor: col.WithAlpha(110)}},
		chart.ContinuousSeries{XValues: []float64{l, r}, YValues: []float64{b.Q1, b.Q1}, Style: chart.Style{StrokeColor: noStroke, FillColor: drawing.ColorWhite}},
	}

	median := stroke
	median.StrokeWidth = 2.5
	lines = []chart.Series{
		chart.ContinuousSeries{XValues: []float64{l, r, r, l, l}, YValues: []float64{b.Q1, b.Q1, b.Q3, b.Q3, b.Q1}, Style: stroke},
		chart.ContinuousSeries{XValues: []float64{l, r}, YValues: []float64{b.Median, b.Median}, Style: median},
		chart.ContinuousSeries{XValues: []float64{x, x}, YValues: []float64{b.Q3, b.UpperWhisker}, Style: stroke},
		chart.ContinuousSeries{XValues: []float64{x, x}, YValues: []float64{b.Q1, b.LowerWhisker}, Style: stroke},
		chart.ContinuousSeries{XValues: []float64{x - boxHalf/2, x + boxHalf/2}, YValues: []float64{b.UpperWhisker, b.UpperWhisker}, Style: stroke},
		chart.ContinuousSeries{XValues: []float64{x - boxHalf/2, x + boxHalf/2}, YValues: []float64{b.LowerWhisker, b.LowerWhisker}, Style: stroke},
	}
	if len(b.Outliers) > 0 {
		xs := make([]float64, len(b.Outliers))
		for i := range xs {
			xs[i] = x
		}
		lines = append(lines, chart.ContinuousSeries{
			XValues: xs,
			YValues: b.Outliers,
			Style:   chart.Style{StrokeColor: noStroke, DotColor: col, DotWidth: 2.5},
		})
	}
	return fills, lines
}

// barPath traces bars as one closed step outline along the zero line.
func barPath(xs, ys []float64) (px, py []float64) {
	for i, x := range xs {
		y := ys[i]
		if math.IsNaN(y) {
			continue
		}
		half := barHalfWidth(xs, i)
		px = append(px, x-half, x-half, x+half, x+half)
		py = append(py, 0, y, y, 0)
	}
	return px, py
}

func barHalfWidth(xs []float64, i int) float64 {
	var gap float64
	switch {
	case len(xs) < 2:
		gap = float64(30 * 24 * time.Hour)
	case i+1 < len(xs):
		gap = xs[i+1] - xs[i]
	default:
		gap = xs[i] - xs[i-1]
	}
	return gap * barShare / 2
}

// segments splits a series at NaN gaps.
func segments(xs, ys []float64) [][2][]float64 {
	var out [][2][]float64
	var cx, cy []float64
	for i := range xs {
		if i >= len(ys) || math.IsNaN(ys[i]) {
			if len(cx) > 0 {
				out = append(out, [2][]float64{cx, cy})
				cx, cy = nil, nil
			}
			continue
		}
		cx = append(cx, xs[i])
		cy = append(cy, ys[i])
	}
	if len(cx) > 0 {
		out = append(out, [2][]float64{cx, cy})
	}
	return out
}

func dropGaps(xs, ys []float64) (ox, oy []float64) {
	for i := range xs {
		if i < len(ys) && !math.IsNaN(ys[i]) {
			ox = append(ox, xs[i])
			oy = append(oy, ys[i])
		}
	}
	return ox, oy
}

func legendRenderable(entries []legendEntry) chart.Renderable {
	return func(r chart.Renderer, cb chart.Box, defaults chart.Style) {
		f := defaults.GetFont()
		if f == nil {
			if df, err := chart.GetDefaultFont(); err == nil {
				f = df
			}
		}
		r.SetFont(f)
		r.SetFontSize(9)
		r.SetFontColor(drawing.ColorBlack)

		x := cb.Left + 10
		y := cb.Top - 12
		for _, e := range entries {
			r.SetStrokeColor(e.color.WithAlpha(255))
			r.SetStrokeWidth(3)
			r.MoveTo(x, y)
			r.LineTo(x+16, y)
			r.Stroke()

			r.Text(e.name, x+20, y+4)
			x += 20 + r.MeasureText(e.name).Width() + 16
		}
	}
}

// parseColor reads "#RRGGBB", ignoring anything it cannot parse.
func parseColor(hex string) drawing.Color {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return drawing.ColorBlack
	}
	return drawing.ColorFromHex(hex)
}

func opacity(o float64) float64 {
	if o <= 0 || o > 1 {
		return 1
	}
	return o
}

func width(w float64) float64 {
	if w <= 0 {
		return 1
	}
	return w
}
