package charts

import (
	"math"
	"strconv"

	"github.com/lox/kasselweather/internal/stats"
)

type TraceKind string

const (
	KindLine  TraceKind = "line"
	KindBand  TraceKind = "band"
	KindBar   TraceKind = "bar"
	KindBox   TraceKind = "box"
	KindPoint TraceKind = "markers"
)

type AxisType string

const (
	AxisDate     AxisType = "date"     // x values are "2006-01-02"
	AxisYear     AxisType = "year"     // x values are "2006"
	AxisCategory AxisType = "category" // x values name one of Axis.Categories
	AxisLinear   AxisType = "linear"
)

// DateLayout is the x value format on date axes.
const DateLayout = "2006-01-02"

// Values is a series of numbers where NaN marks a gap. Gaps encode as null.
type Values []float64

func (v Values) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	b := make([]byte, 0, 2+len(v)*8)
	b = append(b, '[')
	for i, f := range v {
		if i > 0 {
			b = append(b, ',')
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			b = append(b, "null"...)
			continue
		}
		b = strconv.AppendFloat(b, f, 'g', -1, 64)
	}
	return append(b, ']'), nil
}

type Axis struct {
	Title      string   `json:"title"`
	Type       AxisType `json:"type"`
	Categories []string `json:"categories,omitempty"`
	// ZeroBased pins the lower bound of a value axis to zero.
	ZeroBased bool `json:"zeroBased,omitempty"`
}

// Trace is one series. Band traces fill between Y (upper) and Y2 (lower);
// box traces carry a single x category and their summary in Box.
type Trace struct {
	Kind    TraceKind  `json:"kind"`
	Name    string     `json:"name"`
	Color   string     `json:"color"`
	Opacity float64    `json:"opacity,omitempty"`
	Width   float64    `json:"width,omitempty"`
	Dashed  bool       `json:"dashed,omitempty"`
	Markers bool       `json:"markers,omitempty"`
	X       []string   `json:"x"`
	Y       Values     `json:"y,omitempty"`
	Y2      Values     `json:"y2,omitempty"`
	Box     *stats.Box `json:"box,omitempty"`
}

type Annotation struct {
	X     string  `json:"x"`
	Y     float64 `json:"y"`
	Text  string  `json:"text"`
	Arrow bool    `json:"arrow,omitempty"`
}

// Figure is a renderer-agnostic chart description.
type Figure struct {
	Name        string       `json:"name"`
	Title       string       `json:"title"`
	XAxis       Axis         `json:"xaxis"`
	YAxis       Axis         `json:"yaxis"`
	Traces      []Trace      `json:"traces"`
	Annotations []Annotation `json:"annotations,omitempty"`
	ShowLegend  bool         `json:"showLegend"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
}

// Empty reports whether the figure has nothing to draw.
func (f Figure) Empty() bool {
	return len(f.Traces) == 0
}

// Dashboard is a grid of figures laid out row by row.
type Dashboard struct {
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	Rows       int      `json:"rows"`
	Cols       int      `json:"cols"`
	Cells      []Figure `json:"cells"`
	ShowLegend bool     `json:"showLegend"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
}
