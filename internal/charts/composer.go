package charts

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/lox/kasselweather/internal/metrics"
	"github.com/lox/kasselweather/internal/models"
	"github.com/lox/kasselweather/internal/stats"
)

// Chart names, used for routing and metrics.
const (
	NameTemperatureTrend   = "temperature"
	NamePrecipitation      = "precipitation"
	NameSeasonalComparison = "seasonal"
	NameYearlyTrend        = "yearly"
	NameDashboard          = "dashboard"
)

const (
	FigureWidth     = 1000
	FigureHeight    = 600
	DashboardWidth  = 1200
	DashboardHeight = 800

	dailyWindow   = 365
	monthlyWindow = 12
)

var ErrNoRasterizer = errors.New("charts: no rasterizer configured")

// MissingColumnError is returned when a chart needs a column the input lacks.
type MissingColumnError struct {
	Chart  string
	Column models.Column
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s chart needs column %q", e.Chart, e.Column)
}

// Rasterizer turns figures into images.
type Rasterizer interface {
	RenderFigure(fig Figure, w io.Writer) error
	RenderDashboard(d Dashboard, w io.Writer) error
}

// Composer builds chart specifications and, when given an output path,
// rasterizes them to a file.
type Composer struct {
	raster Rasterizer
}

func NewComposer(r Rasterizer) *Composer {
	return &Composer{raster: r}
}

// TemperatureTrend draws the daily min/max band, the daily mean and its
// 365-day centred rolling mean.
func (c *Composer) TemperatureTrend(tbl models.Table, title, outPath string) (Figure, error) {
	if err := require(NameTemperatureTrend, tbl.HasColumn, models.ColTAvg, models.ColTMin, models.ColTMax); err != nil {
		return Figure{}, err
	}
	if title == "" {
		title = "Temperaturverlauf Kassel"
	}

	fig := temperatureFigure(tbl, title, true)
	return fig, c.writeFigure(fig, outPath)
}

func temperatureFigure(tbl models.Table, title string, band bool) Figure {
	fig := Figure{
		Name:       NameTemperatureTrend,
		Title:      title,
		XAxis:      Axis{Title: "Datum", Type: AxisDate},
		YAxis:      Axis{Title: "Temperatur (°C)", Type: AxisLinear},
		ShowLegend: true,
		Width:      FigureWidth,
		Height:     FigureHeight,
	}
	if tbl.Empty() {
		return fig
	}

	x := dates(tbl.Rows)
	tavg := stats.Column(tbl, models.ColTAvg)
	if band {
		fig.Traces = append(fig.Traces, Trace{
			Kind:    KindBand,
			Name:    "Min/Max Temperatur",
			Color:   ColorTemp,
			Opacity: 0.1,
			X:       x,
			Y:       stats.Column(tbl, models.ColTMax),
			Y2:      stats.Column(tbl, models.ColTMin),
		})
	}
	fig.Traces = append(fig.Traces,
		Trace{Kind: KindLine, Name: "Durchschnittstemperatur", Color: ColorTemp, Width: 1, X: x, Y: tavg},
		Trace{Kind: KindLine, Name: "Gleitender Durchschnitt (365 Tage)", Color: ColorRolling, Width: 2, X: x, Y: stats.RollingMean(tavg, dailyWindow)},
	)
	return fig
}

// Precipitation draws monthly sums as bars with a 12-month centred rolling mean.
func (c *Composer) Precipitation(tbl models.Table, title, outPath string) (Figure, error) {
	if err := require(NamePrecipitation, tbl.HasColumn, models.ColPrcp); err != nil {
		return Figure{}, err
	}
	if title == "" {
		title = "Niederschlag Kassel"
	}

	fig := precipitationFigure(tbl, title)
	return fig, c.writeFigure(fig, outPath)
}

func precipitationFigure(tbl models.Table, title string) Figure {
	fig := Figure{
		Name:       NamePrecipitation,
		Title:      title,
		XAxis:      Axis{Title: "Datum", Type: AxisDate},
		YAxis:      Axis{Title: "Niederschlag (mm)", Type: AxisLinear, ZeroBased: true},
		ShowLegend: true,
		Width:      FigureWidth,
		Height:     FigureHeight,
	}

	sums := stats.MonthlySums(tbl, models.ColPrcp)
	if len(sums) == 0 {
		return fig
	}
	x := make([]string, len(sums))
	y := make([]float64, len(sums))
	for i, mv := range sums {
		x[i] = mv.Month.Format(DateLayout)
		y[i] = mv.Value
	}
	fig.Traces = []Trace{
		{Kind: KindBar, Name: "Monatlicher Niederschlag", Color: ColorPrcp, X: x, Y: y},
		{Kind: KindLine, Name: "Gleitender Durchschnitt (12 Monate)", Color: ColorRolling, Width: 2, X: x, Y: stats.RollingMean(y, monthlyWindow)},
	}
	return fig
}

// SeasonalComparison draws one box per season, always in the order spring,
// summer, autumn, winter, each annotated with its mean above the tallest value.
func (c *Composer) SeasonalComparison(p stats.Partition, variable models.Column, title, outPath string) (Figure, error) {
	if err := require(NameSeasonalComparison, p.HasColumn, variable); err != nil {
		return Figure{}, err
	}
	if title == "" {
		title = fmt.Sprintf("Saisonale Verteilung: %s in Kassel", VariableTitle(variable))
	}

	fig := seasonalFigure(p, variable, title)
	return fig, c.writeFigure(fig, outPath)
}

func seasonalFigure(p stats.Partition, variable models.Column, title string) Figure {
	fig := Figure{
		Name:       NameSeasonalComparison,
		Title:      title,
		XAxis:      Axis{Title: "Jahreszeit", Type: AxisCategory, Categories: seasonCategories()},
		YAxis:      Axis{Title: VariableLabel(variable), Type: AxisLinear},
		ShowLegend: true,
		Width:      FigureWidth,
		Height:     FigureHeight,
	}

	top := math.Inf(-1)
	var means []Annotation
	for _, s := range stats.Seasons {
		box, err := stats.BoxStats(p.Values(s, variable))
		if err != nil {
			continue
		}
		label := SeasonLabel(s)
		fig.Traces = append(fig.Traces, Trace{
			Kind:  KindBox,
			Name:  label,
			Color: seasonColors[s],
			X:     []string{label},
			Box:   &box,
		})
		means = append(means, Annotation{X: label, Text: fmt.Sprintf("Ø %.1f", box.Mean)})
		top = math.Max(top, box.Max)
	}
	for i := range means {
		means[i].Y = top * 1.1
	}
	fig.Annotations = means
	return fig
}

// YearlyTrend draws yearly means with an ordinary least squares line fitted
// against year position, annotated with the slope.
func (c *Composer) YearlyTrend(tbl models.Table, variable models.Column, title, outPath string) (Figure, error) {
	if err := require(NameYearlyTrend, tbl.HasColumn, variable); err != nil {
		return Figure{}, err
	}
	if title == "" {
		title = fmt.Sprintf("Jährlicher Trend: %s in Kassel", VariableTitle(variable))
	}

	fig := yearlyFigure(tbl, variable, title, "Jährlicher Mittelwert")
	return fig, c.writeFigure(fig, outPath)
}

func yearlyFigure(tbl models.Table, variable models.Column, title, seriesName string) Figure {
	fig := Figure{
		Name:       NameYearlyTrend,
		Title:      title,
		XAxis:      Axis{Title: "Jahr", Type: AxisYear},
		YAxis:      Axis{Title: VariableLabel(variable), Type: AxisLinear},
		ShowLegend: true,
		Width:      FigureWidth,
		Height:     FigureHeight,
	}

	yearly := stats.YearlyAverage(tbl, variable)
	if len(yearly) == 0 {
		return fig
	}
	x := make([]string, len(yearly))
	y := make([]float64, len(yearly))
	for i, yv := range yearly {
		x[i] = strconv.Itoa(yv.Year)
		y[i] = yv.Value
	}
	fit, err := stats.LinearFit(y)
	if err != nil {
		return fig
	}
	trend := make([]float64, len(y))
	for i := range trend {
		trend[i] = fit.At(float64(i))
	}

	fig.Traces = []Trace{
		{Kind: KindLine, Name: seriesName, Color: variableColor(variable), Width: 2, Markers: true, X: x, Y: y},
		{Kind: KindLine, Name: "Trend", Color: ColorRolling, Width: 2, Dashed: true, X: x, Y: trend},
	}
	last := len(y) - 1
	fig.Annotations = []Annotation{{
		X:     x[last],
		Y:     trend[last],
		Text:  SlopeLabel(fit.Slope),
		Arrow: true,
	}}
	return fig
}

// SlopeLabel formats a per-year slope rounded to three decimals.
func SlopeLabel(slope float64) string {
	rounded := math.Round(slope*1000) / 1000
	if rounded == 0 {
		rounded = 0 // drop negative zero
	}
	return fmt.Sprintf("Trend: %.3f pro Jahr", rounded)
}

// Dashboard assembles four views in a 2x2 grid: temperature without the band,
// monthly precipitation, seasonal average temperature and its yearly trend.
func (c *Composer) Dashboard(daily, monthly models.Table, title, outPath string) (Dashboard, error) {
	if err := require(NameDashboard, daily.HasColumn, models.ColTAvg); err != nil {
		return Dashboard{}, err
	}
	if title == "" {
		title = "Wetterdashboard Kassel"
	}

	temp := temperatureFigure(daily, "Temperaturverlauf", false)

	prcp := Figure{
		Name:   NamePrecipitation,
		Title:  "Niederschlag",
		XAxis:  Axis{Title: "Datum", Type: AxisDate},
		YAxis:  Axis{Title: "Niederschlag (mm)", Type: AxisLinear, ZeroBased: true},
		Width:  FigureWidth,
		Height: FigureHeight,
	}
	if monthly.HasColumn(models.ColPrcp) {
		prcp = precipitationFigure(monthly, "Niederschlag")
	}

	seasonal := seasonalFigure(stats.PartitionBySeason(daily), models.ColTAvg, "Temperatur nach Jahreszeit")
	seasonal.YAxis.Title = "Temperatur (°C)"

	yearly := yearlyFigure(daily, models.ColTAvg, "Jährlicher Temperaturtrend", "Jährliche Durchschnittstemperatur")
	yearly.YAxis.Title = "Temperatur (°C)"
	yearly.Annotations = nil

	cells := []Figure{temp, prcp, seasonal, yearly}
	for i := range cells {
		cells[i].ShowLegend = false
		cells[i].Width = DashboardWidth / 2
		cells[i].Height = DashboardHeight / 2
	}

	d := Dashboard{
		Name:   NameDashboard,
		Title:  title,
		Rows:   2,
		Cols:   2,
		Cells:  cells,
		Width:  DashboardWidth,
		Height: DashboardHeight,
	}
	if outPath == "" {
		return d, nil
	}
	return d, c.write(NameDashboard, outPath, func(w io.Writer) error {
		return c.raster.RenderDashboard(d, w)
	})
}

func (c *Composer) writeFigure(fig Figure, outPath string) error {
	if outPath == "" {
		return nil
	}
	return c.write(fig.Name, outPath, func(w io.Writer) error {
		return c.raster.RenderFigure(fig, w)
	})
}

func (c *Composer) write(name, outPath string, render func(io.Writer) error) error {
	if c.raster == nil {
		return ErrNoRasterizer
	}

	start := time.Now()
	f, err := os.Create(outPath)
	if err != nil {
		metrics.ChartsRendered.WithLabelValues(name, "error").Inc()
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	if err := render(f); err != nil {
		f.Close()
		os.Remove(outPath)
		metrics.ChartsRendered.WithLabelValues(name, "error").Inc()
		return fmt.Errorf("rasterize %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		metrics.ChartsRendered.WithLabelValues(name, "error").Inc()
		return fmt.Errorf("close %s: %w", outPath, err)
	}

	metrics.ChartsRendered.WithLabelValues(name, "success").Inc()
	metrics.ChartRenderLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	log.Printf("charts: wrote %s to %s", name, outPath)
	return nil
}

func require(chart string, has func(models.Column) bool, cols ...models.Column) error {
	for _, c := range cols {
		if !has(c) {
			return &MissingColumnError{Chart: chart, Column: c}
		}
	}
	return nil
}

func dates(rows []models.Observation) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Date.Format(DateLayout)
	}
	return out
}
