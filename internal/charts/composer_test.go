package charts

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lox/kasselweather/internal/models"
	"github.com/lox/kasselweather/internal/stats"
)

func val(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: true}
}

// dailyTable covers three full years with a seasonal temperature cycle and
// rain on every third day.
func dailyTable() models.Table {
	start := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	tbl := models.Table{Granularity: models.Daily, Columns: models.AllColumns}
	for i := 0; i < 3*365; i++ {
		avg := 9 + 9*math.Sin(2*math.Pi*float64(i-100)/365)
		o := models.Observation{
			Date: start.AddDate(0, 0, i),
			TAvg: val(avg),
			TMin: val(avg - 4),
			TMax: val(avg + 5),
		}
		if i%3 == 0 {
			o.Prcp = val(2)
		} else {
			o.Prcp = val(0)
		}
		tbl.Rows = append(tbl.Rows, o)
	}
	return tbl
}

type fakeRaster struct {
	figures    []Figure
	dashboards []Dashboard
	err        error
}

func (f *fakeRaster) RenderFigure(fig Figure, w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	f.figures = append(f.figures, fig)
	_, err := w.Write([]byte("png"))
	return err
}

func (f *fakeRaster) RenderDashboard(d Dashboard, w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	f.dashboards = append(f.dashboards, d)
	_, err := w.Write([]byte("png"))
	return err
}

func TestTemperatureTrend(t *testing.T) {
	c := NewComposer(nil)
	fig, err := c.TemperatureTrend(dailyTable(), "", "")
	if err != nil {
		t.Fatalf("TemperatureTrend: %v", err)
	}
	if fig.Title != "Temperaturverlauf Kassel" {
		t.Errorf("title = %q", fig.Title)
	}
	if len(fig.Traces) != 3 {
		t.Fatalf("traces = %d, want 3", len(fig.Traces))
	}
	band, avg, rolling := fig.Traces[0], fig.Traces[1], fig.Traces[2]
	if band.Kind != KindBand || len(band.Y) != len(band.Y2) {
		t.Errorf("band = %+v", band.Kind)
	}
	if avg.Color != ColorTemp {
		t.Errorf("avg colour = %s", avg.Color)
	}
	if !math.IsNaN(rolling.Y[0]) || !math.IsNaN(rolling.Y[len(rolling.Y)-1]) {
		t.Error("rolling mean should be undefined at the edges")
	}
	if math.IsNaN(rolling.Y[500]) {
		t.Error("rolling mean should be defined in the middle")
	}
}

func TestTemperatureTrend_MissingColumn(t *testing.T) {
	tbl := dailyTable()
	tbl.Columns = []models.Column{models.ColTAvg, models.ColTMax}

	_, err := NewComposer(nil).TemperatureTrend(tbl, "", "")
	var mce *MissingColumnError
	if !errors.As(err, &mce) {
		t.Fatalf("err = %v, want MissingColumnError", err)
	}
	if mce.Column != models.ColTMin {
		t.Errorf("column = %s, want tmin", mce.Column)
	}
}

func TestPrecipitation(t *testing.T) {
	fig, err := NewComposer(nil).Precipitation(dailyTable(), "Regen", "")
	if err != nil {
		t.Fatalf("Precipitation: %v", err)
	}
	if fig.Title != "Regen" {
		t.Errorf("title = %q", fig.Title)
	}
	bars := fig.Traces[0]
	if bars.Kind != KindBar || len(bars.X) != 36 {
		t.Fatalf("bars = %s with %d months, want 36", bars.Kind, len(bars.X))
	}
	if bars.X[0] != "2018-01-01" {
		t.Errorf("first month = %s", bars.X[0])
	}
	// January 2018: days 0,3,...,30 are rainy.
	if bars.Y[0] != 22 {
		t.Errorf("January sum = %v, want 22", bars.Y[0])
	}
	if !fig.YAxis.ZeroBased {
		t.Error("precipitation axis should start at zero")
	}

	tbl := dailyTable()
	tbl.Columns = []models.Column{models.ColTAvg}
	if _, err := NewComposer(nil).Precipitation(tbl, "", ""); err == nil {
		t.Error("expected missing column error")
	}
}

func TestSeasonalComparison_OrderAndAnnotations(t *testing.T) {
	p := stats.PartitionBySeason(dailyTable())

	fig, err := NewComposer(nil).SeasonalComparison(p, models.ColTAvg, "", "")
	if err != nil {
		t.Fatalf("SeasonalComparison: %v", err)
	}
	want := []string{"Frühling", "Sommer", "Herbst", "Winter"}
	if len(fig.Traces) != 4 {
		t.Fatalf("traces = %d, want 4", len(fig.Traces))
	}
	top := math.Inf(-1)
	for i, tr := range fig.Traces {
		if tr.Name != want[i] {
			t.Errorf("trace %d = %s, want %s", i, tr.Name, want[i])
		}
		if tr.Box == nil {
			t.Fatalf("trace %d has no box", i)
		}
		top = math.Max(top, tr.Box.Max)
	}
	if len(fig.Annotations) != 4 {
		t.Fatalf("annotations = %d, want 4", len(fig.Annotations))
	}
	for _, a := range fig.Annotations {
		if math.Abs(a.Y-top*1.1) > 1e-9 {
			t.Errorf("annotation %s at %v, want %v", a.X, a.Y, top*1.1)
		}
		if !strings.HasPrefix(a.Text, "Ø ") {
			t.Errorf("annotation text = %q", a.Text)
		}
	}
	if !strings.Contains(fig.Title, "Durchschnittstemperatur") {
		t.Errorf("title = %q", fig.Title)
	}
	if fig.YAxis.Title != "Durchschnittstemperatur (°C)" {
		t.Errorf("y axis = %q", fig.YAxis.Title)
	}
}

func TestSeasonalComparison_MissingVariable(t *testing.T) {
	p := stats.PartitionBySeason(models.Table{Columns: []models.Column{models.ColTAvg}})
	_, err := NewComposer(nil).SeasonalComparison(p, models.ColWspd, "", "")
	var mce *MissingColumnError
	if !errors.As(err, &mce) || mce.Column != models.ColWspd {
		t.Errorf("err = %v", err)
	}
}

func TestYearlyTrend_Slope(t *testing.T) {
	tbl := models.Table{Granularity: models.Daily, Columns: []models.Column{models.ColTAvg}}
	for i := 0; i < 10; i++ {
		tbl.Rows = append(tbl.Rows, models.Observation{
			Date: time.Date(2000+i, 6, 1, 0, 0, 0, 0, time.UTC),
			TAvg: val(10 + 0.5*float64(i)),
		})
	}

	fig, err := NewComposer(nil).YearlyTrend(tbl, models.ColTAvg, "", "")
	if err != nil {
		t.Fatalf("YearlyTrend: %v", err)
	}
	if len(fig.Traces) != 2 {
		t.Fatalf("traces = %d, want 2", len(fig.Traces))
	}
	trend := fig.Traces[1]
	if !trend.Dashed {
		t.Error("trend line should be dashed")
	}
	if math.Abs(trend.Y[9]-14.5) > 1e-6 {
		t.Errorf("trend end = %v, want 14.5", trend.Y[9])
	}
	if len(fig.Annotations) != 1 {
		t.Fatalf("annotations = %d", len(fig.Annotations))
	}
	a := fig.Annotations[0]
	if a.X != "2009" || a.Text != "Trend: 0.500 pro Jahr" || !a.Arrow {
		t.Errorf("annotation = %+v", a)
	}
}

func TestSlopeLabel(t *testing.T) {
	tests := []struct {
		slope float64
		want  string
	}{
		{0.12345, "Trend: 0.123 pro Jahr"},
		{-0.0456, "Trend: -0.046 pro Jahr"},
		{-0.0001, "Trend: 0.000 pro Jahr"},
	}
	for _, tt := range tests {
		if got := SlopeLabel(tt.slope); got != tt.want {
			t.Errorf("SlopeLabel(%v) = %q, want %q", tt.slope, got, tt.want)
		}
	}
}

func TestDashboard(t *testing.T) {
	daily := dailyTable()
	monthly := models.Table{Granularity: models.Monthly, Columns: []models.Column{models.ColPrcp}}
	for i := 0; i < 36; i++ {
		monthly.Rows = append(monthly.Rows, models.Observation{
			Date: time.Date(2018, time.Month(1+i%12), 1, 0, 0, 0, 0, time.UTC).AddDate(i/12, 0, 0),
			Prcp: val(60),
		})
	}

	d, err := NewComposer(nil).Dashboard(daily, monthly, "", "")
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if d.Rows != 2 || d.Cols != 2 || len(d.Cells) != 4 {
		t.Fatalf("layout = %dx%d with %d cells", d.Rows, d.Cols, len(d.Cells))
	}
	if d.ShowLegend {
		t.Error("dashboard should not show a legend")
	}
	titles := []string{"Temperaturverlauf", "Niederschlag", "Temperatur nach Jahreszeit", "Jährlicher Temperaturtrend"}
	xTitles := []string{"Datum", "Datum", "Jahreszeit", "Jahr"}
	for i, cell := range d.Cells {
		if cell.Title != titles[i] {
			t.Errorf("cell %d title = %q, want %q", i, cell.Title, titles[i])
		}
		if cell.XAxis.Title != xTitles[i] {
			t.Errorf("cell %d x axis = %q, want %q", i, cell.XAxis.Title, xTitles[i])
		}
		if cell.ShowLegend {
			t.Errorf("cell %d shows a legend", i)
		}
	}
	for _, tr := range d.Cells[0].Traces {
		if tr.Kind == KindBand {
			t.Error("dashboard temperature cell should not have a band")
		}
	}
	if len(d.Cells[1].Traces) != 2 {
		t.Errorf("precipitation cell traces = %d, want 2", len(d.Cells[1].Traces))
	}
}

func TestDashboard_NoMonthlyPrecipitation(t *testing.T) {
	d, err := NewComposer(nil).Dashboard(dailyTable(), models.EmptyTable(models.Monthly), "", "")
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if !d.Cells[1].Empty() {
		t.Error("precipitation cell should be empty")
	}
}

func TestComposer_WritesFile(t *testing.T) {
	raster := &fakeRaster{}
	c := NewComposer(raster)
	out := filepath.Join(t.TempDir(), "temp.png")

	if _, err := c.TemperatureTrend(dailyTable(), "", out); err != nil {
		t.Fatalf("TemperatureTrend: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "png" || len(raster.figures) != 1 {
		t.Errorf("data = %q, figures = %d", data, len(raster.figures))
	}

	dashOut := filepath.Join(t.TempDir(), "dash.png")
	if _, err := c.Dashboard(dailyTable(), models.EmptyTable(models.Monthly), "", dashOut); err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if len(raster.dashboards) != 1 {
		t.Errorf("dashboards rendered = %d", len(raster.dashboards))
	}
}

func TestComposer_RasterErrorPropagates(t *testing.T) {
	boom := errors.New("renderer exploded")
	c := NewComposer(&fakeRaster{err: boom})
	out := filepath.Join(t.TempDir(), "x.png")

	_, err := c.Precipitation(dailyTable(), "", out)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped renderer error", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("failed render left a file behind")
	}

	if _, err := NewComposer(nil).Precipitation(dailyTable(), "", out); !errors.Is(err, ErrNoRasterizer) {
		t.Errorf("err = %v, want ErrNoRasterizer", err)
	}
}

func TestValuesMarshalNaN(t *testing.T) {
	b, err := json.Marshal(Values{1, math.NaN(), 2.5})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "[1,null,2.5]" {
		t.Errorf("got %s", b)
	}

	fig, _ := NewComposer(nil).TemperatureTrend(dailyTable(), "", "")
	if _, err := json.Marshal(fig); err != nil {
		t.Errorf("figure with gaps does not marshal: %v", err)
	}
}
