package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lox/kasselweather/internal/api"
	"github.com/lox/kasselweather/internal/charts"
	"github.com/lox/kasselweather/internal/models"
	"github.com/lox/kasselweather/internal/stations"
	"github.com/lox/kasselweather/internal/stats"
	"github.com/lox/kasselweather/internal/store"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s
}

func val(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: true}
}

type fakeResolver struct {
	res       stations.Resolution
	refreshed atomic.Int32
}

func (f *fakeResolver) Resolve(ctx context.Context) stations.Resolution { return f.res }

func (f *fakeResolver) Refresh(ctx context.Context) stations.Resolution {
	f.refreshed.Add(1)
	return f.res
}

type fakeFetcher struct {
	mu        sync.Mutex
	empty     bool
	stationID string
	start     time.Time
	end       time.Time
}

func (f *fakeFetcher) FetchDaily(ctx context.Context, start, end time.Time, stationID string) models.Table {
	f.mu.Lock()
	f.stationID, f.start, f.end = stationID, start, end
	f.mu.Unlock()
	if f.empty {
		return models.EmptyTable(models.Daily)
	}
	tbl := models.Table{Granularity: models.Daily, Columns: models.AllColumns}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		tbl.Rows = append(tbl.Rows, models.Observation{
			Date: d, TAvg: val(10), TMin: val(4), TMax: val(16), Prcp: val(1), Wspd: val(12),
		})
	}
	return tbl
}

func (f *fakeFetcher) FetchMonthly(ctx context.Context, start, end time.Time, stationID string) models.Table {
	if f.empty {
		return models.EmptyTable(models.Monthly)
	}
	tbl := models.Table{Granularity: models.Monthly, Columns: models.MonthlyColumns}
	for d := start; !d.After(end); d = d.AddDate(0, 1, 0) {
		tbl.Rows = append(tbl.Rows, models.Observation{Date: d, TAvg: val(10), Prcp: val(30)})
	}
	return tbl
}

type fakeRaster struct {
	mu         sync.Mutex
	figures    []charts.Figure
	dashboards int
}

func (f *fakeRaster) RenderFigure(fig charts.Figure, w io.Writer) error {
	f.mu.Lock()
	f.figures = append(f.figures, fig)
	f.mu.Unlock()
	_, err := w.Write([]byte("\x89PNG figure"))
	return err
}

func (f *fakeRaster) RenderDashboard(d charts.Dashboard, w io.Writer) error {
	f.mu.Lock()
	f.dashboards++
	f.mu.Unlock()
	_, err := w.Write([]byte("\x89PNG dashboard"))
	return err
}

type fakeExporter struct {
	err   error
	calls int
}

func (f *fakeExporter) Export(ctx context.Context, daily, monthly models.Table) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []string{"wetterdashboard_kassel.png", "temperaturverlauf_kassel.png"}, nil
}

type fakeNarrator struct{}

func (fakeNarrator) Summarize(ctx context.Context, s stats.Summary, startYear, endYear int) (string, error) {
	return "Ein milder Zeitraum.", nil
}

var nearby = stations.Resolution{Stations: []models.Station{
	{ID: "10438", Name: "Kassel-Calden", Distance: val(12.34)},
	{ID: "10439", Name: "Fritzlar", Distance: val(25)},
}}

type harness struct {
	srv      *api.Server
	handler  http.Handler
	resolver *fakeResolver
	fetcher  *fakeFetcher
	raster   *fakeRaster
	exporter *fakeExporter
}

func newHarness(t *testing.T, res stations.Resolution) *harness {
	t.Helper()
	h := &harness{
		resolver: &fakeResolver{res: res},
		fetcher:  &fakeFetcher{},
		raster:   &fakeRaster{},
		exporter: &fakeExporter{},
	}
	h.srv = api.NewServer(api.Options{
		Store:      setupTestStore(t),
		Stations:   h.resolver,
		Fetcher:    h.fetcher,
		Rasterizer: h.raster,
		Exporter:   h.exporter,
		Narrator:   fakeNarrator{},
	}, "8080")
	h.handler = h.srv.Handler()
	return h
}

func (h *harness) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

// load posts a load request and returns the session cookie.
func (h *harness) load(t *testing.T, body string) *http.Cookie {
	t.Helper()
	w := h.do("POST", "/api/load", body)
	if w.Code != http.StatusOK {
		t.Fatalf("load: status %d: %s", w.Code, w.Body.String())
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == "kasselweather_session" {
			return c
		}
	}
	t.Fatal("load did not set a session cookie")
	return nil
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nearby)

	w := h.do("GET", "/health", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestIndexPage_NoData(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nearby)

	w := h.do("GET", "/", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		"Wetteranalyse Kassel und Landkreis",
		"Keine Daten geladen",
		`<option value="1980">`,
		`<option value="2000" selected>`,
		`data-chart="dashboard"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("index missing %q", want)
		}
	}

	if w := h.do("GET", "/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d", w.Code)
	}
}

func TestStations(t *testing.T) {
	t.Parallel()

	t.Run("nearby", func(t *testing.T) {
		h := newHarness(t, nearby)
		var resp struct {
			Options     []struct{ Value, Label string }
			Default     string
			Fallback    bool
			Placeholder string
		}
		decode(t, h.do("GET", "/api/stations", ""), &resp)
		if resp.Default != "10438" || resp.Fallback {
			t.Errorf("resp = %+v", resp)
		}
		if len(resp.Options) != 2 || resp.Options[0].Label != "Kassel-Calden (10438) - 12.3 km" {
			t.Errorf("options = %+v", resp.Options)
		}
		if resp.Placeholder != "Wetterstation auswählen" {
			t.Errorf("placeholder = %q", resp.Placeholder)
		}
	})

	t.Run("fallback", func(t *testing.T) {
		h := newHarness(t, stations.Resolution{
			Stations: stations.Fallback(),
			Fallback: true,
			Warning:  "no stations found near the target",
		})
		var resp struct {
			Options     []struct{ Value, Label string }
			Default     string
			Fallback    bool
			Placeholder string
		}
		decode(t, h.do("GET", "/api/stations", ""), &resp)
		if !resp.Fallback || resp.Default != "10438" || len(resp.Options) != 3 {
			t.Fatalf("resp = %+v", resp)
		}
		if resp.Options[0].Label != "Kassel-Calden (10438) - Fallback" {
			t.Errorf("label = %q", resp.Options[0].Label)
		}
		if !strings.HasPrefix(resp.Placeholder, "Fallback-Station auswählen") {
			t.Errorf("placeholder = %q", resp.Placeholder)
		}
	})

	t.Run("refresh", func(t *testing.T) {
		h := newHarness(t, nearby)
		var resp struct {
			Options []struct{ Value, Label string }
			Default string
		}
		decode(t, h.do("POST", "/api/stations/refresh", ""), &resp)
		if resp.Default != "10438" || len(resp.Options) != 2 {
			t.Errorf("resp = %+v", resp)
		}
		if n := h.resolver.refreshed.Load(); n != 1 {
			t.Errorf("refresh calls = %d, want 1", n)
		}
	})
}

func TestLoad_Validation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nearby)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"missing years", `{}`},
		{"end before start", `{"startYear":2020,"endYear":2019}`},
		{"future end", `{"startYear":2020,"endYear":3000}`},
		{"bad station", `{"startYear":2020,"endYear":2021,"stationId":"../etc"}`},
		{"before 1980", `{"startYear":1979,"endYear":2000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do("POST", "/api/load", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestLoad_SummaryAndCharts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nearby)

	cookie := h.load(t, `{"startYear":2020,"endYear":2021}`)
	if h.fetcher.stationID != "10438" {
		t.Errorf("defaulted to station %q, want nearest", h.fetcher.stationID)
	}
	if !h.fetcher.start.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) ||
		!h.fetcher.end.Equal(time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("range = %s..%s", h.fetcher.start, h.fetcher.end)
	}

	var summary struct {
		StartYear int
		EndYear   int
		StationID string
		Summary   stats.Summary
	}
	decode(t, h.do("GET", "/api/summary", "", cookie), &summary)
	if summary.StartYear != 2020 || summary.StationID != "10438" {
		t.Errorf("summary = %+v", summary)
	}
	if summary.Summary.Temperature == nil || summary.Summary.Temperature.Mean != 10 {
		t.Errorf("temperature = %+v", summary.Summary.Temperature)
	}

	var fig charts.Figure
	w := h.do("GET", "/api/charts/temperature", "", cookie)
	if w.Code != 200 {
		t.Fatalf("chart status %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &fig)
	if fig.Title != "Temperaturverlauf Kassel (2020-2021)" || len(fig.Traces) != 3 {
		t.Errorf("figure = %q with %d traces", fig.Title, len(fig.Traces))
	}

	var dash charts.Dashboard
	decode(t, h.do("GET", "/api/charts/dashboard", "", cookie), &dash)
	if len(dash.Cells) != 4 {
		t.Errorf("dashboard cells = %d", len(dash.Cells))
	}

	if w := h.do("GET", "/api/charts/bogus", "", cookie); w.Code != http.StatusNotFound {
		t.Errorf("unknown chart status = %d", w.Code)
	}
}

func TestChartImage_Cached(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nearby)
	cookie := h.load(t, `{"startYear":2020,"endYear":2021,"stationId":"10439"}`)

	for i := 0; i < 2; i++ {
		w := h.do("GET", "/charts/dashboard.png", "", cookie)
		if w.Code != 200 || w.Header().Get("Content-Type") != "image/png" {
			t.Fatalf("status %d, type %q", w.Code, w.Header().Get("Content-Type"))
		}
	}
	if h.raster.dashboards != 1 {
		t.Errorf("dashboard rendered %d times, want 1", h.raster.dashboards)
	}

	// Reloading drops the cached images.
	req := httptest.NewRequest("POST", "/api/load", strings.NewReader(`{"startYear":2021,"endYear":2021}`))
	req.AddCookie(cookie)
	h.handler.ServeHTTP(httptest.NewRecorder(), req)
	h.do("GET", "/charts/dashboard.png", "", cookie)
	if h.raster.dashboards != 2 {
		t.Errorf("dashboard rendered %d times after reload, want 2", h.raster.dashboards)
	}

	if w := h.do("GET", "/charts/dashboard.jpg", "", cookie); w.Code != http.StatusNotFound {
		t.Errorf("non-png status = %d", w.Code)
	}
}

func TestChartImage_NoSessionPlaceholder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nearby)

	w := h.do("GET", "/charts/temperature.png", "")
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if len(h.raster.figures) != 1 || h.raster.figures[0].Title != "Keine Daten geladen" || !h.raster.figures[0].Empty() {
		t.Errorf("figures = %+v", h.raster.figures)
	}
}

func TestLoad_EmptyData(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nearby)
	h.fetcher.empty = true

	w := h.do("POST", "/api/load", `{"startYear":2020,"endYear":2020}`)
	var resp struct {
		Empty     bool
		Message   string
		Narrative string
		Summary   stats.Summary
	}
	decode(t, w, &resp)
	if !resp.Empty || resp.Message != "Keine Daten verfügbar" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Narrative != "" || resp.Summary.HasTemperature() {
		t.Errorf("empty load produced narrative or stats: %+v", resp)
	}
}

func TestLoad_Narrative(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nearby)

	var resp struct{ Narrative string }
	decode(t, h.do("POST", "/api/load", `{"startYear":2020,"endYear":2020}`), &resp)
	if resp.Narrative != "Ein milder Zeitraum." {
		t.Errorf("narrative = %q", resp.Narrative)
	}
}

func TestNoSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nearby)

	for _, path := range []string{"/api/summary", "/api/charts/temperature"} {
		w := h.do("GET", path, "")
		if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "Keine Daten geladen") {
			t.Errorf("%s: %d %s", path, w.Code, w.Body.String())
		}
	}

	// A forged cookie is treated as no session.
	w := h.do("GET", "/api/summary", "", &http.Cookie{Name: "kasselweather_session", Value: "not-a-uuid"})
	if w.Code != http.StatusNotFound {
		t.Errorf("forged cookie status = %d", w.Code)
	}
}

func TestExport(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nearby)

	w := h.do("POST", "/api/export", "")
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "Keine Daten zum Exportieren verfügbar") {
		t.Errorf("export without data: %d %s", w.Code, w.Body.String())
	}

	cookie := h.load(t, `{"startYear":2020,"endYear":2020}`)
	var resp struct {
		Files   []string
		Message string
	}
	decode(t, h.do("POST", "/api/export", "", cookie), &resp)
	if len(resp.Files) != 2 || resp.Files[0] != "wetterdashboard_kassel.png" {
		t.Errorf("files = %v", resp.Files)
	}

	h.exporter.err = errors.New("ftp down")
	w = h.do("POST", "/api/export", "", cookie)
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "Fehler beim Exportieren") {
		t.Errorf("failed export: %d %s", w.Code, w.Body.String())
	}
}

func TestExport_NotConfigured(t *testing.T) {
	t.Parallel()
	srv := api.NewServer(api.Options{
		Store:    setupTestStore(t),
		Stations: &fakeResolver{res: nearby},
		Fetcher:  &fakeFetcher{},
	}, "8080")

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/export", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}
}

func TestHealth_Degraded(t *testing.T) {
	t.Parallel()
	st := setupTestStore(t)
	if err := st.RecordFetchRun(store.FetchRun{
		StartedAt:    time.Now().UTC(),
		Source:       "meteostat",
		Endpoint:     "point/daily",
		Success:      false,
		ErrorMessage: sql.NullString{String: "HTTP 500", Valid: true},
	}); err != nil {
		t.Fatal(err)
	}
	srv := api.NewServer(api.Options{Store: st, Stations: &fakeResolver{res: nearby}, Fetcher: &fakeFetcher{}}, "8080")

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "HTTP 500") {
		t.Errorf("body = %s", w.Body.String())
	}
}
