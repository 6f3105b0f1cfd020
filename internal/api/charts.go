package api

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/lox/kasselweather/internal/charts"
	"github.com/lox/kasselweather/internal/models"
	"github.com/lox/kasselweather/internal/stats"
	"github.com/lox/kasselweather/internal/store"
)

type chartTab struct {
	Name  string
	Label string
}

var chartTabs = []chartTab{
	{charts.NameDashboard, "Dashboard"},
	{charts.NameTemperatureTrend, "Temperatur"},
	{charts.NamePrecipitation, "Niederschlag"},
	{charts.NameSeasonalComparison, "Jahreszeiten"},
	{charts.NameYearlyTrend, "Trends"},
}

func knownChart(name string) bool {
	for _, t := range chartTabs {
		if t.Name == name {
			return true
		}
	}
	return false
}

// compose builds the named chart for a session, with the year range in the
// title. The result is a charts.Figure or a charts.Dashboard.
func (s *Server) compose(name string, sess *store.Session) (any, error) {
	span := fmt.Sprintf("(%d-%d)", sess.StartYear, sess.EndYear)
	switch name {
	case charts.NameTemperatureTrend:
		return s.composer.TemperatureTrend(sess.Daily, "Temperaturverlauf Kassel "+span, "")
	case charts.NamePrecipitation:
		return s.composer.Precipitation(sess.Daily, "Niederschlag Kassel "+span, "")
	case charts.NameSeasonalComparison:
		return s.composer.SeasonalComparison(stats.PartitionBySeason(sess.Daily), models.ColTAvg,
			"Temperaturverteilung nach Jahreszeiten "+span, "")
	case charts.NameYearlyTrend:
		return s.composer.YearlyTrend(sess.Daily, models.ColTAvg, "Jährlicher Temperaturtrend "+span, "")
	case charts.NameDashboard:
		return s.composer.Dashboard(sess.Daily, sess.Monthly, "Wetterdashboard Kassel "+span, "")
	}
	return nil, fmt.Errorf("unknown chart %q", name)
}

// handleChartImage serves /charts/{name}.png for the visitor's session,
// rendering on demand and caching the PNG until the session reloads.
func (s *Server) handleChartImage(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(r.PathValue("file"), ".png")
	if !ok || !knownChart(name) {
		http.NotFound(w, r)
		return
	}
	if s.raster == nil {
		http.Error(w, "rendering disabled", http.StatusServiceUnavailable)
		return
	}

	sess, err := s.currentSession(r)
	if err != nil {
		log.Printf("api: load session: %v", err)
		http.Error(w, "could not load session", http.StatusInternalServerError)
		return
	}

	var chart any = charts.Figure{Name: name, Title: msgNoData, Width: charts.FigureWidth, Height: charts.FigureHeight}
	key := ""
	if sess != nil {
		key = sess.ID + "/" + name
		if data, ok := s.imageCache.Get(key); ok {
			servePNG(w, data)
			return
		}
		if chart, err = s.compose(name, sess); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	}

	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	var buf bytes.Buffer
	switch c := chart.(type) {
	case charts.Dashboard:
		err = s.raster.RenderDashboard(c, &buf)
	case charts.Figure:
		err = s.raster.RenderFigure(c, &buf)
	}
	if err != nil {
		log.Printf("api: render %s: %v", name, err)
		http.Error(w, "chart rendering failed", http.StatusInternalServerError)
		return
	}

	if key != "" {
		s.imageCache.Set(key, buf.Bytes())
	}
	servePNG(w, buf.Bytes())
}

func servePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}
