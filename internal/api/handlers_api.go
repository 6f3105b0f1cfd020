package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lox/kasselweather/internal/charts"
	"github.com/lox/kasselweather/internal/stations"
	"github.com/lox/kasselweather/internal/stats"
	"github.com/lox/kasselweather/internal/store"
)

const (
	msgNoData       = "Keine Daten geladen"
	msgNoDataRange  = "Keine Daten verfügbar"
	msgNoExportData = "Keine Daten zum Exportieren verfügbar"
	minYear         = 1980
)

type stationOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type stationsResponse struct {
	Options     []stationOption `json:"options"`
	Default     string          `json:"default,omitempty"`
	Placeholder string          `json:"placeholder"`
	Fallback    bool            `json:"fallback"`
	Warning     string          `json:"warning,omitempty"`
}

func (s *Server) handleAPIStations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stationOptions(s.stations.Resolve(r.Context())))
}

// handleAPIStationsRefresh re-queries the station directory on request.
func (s *Server) handleAPIStationsRefresh(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stationOptions(s.stations.Refresh(r.Context())))
}

func stationOptions(res stations.Resolution) stationsResponse {
	resp := stationsResponse{
		Options:     make([]stationOption, 0, len(res.Stations)),
		Placeholder: "Wetterstation auswählen",
		Fallback:    res.Fallback,
		Warning:     res.Warning,
	}
	if res.Fallback {
		resp.Placeholder = fmt.Sprintf("Fallback-Station auswählen (%s)", res.Warning)
	}
	for _, st := range res.Stations {
		label := fmt.Sprintf("%s (%s) - Fallback", st.Name, st.ID)
		if st.Distance.Valid {
			label = fmt.Sprintf("%s (%s) - %.1f km", st.Name, st.ID, st.Distance.Float64)
		}
		resp.Options = append(resp.Options, stationOption{Value: st.ID, Label: label})
	}
	if len(resp.Options) > 0 {
		resp.Default = resp.Options[0].Value
	}
	return resp
}

type loadRequest struct {
	StartYear int    `json:"startYear" validate:"required,gte=1980"`
	EndYear   int    `json:"endYear" validate:"required,gtefield=StartYear"`
	StationID string `json:"stationId" validate:"omitempty,alphanum,max=10"`
}

type loadResponse struct {
	StartYear   int           `json:"startYear"`
	EndYear     int           `json:"endYear"`
	StationID   string        `json:"stationId,omitempty"`
	Fallback    bool          `json:"fallback"`
	DailyRows   int           `json:"dailyRows"`
	MonthlyRows int           `json:"monthlyRows"`
	Empty       bool          `json:"empty"`
	Message     string        `json:"message,omitempty"`
	Summary     stats.Summary `json:"summary"`
	Narrative   string        `json:"narrative,omitempty"`
}

func (s *Server) handleAPILoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if req.EndYear > s.now().Year() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("endYear must not be after %d", s.now().Year()))
		return
	}

	ctx := r.Context()
	id := s.sessionID(w, r)

	res := s.stations.Resolve(ctx)
	stationID := req.StationID
	if stationID == "" && len(res.Stations) > 0 {
		stationID = res.Stations[0].ID
	}

	start := time.Date(req.StartYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(req.EndYear, time.December, 31, 0, 0, 0, 0, time.UTC)
	daily := s.fetcher.FetchDaily(ctx, start, end, stationID)
	monthly := s.fetcher.FetchMonthly(ctx, start, end, stationID)

	sess := store.Session{
		ID:              id,
		StartYear:       req.StartYear,
		EndYear:         req.EndYear,
		StationID:       sql.NullString{String: stationID, Valid: stationID != ""},
		StationFallback: res.Fallback,
		Daily:           daily,
		Monthly:         monthly,
		UpdatedAt:       s.now().UTC(),
	}
	if err := s.store.SaveSession(sess); err != nil {
		log.Printf("api: save session: %v", err)
		writeError(w, http.StatusInternalServerError, "could not save session")
		return
	}
	s.imageCache.Invalidate(id + "/")

	resp := loadResponse{
		StartYear:   req.StartYear,
		EndYear:     req.EndYear,
		StationID:   stationID,
		Fallback:    res.Fallback,
		DailyRows:   len(daily.Rows),
		MonthlyRows: len(monthly.Rows),
		Empty:       daily.Empty() || monthly.Empty(),
		Summary:     stats.Compute(daily),
	}
	if resp.Empty {
		resp.Message = msgNoDataRange
	} else if s.narrator != nil {
		nctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		text, err := s.narrator.Summarize(nctx, resp.Summary, req.StartYear, req.EndYear)
		cancel()
		if err != nil {
			log.Printf("api: narrative: %v", err)
		} else {
			resp.Narrative = text
		}
	}

	log.Printf("api: session %s loaded %d daily / %d monthly rows for %s (%d-%d)",
		id, resp.DailyRows, resp.MonthlyRows, stationID, req.StartYear, req.EndYear)
	writeJSON(w, http.StatusOK, resp)
}

type summaryResponse struct {
	StartYear int           `json:"startYear"`
	EndYear   int           `json:"endYear"`
	StationID string        `json:"stationId,omitempty"`
	Fallback  bool          `json:"fallback"`
	Summary   stats.Summary `json:"summary"`
}

func (s *Server) handleAPISummary(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r, msgNoData)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		StartYear: sess.StartYear,
		EndYear:   sess.EndYear,
		StationID: sess.StationID.String,
		Fallback:  sess.StationFallback,
		Summary:   stats.Compute(sess.Daily),
	})
}

func (s *Server) handleAPIChart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !knownChart(name) {
		writeError(w, http.StatusNotFound, "unknown chart")
		return
	}
	sess, ok := s.requireSession(w, r, msgNoData)
	if !ok {
		return
	}

	chart, err := s.compose(name, sess)
	var missing *charts.MissingColumnError
	switch {
	case errors.As(err, &missing):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chart)
}

type exportResponse struct {
	Files   []string `json:"files"`
	Message string   `json:"message"`
}

func (s *Server) handleAPIExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "Export ist nicht konfiguriert")
		return
	}
	sess, ok := s.requireSession(w, r, msgNoExportData)
	if !ok {
		return
	}

	files, err := s.exporter.Export(r.Context(), sess.Daily, sess.Monthly)
	if err != nil {
		log.Printf("api: export: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": fmt.Sprintf("Fehler beim Exportieren: %v", err),
			"files": files,
		})
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{
		Files:   files,
		Message: fmt.Sprintf("%d Grafiken erfolgreich exportiert", len(files)),
	})
}

type HealthStatus struct {
	Status       string                     `json:"status"`
	Endpoints    []store.FetchHealthSummary `json:"endpoints"`
	RecentErrors []string                   `json:"recentErrors,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.GetFetchHealth(s.now().Add(-24 * time.Hour))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
		return
	}

	health := HealthStatus{Status: "ok", Endpoints: summaries}
	if health.Endpoints == nil {
		health.Endpoints = []store.FetchHealthSummary{}
	}
	for _, h := range summaries {
		if h.TotalRuns > 0 && h.SuccessRuns == 0 {
			health.Status = "degraded"
		}
	}

	if recent, err := s.store.GetRecentFetchErrors(5); err == nil {
		for _, run := range recent {
			health.RecentErrors = append(health.RecentErrors,
				fmt.Sprintf("%s %s: %s", run.StartedAt.Format(time.RFC3339), run.Endpoint, run.ErrorMessage.String))
		}
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// requireSession writes a 404 with msg when the visitor has no loaded data.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request, msg string) (*store.Session, bool) {
	sess, err := s.currentSession(r)
	if err != nil {
		log.Printf("api: load session: %v", err)
		writeError(w, http.StatusInternalServerError, "could not load session")
		return nil, false
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, msg)
		return nil, false
	}
	return sess, true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
