package api

import (
	"log"
	"net/http"

	"github.com/lox/kasselweather/internal/stats"
)

const defaultStartYear = 2000

type indexData struct {
	MinYear   int
	MaxYear   int
	StartYear int
	EndYear   int
	StationID string
	Loaded    bool
	Fallback  bool
	Summary   stats.Summary
	Tabs      []chartTab
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	year := s.now().Year()
	data := indexData{
		MinYear:   minYear,
		MaxYear:   year,
		StartYear: defaultStartYear,
		EndYear:   year,
		Tabs:      chartTabs,
	}

	sess, err := s.currentSession(r)
	if err != nil {
		log.Printf("api: load session: %v", err)
	}
	if sess != nil {
		data.Loaded = true
		data.StartYear = sess.StartYear
		data.EndYear = sess.EndYear
		data.StationID = sess.StationID.String
		data.Fallback = sess.StationFallback
		data.Summary = stats.Compute(sess.Daily)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		log.Printf("template error: %v", err)
	}
}
