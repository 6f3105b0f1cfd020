package api

import (
	"context"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/kasselweather/internal/charts"
	"github.com/lox/kasselweather/internal/imagegen"
	"github.com/lox/kasselweather/internal/models"
	"github.com/lox/kasselweather/internal/stations"
	"github.com/lox/kasselweather/internal/stats"
	"github.com/lox/kasselweather/internal/store"
)

type StationResolver interface {
	Resolve(ctx context.Context) stations.Resolution
	Refresh(ctx context.Context) stations.Resolution
}

type Fetcher interface {
	FetchDaily(ctx context.Context, start, end time.Time, stationID string) models.Table
	FetchMonthly(ctx context.Context, start, end time.Time, stationID string) models.Table
}

type Exporter interface {
	Export(ctx context.Context, daily, monthly models.Table) ([]string, error)
}

type Narrator interface {
	Summarize(ctx context.Context, s stats.Summary, startYear, endYear int) (string, error)
}

// Options wires the server to its collaborators. Exporter and Narrator are
// optional.
type Options struct {
	Store      *store.Store
	Stations   StationResolver
	Fetcher    Fetcher
	Rasterizer charts.Rasterizer
	Exporter   Exporter
	Narrator   Narrator
	ImageTTL   time.Duration
}

type Server struct {
	store      *store.Store
	stations   StationResolver
	fetcher    Fetcher
	composer   *charts.Composer
	raster     charts.Rasterizer
	exporter   Exporter
	narrator   Narrator
	imageCache *imagegen.Cache
	validate   *validator.Validate
	tmpl       *template.Template
	port       string
	now        func() time.Time
	renderMu   sync.Mutex // serializes PNG rendering
}

func NewServer(opts Options, port string) *Server {
	ttl := opts.ImageTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Server{
		store:      opts.Store,
		stations:   opts.Stations,
		fetcher:    opts.Fetcher,
		composer:   charts.NewComposer(opts.Rasterizer),
		raster:     opts.Rasterizer,
		exporter:   opts.Exporter,
		narrator:   opts.Narrator,
		imageCache: imagegen.NewCache(ttl),
		validate:   validator.New(),
		tmpl:       newTemplates(),
		port:       port,
		now:        time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/stations", s.handleAPIStations)
	mux.HandleFunc("POST /api/stations/refresh", s.handleAPIStationsRefresh)
	mux.HandleFunc("POST /api/load", s.handleAPILoad)
	mux.HandleFunc("GET /api/summary", s.handleAPISummary)
	mux.HandleFunc("GET /api/charts/{name}", s.handleAPIChart)
	mux.HandleFunc("POST /api/export", s.handleAPIExport)
	mux.HandleFunc("GET /charts/{file}", s.handleChartImage)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
