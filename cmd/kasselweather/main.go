package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	_ "modernc.org/sqlite"

	"github.com/lox/kasselweather/internal/api"
	"github.com/lox/kasselweather/internal/charts"
	"github.com/lox/kasselweather/internal/config"
	"github.com/lox/kasselweather/internal/export"
	"github.com/lox/kasselweather/internal/imagegen"
	"github.com/lox/kasselweather/internal/ingest"
	"github.com/lox/kasselweather/internal/narrative"
	"github.com/lox/kasselweather/internal/stations"
	"github.com/lox/kasselweather/internal/store"
	"github.com/lox/kasselweather/internal/weather"
)

type CLI struct {
	config.Globals

	Serve    ServeCmd    `cmd:"" default:"withargs" help:"Run the dashboard web server."`
	Export   ExportCmd   `cmd:"" help:"Fetch a year range and export all charts."`
	Stations StationsCmd `cmd:"" help:"List weather stations near the target."`
}

// app holds the wiring shared by every command.
type app struct {
	db         *sql.DB
	store      *store.Store
	meteostat  *ingest.Meteostat
	resolver   *stations.Resolver
	aggregator *weather.Aggregator
}

func newApp(g *config.Globals) (*app, error) {
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if g.DB == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		db.Exec("PRAGMA journal_mode=WAL")
		db.Exec("PRAGMA busy_timeout=5000")
	}

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Println("database migrated")

	if g.Meteostat.APIKey == "" {
		log.Println("METEOSTAT_API_KEY not set: station lookups will use the fallback list and tables will be empty")
	}
	ms := ingest.NewMeteostat(g.Meteostat.Config(), st)
	resolver := stations.NewResolver(ms, g.Target())

	return &app{
		db:         db,
		store:      st,
		meteostat:  ms,
		resolver:   resolver,
		aggregator: weather.NewAggregator(ms, resolver, g.Target()),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

type ServeCmd struct {
	Port       string        `env:"PORT" default:"8080" help:"HTTP server port."`
	SessionTTL time.Duration `name:"session-ttl" env:"SESSION_TTL" default:"24h" help:"Drop sessions idle for longer than this."`
	NoSweep    bool          `name:"no-sweep" help:"Disable background session pruning."`

	config.ExportFlags    `embed:""`
	config.NarrativeFlags `embed:""`
}

func (c *ServeCmd) Run(g *config.Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	renderer := imagegen.NewRenderer()
	opts := api.Options{
		Store:      a.store,
		Stations:   a.resolver,
		Fetcher:    a.aggregator,
		Rasterizer: renderer,
	}

	if sink, err := c.ExportFlags.Sink(); err != nil {
		log.Printf("export disabled: %v", err)
	} else {
		opts.Exporter = export.NewExporter(charts.NewComposer(renderer), sink)
	}

	if n, err := narrative.New(c.OpenAIKey, c.OpenAIModel); err != nil {
		log.Printf("narrative disabled: %v", err)
	} else {
		opts.Narrator = n
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !c.NoSweep {
		scheduler := ingest.NewScheduler(a.store, c.SessionTTL)
		go scheduler.Run(ctx)
	} else {
		log.Println("background maintenance disabled (--no-sweep)")
	}

	server := api.NewServer(opts, c.Port)
	log.Printf("listening on :%s", c.Port)
	return server.Run(ctx)
}

type ExportCmd struct {
	StartYear int    `name:"start-year" default:"2000" help:"First year to export."`
	EndYear   int    `name:"end-year" help:"Last year to export (default: current year)."`
	Station   string `help:"Station id (default: nearest station)."`

	config.ExportFlags `embed:""`
}

func (c *ExportCmd) Run(g *config.Globals) error {
	end := c.EndYear
	if end == 0 {
		end = time.Now().Year()
	}
	if c.StartYear > end {
		return fmt.Errorf("start year %d is after end year %d", c.StartYear, end)
	}

	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stationID := c.Station
	if stationID == "" {
		res := a.resolver.Resolve(ctx)
		if res.Fallback {
			log.Printf("using fallback station list: %s", res.Warning)
		}
		if len(res.Stations) > 0 {
			stationID = res.Stations[0].ID
		}
	}

	from := time.Date(c.StartYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(end, time.December, 31, 0, 0, 0, 0, time.UTC)
	daily := a.aggregator.FetchDaily(ctx, from, to, stationID)
	monthly := a.aggregator.FetchMonthly(ctx, from, to, stationID)
	if daily.Empty() {
		return errors.New("no daily data available for the selected range and station")
	}

	sink, err := c.ExportFlags.Sink()
	if err != nil {
		return err
	}
	files, err := export.NewExporter(charts.NewComposer(imagegen.NewRenderer()), sink).Export(ctx, daily, monthly)
	for _, f := range files {
		fmt.Println(f)
	}
	return err
}

type StationsCmd struct{}

func (c *StationsCmd) Run(g *config.Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.resolver.Resolve(context.Background())
	if res.Fallback {
		fmt.Printf("Fallback-Stationen (%s)\n", res.Warning)
	}
	for _, st := range res.Stations {
		if st.Distance.Valid {
			fmt.Printf("%-8s %-30s %6.1f km\n", st.ID, st.Name, st.Distance.Float64)
		} else {
			fmt.Printf("%-8s %s\n", st.ID, st.Name)
		}
	}
	return nil
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("load .env: %v", err)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("kasselweather"),
		kong.Description("Historical weather analysis for Kassel and its district."),
		kong.UsageOnError(),
		kong.Vars(config.Vars()),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
