package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/lox/kasselweather/internal/charts"
	"github.com/lox/kasselweather/internal/metrics"
	"github.com/lox/kasselweather/internal/models"
	"github.com/lox/kasselweather/internal/stats"
)

// Export file names.
const (
	FileDashboard            = "wetterdashboard_kassel.png"
	FileTemperatureTrend     = "temperaturverlauf_kassel.png"
	FilePrecipitation        = "niederschlag_kassel.png"
	FileSeasonalTemperature  = "temperatur_nach_jahreszeit_kassel.png"
	FileYearlyTemperature    = "temperaturtrend_kassel.png"
	FileYearlyPrecipitation  = "niederschlagstrend_kassel.png"
	FileSeasonalPrecipitaton = "niederschlag_nach_jahreszeit_kassel.png"
)

var ErrNoData = errors.New("export: no data loaded")

// Exporter renders the full chart set and hands each image to a sink.
type Exporter struct {
	composer *charts.Composer
	sink     Sink
}

func NewExporter(composer *charts.Composer, sink Sink) *Exporter {
	return &Exporter{composer: composer, sink: sink}
}

type job struct {
	file   string
	render func(outPath string) error
}

// Export writes every chart and returns the file names in write order. The
// precipitation trend and seasonal precipitation charts are only produced
// when the daily table has a precipitation column. The first failure stops
// the export.
func (e *Exporter) Export(ctx context.Context, daily, monthly models.Table) ([]string, error) {
	if daily.Granularity == "" {
		return nil, ErrNoData
	}

	staging, err := os.MkdirTemp("", "kasselweather-export-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	seasons := stats.PartitionBySeason(daily)
	jobs := []job{
		{FileDashboard, func(p string) error {
			_, err := e.composer.Dashboard(daily, monthly, "Wetterdashboard Kassel", p)
			return err
		}},
		{FileTemperatureTrend, func(p string) error {
			_, err := e.composer.TemperatureTrend(daily, "", p)
			return err
		}},
		{FilePrecipitation, func(p string) error {
			_, err := e.composer.Precipitation(daily, "", p)
			return err
		}},
		{FileSeasonalTemperature, func(p string) error {
			_, err := e.composer.SeasonalComparison(seasons, models.ColTAvg, "", p)
			return err
		}},
		{FileYearlyTemperature, func(p string) error {
			_, err := e.composer.YearlyTrend(daily, models.ColTAvg, "", p)
			return err
		}},
	}
	if daily.HasColumn(models.ColPrcp) {
		jobs = append(jobs,
			job{FileYearlyPrecipitation, func(p string) error {
				_, err := e.composer.YearlyTrend(daily, models.ColPrcp, "Jährlicher Niederschlagstrend Kassel", p)
				return err
			}},
			job{FileSeasonalPrecipitaton, func(p string) error {
				_, err := e.composer.SeasonalComparison(seasons, models.ColPrcp, "Niederschlagsverteilung nach Jahreszeiten", p)
				return err
			}},
		)
	}

	var written []string
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		local := filepath.Join(staging, j.file)
		if err := j.render(local); err != nil {
			metrics.FilesExported.WithLabelValues(e.sink.Name(), "error").Inc()
			return written, fmt.Errorf("export %s: %w", j.file, err)
		}
		data, err := os.ReadFile(local)
		if err != nil {
			return written, fmt.Errorf("read %s: %w", j.file, err)
		}
		if err := e.sink.Put(ctx, j.file, data); err != nil {
			metrics.FilesExported.WithLabelValues(e.sink.Name(), "error").Inc()
			return written, fmt.Errorf("store %s: %w", j.file, err)
		}
		metrics.FilesExported.WithLabelValues(e.sink.Name(), "success").Inc()
		written = append(written, j.file)
	}

	log.Printf("export: wrote %d files to %s", len(written), e.sink.Name())
	return written, nil
}
