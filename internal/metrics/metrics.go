package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MeteostatAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kasselweather_meteostat_api_calls_total",
			Help: "Total Meteostat API calls",
		},
		[]string{"endpoint", "status"},
	)

	MeteostatAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kasselweather_meteostat_api_latency_seconds",
			Help:    "Meteostat API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	StationFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kasselweather_station_fallbacks_total",
			Help: "Station lookups answered from the built-in fallback list",
		},
		[]string{"reason"},
	)

	ObservationFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kasselweather_observation_fallbacks_total",
			Help: "Observation fetches that degraded to an empty table or to the target coordinates",
		},
		[]string{"granularity", "kind"},
	)

	RowsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kasselweather_rows_loaded_total",
			Help: "Observation rows returned to the dashboard",
		},
		[]string{"granularity"},
	)

	ChartsRendered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kasselweather_charts_rendered_total",
			Help: "Charts rasterized to PNG",
		},
		[]string{"chart", "status"},
	)

	ChartRenderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kasselweather_chart_render_seconds",
			Help:    "Chart rasterization time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chart"},
	)

	FilesExported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kasselweather_files_exported_total",
			Help: "Chart images written by the exporter",
		},
		[]string{"sink", "status"},
	)
)
