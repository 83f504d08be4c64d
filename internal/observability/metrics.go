package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// panel build pipeline.
type Metrics struct {
	SourceFetches   *prometheus.CounterVec   // labels: source, outcome={fresh,cached,stale,error}
	FetchDuration   *prometheus.HistogramVec // labels: source
	CacheLookups    *prometheus.CounterVec   // labels: source, result={hit,miss}
	RowsLoaded      *prometheus.CounterVec   // labels: source
	PanelRows       prometheus.Gauge
	CoverageWarning *prometheus.CounterVec // labels: kind
	BuildDuration   prometheus.Histogram
	BuildRunning    prometheus.Gauge
	RowsPublished   prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.SourceFetches,
		m.FetchDuration,
		m.CacheLookups,
		m.RowsLoaded,
		m.PanelRows,
		m.CoverageWarning,
		m.BuildDuration,
		m.BuildRunning,
		m.RowsPublished,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		SourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "covid_panel",
			Name:      "source_fetches_total",
			Help:      "Source fetch attempts by source and outcome.",
		}, []string{"source", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "covid_panel",
			Name:      "fetch_duration_seconds",
			Help:      "Source fetch duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "covid_panel",
			Name:      "cache_lookups_total",
			Help:      "Artifact cache lookups by source and result.",
		}, []string{"source", "result"}),
		RowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "covid_panel",
			Name:      "rows_loaded_total",
			Help:      "Normalized rows produced per source loader.",
		}, []string{"source"}),
		PanelRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "covid_panel",
			Name:      "panel_rows",
			Help:      "Rows in the most recently built panel.",
		}),
		CoverageWarning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "covid_panel",
			Name:      "coverage_warnings_total",
			Help:      "Municipality coverage warnings by kind.",
		}, []string{"kind"}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "covid_panel",
			Name:      "build_duration_seconds",
			Help:      "Duration of a complete load-align-merge-join build.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		BuildRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "covid_panel",
			Name:      "build_running",
			Help:      "1 while a panel build is in progress.",
		}),
		RowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "covid_panel",
			Name:      "rows_published_total",
			Help:      "Panel rows published to the Kafka sink.",
		}),
	}
}
