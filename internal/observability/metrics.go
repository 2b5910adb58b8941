package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hotspot_sync"

// Metrics holds the Prometheus counters, histograms, and gauges for the sync session.
type Metrics struct {
	SessionRunning prometheus.Gauge

	// Ingestion metrics.
	PagesFetched      prometheus.Counter
	FeaturesIngested  prometheus.Counter
	PageFetchDuration prometheus.Histogram
	IngestionRuns     *prometheus.CounterVec // labels: outcome={loaded,failed,canceled}
	StaleSnapshots    prometheus.Counter

	// Feature API metrics.
	FeatureAPIRequests *prometheus.CounterVec // labels: outcome={success,error}
	PageCache          *prometheus.CounterVec // labels: result={hit,miss}

	// View metrics.
	FilteredFeatures   prometheus.Gauge
	MapCommands        *prometheus.CounterVec // labels: type
	SummariesPublished prometheus.Counter
}

// NewMetrics creates and registers all session metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		SessionRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_running",
			Help:      "1 while the sync session is active, 0 when shut down.",
		}),
		PagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Total feature pages fetched.",
		}),
		FeaturesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_ingested_total",
			Help:      "Total hotspot records ingested across all runs.",
		}),
		PageFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_fetch_duration_seconds",
			Help:      "Duration of a single page fetch, cache hits included.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		IngestionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_runs_total",
			Help:      "Completed ingestion runs by outcome.",
		}, []string{"outcome"}),
		StaleSnapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_snapshots_total",
			Help:      "Snapshots dropped because a newer run superseded them.",
		}),
		FeatureAPIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_api_requests_total",
			Help:      "Feature API requests by outcome.",
		}, []string{"outcome"}),
		PageCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_cache_total",
			Help:      "Page cache lookups by result.",
		}, []string{"result"}),
		FilteredFeatures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "filtered_features",
			Help:      "Size of the current filtered view.",
		}),
		MapCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "map_commands_total",
			Help:      "Map commands emitted by type.",
		}, []string{"type"}),
		SummariesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_published_total",
			Help:      "Aggregate summaries written to the sink.",
		}),
	}

	prometheus.MustRegister(
		m.SessionRunning,
		m.PagesFetched,
		m.FeaturesIngested,
		m.PageFetchDuration,
		m.IngestionRuns,
		m.StaleSnapshots,
		m.FeatureAPIRequests,
		m.PageCache,
		m.FilteredFeatures,
		m.MapCommands,
		m.SummariesPublished,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		SessionRunning:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "session_running"}),
		PagesFetched:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "pages_fetched_total"}),
		FeaturesIngested:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "features_ingested_total"}),
		PageFetchDuration:  prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "page_fetch_duration_seconds"}),
		IngestionRuns:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "ingestion_runs_total"}, []string{"outcome"}),
		StaleSnapshots:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "stale_snapshots_total"}),
		FeatureAPIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "feature_api_requests_total"}, []string{"outcome"}),
		PageCache:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "page_cache_total"}, []string{"result"}),
		FilteredFeatures:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "filtered_features"}),
		MapCommands:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "map_commands_total"}, []string{"type"}),
		SummariesPublished: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "summaries_published_total"}),
	}
}
