package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "alert_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the alert pipeline.
type Metrics struct {
	JobsProcessed  *prometheus.CounterVec   // labels: outcome={acknowledged,ack_error,failed,dead_lettered}
	StageDuration  *prometheus.HistogramVec // labels: stage
	StageFailures  *prometheus.CounterVec   // labels: stage, kind
	SchemaRetries  prometheus.Counter
	PagesExtracted *prometheus.CounterVec // labels: outcome={success,error,empty}

	// Place resolution metrics.
	ResolverCache    *prometheus.CounterVec // labels: result={hit,miss}
	PlacesUnresolved prometheus.Counter
	GeocodeRequests  *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeDuration  prometheus.Histogram

	AlertsPublished *prometheus.CounterVec // labels: outcome={success,error}

	// Dispatcher metrics.
	BatchSize     prometheus.Histogram
	DrainDuration prometheus.Histogram
	DrainRunning  prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Jobs finished by outcome.",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each job stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Job failures by stage and error kind.",
		}, []string{"stage", "kind"}),
		SchemaRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_retries_total",
			Help:      "Structured extraction calls retried after a schema error.",
		}),
		PagesExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_extracted_total",
			Help:      "Document pages sent to the vision model by outcome.",
		}, []string{"outcome"}),
		ResolverCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_cache_total",
			Help:      "Place resolver cache lookups by result.",
		}, []string{"result"}),
		PlacesUnresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "places_unresolved_total",
			Help:      "Place names that matched no reference record.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding fallback requests by outcome.",
		}, []string{"outcome"}),
		GeocodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		AlertsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_published_total",
			Help:      "Alert events written to Kafka by outcome.",
		}, []string{"outcome"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of jobs per batch read from the queue.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		DrainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "drain_duration_seconds",
			Help:      "Duration of a complete queue drain.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		DrainRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drain_running",
			Help:      "1 while a queue drain is in progress.",
		}),
	}

	prometheus.MustRegister(
		m.JobsProcessed,
		m.StageDuration,
		m.StageFailures,
		m.SchemaRetries,
		m.PagesExtracted,
		m.ResolverCache,
		m.PlacesUnresolved,
		m.GeocodeRequests,
		m.GeocodeDuration,
		m.AlertsPublished,
		m.BatchSize,
		m.DrainDuration,
		m.DrainRunning,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		JobsProcessed:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "jobs_processed_total"}, []string{"outcome"}),
		StageDuration:    prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "stage_duration_seconds"}, []string{"stage"}),
		StageFailures:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "stage_failures_total"}, []string{"stage", "kind"}),
		SchemaRetries:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "schema_retries_total"}),
		PagesExtracted:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "pages_extracted_total"}, []string{"outcome"}),
		ResolverCache:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "resolver_cache_total"}, []string{"result"}),
		PlacesUnresolved: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "places_unresolved_total"}),
		GeocodeRequests:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "geocode_requests_total"}, []string{"outcome"}),
		GeocodeDuration:  prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "geocode_api_duration_seconds"}),
		AlertsPublished:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "alerts_published_total"}, []string{"outcome"}),
		BatchSize:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_size"}),
		DrainDuration:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "drain_duration_seconds"}),
		DrainRunning:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drain_running"}),
	}
}
