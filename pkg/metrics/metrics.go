// Package metrics defines the Prometheus metric collectors for the ingestion
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the ingestion service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	BatchesTotal         *prometheus.CounterVec
	BatchSize            prometheus.Histogram
	BatchDuration        prometheus.Histogram
	DocumentsTotal       *prometheus.CounterVec
	DocumentsInFlight    prometheus.Gauge
	DuplicatesTotal      *prometheus.CounterVec
	AuditWritesTotal     *prometheus.CounterVec
	IndexTriggersTotal   *prometheus.CounterVec
}

var (
	once     sync.Once
	instance *Metrics
)

// New returns the process-wide Metrics, registering all collectors on first
// call.
func New() *Metrics {
	once.Do(func() {
		instance = build()
		instance.register()
	})
	return instance
}

func build() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_batches_total",
				Help: "Total batch ingestion calls by final operation status.",
			},
			[]string{"status"},
		),
		BatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_batch_size",
				Help:    "Number of documents per batch call.",
				Buckets: []float64{1, 5, 10, 25, 50, 100},
			},
		),
		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_batch_duration_seconds",
				Help:    "Wall-clock duration of a batch ingestion call.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		DocumentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_documents_total",
				Help: "Documents processed by outcome (success, invalid_request, duplicate_document, internal_error).",
			},
			[]string{"outcome"},
		),
		DocumentsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_documents_in_flight",
				Help: "Documents currently inside the per-document pipeline.",
			},
		),
		DuplicatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_duplicates_total",
				Help: "Duplicate rejections by detection tier (cache, history, store, constraint).",
			},
			[]string{"tier"},
		),
		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_audit_writes_total",
				Help: "Audit log writes by record status.",
			},
			[]string{"status"},
		),
		IndexTriggersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_index_triggers_total",
				Help: "Fire-and-forget index trigger publishes by result.",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) register() {
	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.BatchesTotal,
		m.BatchSize,
		m.BatchDuration,
		m.DocumentsTotal,
		m.DocumentsInFlight,
		m.DuplicatesTotal,
		m.AuditWritesTotal,
		m.IndexTriggersTotal,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
