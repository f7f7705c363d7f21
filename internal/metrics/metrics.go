// Package metrics holds the Prometheus collectors for the ingestion pipeline.
//
// All observe/increment methods are safe to call on a nil *Metrics so
// components can be constructed without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for transform, delivery, import and the tracker.
type Metrics struct {
	registry *prometheus.Registry

	// Records seen by the transform engine, by outcome: valid, invalid, duplicate
	RecordsTransformed *prometheus.CounterVec

	BatchesPublished prometheus.Counter
	PublishFailures  prometheus.Counter

	// Import attempts by outcome: imported, rejected, conflict, redelivered, cancelled, error
	Imports        *prometheus.CounterVec
	ImportDuration prometheus.Histogram

	TrackerEvictions prometheus.Counter

	// HTTP request latency by route pattern and status code
	RequestDuration *prometheus.HistogramVec
}

// New creates Metrics registered on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RecordsTransformed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cityingest_records_transformed_total",
			Help: "Records processed by the transform engine by outcome",
		}, []string{"outcome"}),

		BatchesPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "cityingest_batches_published_total",
			Help: "Batches handed to the delivery channel",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "cityingest_publish_failures_total",
			Help: "Failed hand-offs to the delivery channel",
		}),

		Imports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cityingest_imports_total",
			Help: "Import attempts by outcome",
		}, []string{"outcome"}),
		ImportDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cityingest_import_duration_seconds",
			Help:    "Duration of one batch import including commit",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		TrackerEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "cityingest_tracker_evictions_total",
			Help: "Batches removed from the tracker by age",
		}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cityingest_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTransform records the per-record outcome counts of one transform call.
func (m *Metrics) ObserveTransform(valid, invalid, duplicates int) {
	if m == nil {
		return
	}
	m.RecordsTransformed.WithLabelValues("valid").Add(float64(valid))
	m.RecordsTransformed.WithLabelValues("invalid").Add(float64(invalid - duplicates))
	m.RecordsTransformed.WithLabelValues("duplicate").Add(float64(duplicates))
}

// IncrementPublished counts a successful publish.
func (m *Metrics) IncrementPublished() {
	if m != nil {
		m.BatchesPublished.Inc()
	}
}

// IncrementPublishFailure counts a failed publish.
func (m *Metrics) IncrementPublishFailure() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}

// ObserveImport records one import attempt.
func (m *Metrics) ObserveImport(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Imports.WithLabelValues(outcome).Inc()
	m.ImportDuration.Observe(d.Seconds())
}

// AddEvictions counts batches evicted by age.
func (m *Metrics) AddEvictions(n int) {
	if m != nil && n > 0 {
		m.TrackerEvictions.Add(float64(n))
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	if m != nil {
		m.RequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
	}
}
