// Package metrics holds the Prometheus collectors of the worker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"transcoder/internal/media/encoder"
)

const namespace = "transcoder"

type Metrics struct {
	registry *prometheus.Registry

	JobsTotal         *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	JobsInFlight      prometheus.Gauge
	Dispositions      *prometheus.CounterVec
	RenditionsTotal   *prometheus.CounterVec
	RenditionDuration *prometheus.HistogramVec
	ReceiveErrors     prometheus.Counter
}

// New registers every collector on a fresh registry together with the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs finished, by terminal state.",
		}, []string{"state"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of one job cycle, by terminal state.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		}, []string{"state"}),
		JobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being processed by this instance.",
		}),
		Dispositions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dispositions_total",
			Help:      "Queue messages disposed, by disposition.",
		}, []string{"disposition"}),
		RenditionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renditions_total",
			Help:      "Renditions finished, by rung and status.",
		}, []string{"rung", "status"}),
		RenditionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rendition_duration_seconds",
			Help:      "Encode time of one rendition.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 12),
		}, []string{"rung"}),
		ReceiveErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_receive_errors_total",
			Help:      "Failed queue receive calls.",
		}),
	}
}

// ObserveRendition records one rendition outcome.
func (m *Metrics) ObserveRendition(o encoder.Outcome) {
	m.RenditionsTotal.WithLabelValues(o.Rung.Label, string(o.Status)).Inc()
	m.RenditionDuration.WithLabelValues(o.Rung.Label).Observe(o.Duration.Seconds())
}

func (m *Metrics) JobStarted() {
	m.JobsInFlight.Inc()
}

// ObserveJob records a finished job started with JobStarted.
func (m *Metrics) ObserveJob(state string, d time.Duration) {
	m.JobsInFlight.Dec()
	m.JobsTotal.WithLabelValues(state).Inc()
	m.JobDuration.WithLabelValues(state).Observe(d.Seconds())
}

func (m *Metrics) ObserveDisposition(disposition string) {
	m.Dispositions.WithLabelValues(disposition).Inc()
}

func (m *Metrics) ObserveReceiveError() {
	m.ReceiveErrors.Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
