// Package metrics exposes download pipeline counters to Prometheus.
//
// A nil *Metrics is valid and records nothing, so components take one
// optionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediadl"

// Metrics holds the collectors of one pipeline.
type Metrics struct {
	bytes       *prometheus.CounterVec
	chunks      *prometheus.CounterVec
	failures    *prometheus.CounterVec
	active      prometheus.Gauge
	assembly    prometheus.Histogram
	downloads   *prometheus.CounterVec
	postProcess *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_downloaded_total",
			Help:      "Bytes written by range fetches.",
		}, []string{"kind"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_completed_total",
			Help:      "Range fetches moved into part files.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Range fetches that ended with a transport error.",
		}, []string{"kind"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_fetches",
			Help:      "Range fetches currently running.",
		}),
		assembly: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assembly_duration_seconds",
			Help:      "Time spent merging part files.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Downloads by terminal status.",
		}, []string{"status"}),
		postProcess: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "post_process_duration_seconds",
			Help:      "Time spent in transcode and mux steps.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"step"}),
	}
	reg.MustRegister(m.bytes, m.chunks, m.failures, m.active, m.assembly, m.downloads, m.postProcess)
	return m
}

// Handler serves the collectors registered with the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the collectors of g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) AddBytes(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ChunkCompleted(kind string) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(kind).Inc()
}

func (m *Metrics) FetchFailed(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetActiveFetches(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}

func (m *Metrics) ObserveAssembly(d time.Duration) {
	if m == nil {
		return
	}
	m.assembly.Observe(d.Seconds())
}

func (m *Metrics) DownloadFinished(status string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(status).Inc()
}

func (m *Metrics) ObservePostProcess(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.postProcess.WithLabelValues(step).Observe(d.Seconds())
}
