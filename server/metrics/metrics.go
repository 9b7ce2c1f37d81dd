package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Surveillance loop
	Ticks        atomic.Uint64
	TicksSkipped atomic.Uint64 // Ticks skipped because too many inference requests were in flight
	StaleResults atomic.Uint64 // Results discarded because surveillance was toggled off while in flight

	// Inference
	InferenceOK     atomic.Uint64
	InferenceFailed atomic.Uint64
	BoxesDrawn      atomic.Uint64

	// Recording
	RecordingsStarted  atomic.Uint64
	RecordingsExported atomic.Uint64
	UploadFailures     atomic.Uint64
	ChunksRecorded     atomic.Uint64
	BytesRecorded      atomic.Uint64

	NoticesSent atomic.Uint64

	registry         *prometheus.Registry
	inferenceLatency prometheus.Histogram
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "buddywatch_inference_latency_seconds",
			Help:    "Round trip time of inference requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}
	m.registry.MustRegister(m.inferenceLatency)
	m.registerCounters()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: name,
			Help: help,
		},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) registerCounters() {
	m.counter("buddywatch_ticks_total", "Surveillance ticks", &m.Ticks)
	m.counter("buddywatch_ticks_skipped_total", "Ticks skipped because inference was saturated", &m.TicksSkipped)
	m.counter("buddywatch_stale_results_total", "Inference results discarded because surveillance stopped", &m.StaleResults)
	m.counter("buddywatch_inference_ok_total", "Successful inference requests", &m.InferenceOK)
	m.counter("buddywatch_inference_failed_total", "Failed inference requests", &m.InferenceFailed)
	m.counter("buddywatch_boxes_drawn_total", "Detections drawn on the overlay", &m.BoxesDrawn)
	m.counter("buddywatch_recordings_started_total", "Recordings started", &m.RecordingsStarted)
	m.counter("buddywatch_recordings_exported_total", "Recordings exported successfully", &m.RecordingsExported)
	m.counter("buddywatch_upload_failures_total", "Failed recording uploads", &m.UploadFailures)
	m.counter("buddywatch_chunks_recorded_total", "Media chunks appended to recordings", &m.ChunksRecorded)
	m.counter("buddywatch_bytes_recorded_total", "Bytes appended to recordings", &m.BytesRecorded)
	m.counter("buddywatch_notices_total", "User notices emitted", &m.NoticesSent)
}

// RegisterState exposes live controller state as gauges. Call this once.
func (m *Metrics) RegisterState(surveilling, recording func() bool, activeLoops func() int) {
	boolGauge := func(f func() bool) func() float64 {
		return func() float64 {
			if f() {
				return 1
			}
			return 0
		}
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "buddywatch_surveilling", Help: "1 if surveillance is active"},
		boolGauge(surveilling),
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "buddywatch_recording", Help: "1 if a recording is in progress"},
		boolGauge(recording),
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "buddywatch_active_loops", Help: "Number of running tick loops (never more than 1)"},
		func() float64 { return float64(activeLoops()) },
	))
}

func (m *Metrics) ObserveInference(latency time.Duration, err error) {
	if err != nil {
		m.InferenceFailed.Add(1)
		return
	}
	m.InferenceOK.Add(1)
	m.inferenceLatency.Observe(latency.Seconds())
}

// Handler returns the Prometheus scrape handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
