package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics метрики сервера разметки
type Metrics struct {
	// Состояние
	OpenSessions       atomic.Int64
	RunningJobs        atomic.Int64
	SegmenterAvailable atomic.Bool

	// Счетчики
	FramesWritten atomic.Uint64
	EmptyFilled   atomic.Uint64

	runs     *prometheus.CounterVec
	duration prometheus.Histogram
	registry *prometheus.Registry
}

// New создает метрики с собственным реестром Prometheus
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labeler_propagation_runs_total",
			Help: "Propagation runs by final status",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "labeler_propagation_duration_seconds",
			Help:    "Duration of a single interval propagation",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.runs, m.duration)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "labeler_open_sessions",
			Help: "Labeling sessions currently open",
		},
		func() float64 { return float64(m.OpenSessions.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "labeler_running_jobs",
			Help: "Propagation jobs currently running",
		},
		func() float64 { return float64(m.RunningJobs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "labeler_segmenter_up",
			Help: "Whether the segmentation service answered the last health probe",
		},
		func() float64 {
			if m.SegmenterAvailable.Load() {
				return 1
			}
			return 0
		},
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "labeler_frames_written_total",
			Help: "Frames whose mask was written by propagation",
		},
		func() float64 { return float64(m.FramesWritten.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "labeler_frames_empty_filled_total",
			Help: "Interval frames written with an explicitly empty mask",
		},
		func() float64 { return float64(m.EmptyFilled.Load()) },
	))
}

// ObserveRun учитывает завершенный запуск распространения
func (m *Metrics) ObserveRun(status string, framesWritten, emptyFilled int, duration time.Duration) {
	m.runs.WithLabelValues(status).Inc()
	m.FramesWritten.Add(uint64(framesWritten))
	m.EmptyFilled.Add(uint64(emptyFilled))
	if duration > 0 {
		m.duration.Observe(duration.Seconds())
	}
}

// Registry реестр для тестов и дополнительных коллекторов
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
