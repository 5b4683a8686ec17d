package jobstatus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for job runs.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	running  *prometheus.GaugeVec
}

// NewMetrics creates and registers job metrics with the given registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsefeed_job_runs_total",
			Help: "Total number of finished job runs by outcome",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulsefeed_job_duration_seconds",
			Help:    "Duration of successful job runs",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"job"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulsefeed_job_running",
			Help: "Whether a job is currently running (1) or not (0)",
		}, []string{"job"}),
	}

	registerer.MustRegister(m.runs, m.duration, m.running)
	return m
}

func (m *Metrics) runStarted(job string) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(job).Set(1)
}

func (m *Metrics) runSucceeded(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(job).Set(0)
	m.runs.WithLabelValues(job, string(StatusSuccess)).Inc()
	m.duration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) runFailed(job string) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(job).Set(0)
	m.runs.WithLabelValues(job, string(StatusError)).Inc()
}
