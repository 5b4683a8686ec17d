package requestcache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for cached requests.
type Metrics struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	coalesced     *prometheus.CounterVec
	waiting       *prometheus.GaugeVec
	fetchDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers cache metrics with the given registerer.
// One Metrics value is shared by every handler; series are labelled by query.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsefeed_cache_hits_total",
			Help: "Total number of requests served from a fresh cache entry",
		}, []string{"query"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsefeed_cache_misses_total",
			Help: "Total number of non-forced requests without a fresh cache entry",
		}, []string{"query"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsefeed_cache_fetches_total",
			Help: "Total number of upstream fetches by outcome",
		}, []string{"query", "outcome"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsefeed_cache_coalesced_total",
			Help: "Total number of requests that joined an in-flight fetch",
		}, []string{"query"}),
		waiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulsefeed_cache_waiting_requests",
			Help: "Number of requests currently waiting on an upstream fetch",
		}, []string{"query"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulsefeed_cache_fetch_duration_seconds",
			Help:    "Duration of upstream fetches",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"query"}),
	}

	registerer.MustRegister(m.hits, m.misses, m.fetches, m.coalesced, m.waiting, m.fetchDuration)
	return m
}

func (m *Metrics) hit(query string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(query).Inc()
}

func (m *Metrics) miss(query string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(query).Inc()
}

func (m *Metrics) joined(query string) {
	if m == nil {
		return
	}
	m.coalesced.WithLabelValues(query).Inc()
}

func (m *Metrics) wait(query string, delta float64) {
	if m == nil {
		return
	}
	m.waiting.WithLabelValues(query).Add(delta)
}

func (m *Metrics) fetched(query string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.fetches.WithLabelValues(query, outcome).Inc()
	m.fetchDuration.WithLabelValues(query).Observe(d.Seconds())
}
