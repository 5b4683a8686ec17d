package server

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for streaming subscribers.
type Metrics struct {
	clientsConnected *prometheus.GaugeVec
	messagesSent     *prometheus.CounterVec
}

// NewMetrics creates and registers stream metrics with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		clientsConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulsefeed_stream_clients_connected",
			Help: "Current number of connected stream clients by transport",
		}, []string{"transport"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsefeed_stream_messages_sent_total",
			Help: "Total number of messages written to stream clients by transport",
		}, []string{"transport"}),
	}

	registerer.MustRegister(m.clientsConnected, m.messagesSent)

	return m
}

func (m *Metrics) clientConnected(transport string) {
	if m == nil {
		return
	}
	m.clientsConnected.WithLabelValues(transport).Inc()
}

func (m *Metrics) clientDisconnected(transport string) {
	if m == nil {
		return
	}
	m.clientsConnected.WithLabelValues(transport).Dec()
}

func (m *Metrics) messageSent(transport string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(transport).Inc()
}
