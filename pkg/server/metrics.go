package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server. Each server instance
// owns its own registry so that multiple instances (tests, embedding) never
// collide on metric registration.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions       prometheus.Gauge
	sessionsCreated      prometheus.Counter
	sessionsDisconnected prometheus.Counter

	messagesReceived *prometheus.CounterVec // by message type
	messagesSent     *prometheus.CounterVec // by message type
	malformedFrames  prometheus.Counter

	broadcastFanout     prometheus.Histogram
	privateDeliveryMiss prometheus.Counter
	bytesDeliveredTotal prometheus.Counter
}

// NewMetrics creates a metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "plaza_active_sessions",
			Help: "Current number of logged-in sessions",
		}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "plaza_sessions_created_total",
			Help: "Total number of accepted connections",
		}),
		sessionsDisconnected: factory.NewCounter(prometheus.CounterOpts{
			Name: "plaza_sessions_disconnected_total",
			Help: "Total number of closed sessions",
		}),
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plaza_messages_received_total",
			Help: "Total number of messages received from clients by type",
		}, []string{"type"}),
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plaza_messages_sent_total",
			Help: "Total number of messages sent to clients by type",
		}, []string{"type"}),
		malformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "plaza_malformed_frames_total",
			Help: "Total number of frames that failed message decoding",
		}),
		broadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "plaza_broadcast_fanout",
			Help:    "Number of recipients per broadcast message",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		privateDeliveryMiss: factory.NewCounter(prometheus.CounterOpts{
			Name: "plaza_private_delivery_miss_total",
			Help: "Private messages whose target address was not registered",
		}),
		bytesDeliveredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "plaza_bytes_delivered_total",
			Help: "Total payload bytes delivered to clients",
		}),
	}
}

// Handler returns the HTTP handler exposing this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

func (m *Metrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
}

func (m *Metrics) RecordSessionDisconnected() {
	m.sessionsDisconnected.Inc()
}

func (m *Metrics) RecordMessageReceived(msgType string) {
	m.messagesReceived.WithLabelValues(msgType).Inc()
}

func (m *Metrics) RecordMessageSent(msgType string, payloadBytes int) {
	m.messagesSent.WithLabelValues(msgType).Inc()
	m.bytesDeliveredTotal.Add(float64(payloadBytes))
}

func (m *Metrics) RecordMalformedFrame() {
	m.malformedFrames.Inc()
}

func (m *Metrics) RecordBroadcastFanout(recipients int) {
	m.broadcastFanout.Observe(float64(recipients))
}

func (m *Metrics) RecordPrivateDeliveryMiss() {
	m.privateDeliveryMiss.Inc()
}
