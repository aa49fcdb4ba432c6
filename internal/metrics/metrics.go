// ABOUTME: Prometheus collectors shared by the hub, realtime layer, and API
// ABOUTME: Own registry; exported via promhttp on /metrics

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the server exports.
type Metrics struct {
	registry *prometheus.Registry

	wsConnections prometheus.Gauge
	onlineUsers   prometheus.Gauge
	framesIn      *prometheus.CounterVec
	framesDropped prometheus.Counter
	messagesSent  *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "parley",
		Subsystem: "ws",
		Name:      "connections",
		Help:      "Open WebSocket connections",
	})
	m.onlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "parley",
		Subsystem: "ws",
		Name:      "online_users",
		Help:      "Users with at least one live connection",
	})
	m.framesIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "ws",
		Name:      "frames_total",
		Help:      "Inbound frames by type",
	}, []string{"type"})
	m.framesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "ws",
		Name:      "frames_dropped_total",
		Help:      "Outbound frames dropped because a session buffer was full",
	})
	m.messagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "chat",
		Name:      "messages_total",
		Help:      "Messages persisted by content type",
	}, []string{"content_type"})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route, and status",
	}, []string{"method", "route", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "parley",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "route"})

	m.registry.MustRegister(
		m.wsConnections,
		m.onlineUsers,
		m.framesIn,
		m.framesDropped,
		m.messagesSent,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetConnections sets the open WebSocket connection gauge.
func (m *Metrics) SetConnections(n int) {
	m.wsConnections.Set(float64(n))
}

// SetOnlineUsers sets the online user gauge.
func (m *Metrics) SetOnlineUsers(n int) {
	m.onlineUsers.Set(float64(n))
}

// FrameReceived counts one inbound frame of the given type.
func (m *Metrics) FrameReceived(frameType string) {
	m.framesIn.WithLabelValues(frameType).Inc()
}

// FrameDropped counts one dropped outbound frame.
func (m *Metrics) FrameDropped() {
	m.framesDropped.Inc()
}

// MessageSent counts one persisted message.
func (m *Metrics) MessageSent(contentType string) {
	m.messagesSent.WithLabelValues(contentType).Inc()
}

// HTTPRequest records one completed HTTP request.
func (m *Metrics) HTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
