package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connected_clients",
			Help: "Currently connected WebSocket clients",
		},
	)

	OnlineAgents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_online_agents",
			Help: "Connections currently bound to an agent",
		},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Total inbound relay events",
		},
		[]string{"event"},
	)

	MessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Total chat messages appended",
		},
	)

	DroppedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dropped_events_total",
			Help: "Inbound events dropped without effect",
		},
		[]string{"reason"}, // "unbound", "invalid", "rate_limited"
	)

	SlowClientDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_slow_client_drops_total",
			Help: "Outbound events dropped because a client send buffer was full",
		},
	)
)
