package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_requests_total",
			Help: "Total number of commands and queries processed by the messaging core.",
		},
		[]string{"kind", "outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_request_duration_seconds",
			Help:    "Command/query latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_delivery_transitions_total",
			Help: "Total number of delivery state transitions, by target state.",
		},
		[]string{"state"},
	)
	broadcastReceiversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_broadcast_receivers_total",
			Help: "Total number of broadcast fan-out outcomes per receiver.",
		},
		[]string{"outcome"},
	)
	cacheEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_cache_events_total",
			Help: "Cache-aside gate outcomes (hit, miss, coalesced).",
		},
		[]string{"result"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		requestsTotal,
		requestDuration,
		transitionsTotal,
		broadcastReceiversTotal,
		cacheEventsTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
	)
}

// ObserveRequest records one pipeline execution.
func ObserveRequest(kind, outcome string, elapsed time.Duration) {
	requestsTotal.WithLabelValues(kind, outcome).Inc()
	requestDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// IncTransition counts a delivery state transition into the given state.
func IncTransition(state string) {
	transitionsTotal.WithLabelValues(state).Inc()
}

// IncBroadcastReceiver counts a per-receiver broadcast outcome.
func IncBroadcastReceiver(outcome string) {
	broadcastReceiversTotal.WithLabelValues(outcome).Inc()
}

// IncCacheEvent counts a cache gate outcome.
func IncCacheEvent(result string) {
	cacheEventsTotal.WithLabelValues(result).Inc()
}

func IncWSActive() { wsActiveConnections.Inc() }
func DecWSActive() { wsActiveConnections.Dec() }

// IncWSEvent counts a websocket lifecycle event.
func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

// IncAMQPPublishError counts a failed event publication.
func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
