package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gavel"

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"method", "route"},
	)

	// Bidding metrics
	BidsPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bidding",
			Name:      "bids_total",
			Help:      "Bid submissions by outcome (accepted, rejection code, or error)",
		},
		[]string{"outcome"},
	)

	BidLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bidding",
			Name:      "place_bid_duration_seconds",
			Help:      "End-to-end PlaceBid latency including lock wait",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	LockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bidding",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the per-auction slot",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
	)

	AuctionsExtended = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bidding",
			Name:      "extensions_total",
			Help:      "Auction end-time extensions triggered by late bids",
		},
	)

	LifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bidding",
			Name:      "lifecycle_transitions_total",
			Help:      "Auction status transitions by target status",
		},
		[]string{"status"},
	)

	// Fan-out metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "events_published_total",
			Help:      "Events published to the local hub by event type",
		},
		[]string{"type"},
	)

	SubscribersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "subscribers_dropped_total",
			Help:      "Subscribers closed because their mailbox overflowed",
		},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Current hub subscriptions",
		},
	)

	BridgeMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "bridge_messages_total",
			Help:      "Messages crossing the Redis bridge by direction",
		},
		[]string{"direction"},
	)

	BridgeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "bridge_errors_total",
			Help:      "Redis bridge failures by operation",
		},
		[]string{"op"},
	)

	// Gateway metrics
	Connections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open WebSocket connections by channel",
		},
		[]string{"channel"},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections_rejected_total",
			Help:      "WebSocket connections closed during the handshake by close code",
		},
		[]string{"code"},
	)

	InboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "inbound_messages_total",
			Help:      "Inbound WebSocket messages by action",
		},
		[]string{"action"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request counts and latency per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
