package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_tracking", Name: "connections_active", Help: "Live realtime connections"})
	BroadcastsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_tracking", Name: "broadcasts_total", Help: "Broadcast fan-out operations"})
	SendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_tracking", Name: "send_failures_total", Help: "Timed-out or failed frame sends"})
	EvictionsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_tracking", Name: "evictions_total", Help: "Connections evicted after repeated send failures"})
	LocationUpdates   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_tracking", Name: "location_updates_total", Help: "Driver location messages accepted"})
	EventWriteErrors  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_tracking", Name: "event_write_errors_total", Help: "Failed ride event writes on the location path"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_tracking", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_tracking",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
