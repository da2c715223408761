// Package telemetry exposes Prometheus metrics about the dashboard's own
// refresh loop and the data it is tracking.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "netwatch"

var (
	// TicksTotal counts completed ticks by trigger ("auto" or "manual").
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total number of dashboard refresh ticks",
		},
		[]string{"trigger"},
	)

	// TickDuration observes how long a tick took end to end.
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent executing one refresh tick",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// ThroughputMbps is the latest per-device throughput.
	ThroughputMbps = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_throughput_mbps",
			Help:      "Current simulated throughput per device",
		},
		[]string{"device", "direction"},
	)

	// DevicesOnline is the number of devices currently ONLINE.
	DevicesOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_online",
			Help:      "Number of devices currently online",
		},
	)

	// WindowKeys and WindowSamples describe the rolling window store.
	WindowKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_keys",
			Help:      "Number of keys held by the rolling window",
		},
	)
	WindowSamples = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_samples",
			Help:      "Total samples held by the rolling window",
		},
	)

	// SamplesEvicted counts samples removed by the per-tick sweep.
	SamplesEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_samples_evicted_total",
			Help:      "Samples removed from the rolling window",
		},
	)

	// KeysPurged counts keys dropped after going idle for a full horizon.
	KeysPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_keys_purged_total",
			Help:      "Keys removed from the rolling window after going idle",
		},
	)

	// AlertsTotal counts generated security alerts by severity.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Security alerts raised",
		},
		[]string{"severity"},
	)

	// PersistErrors counts failed sample writes to storage.
	PersistErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed attempts to persist window samples",
		},
	)

	// WidgetFetches counts external widget refreshes by widget and result.
	WidgetFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "widget_fetches_total",
			Help:      "External widget refresh attempts",
		},
		[]string{"widget", "result"},
	)

	// StreamClients is the number of connected WebSocket clients.
	StreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected WebSocket clients",
		},
	)

	// HTTPRequests counts API requests by method, route and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	once sync.Once
)

// InitMetrics registers all metrics with the default registry. Safe to call
// more than once.
func InitMetrics() {
	once.Do(func() {
		MustRegister(prometheus.DefaultRegisterer)
	})
}

// MustRegister registers every collector on reg. Tests use a fresh
// registry to read values back.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		TicksTotal,
		TickDuration,
		ThroughputMbps,
		DevicesOnline,
		WindowKeys,
		WindowSamples,
		SamplesEvicted,
		KeysPurged,
		AlertsTotal,
		PersistErrors,
		WidgetFetches,
		StreamClients,
		HTTPRequests,
		HTTPRequestDuration,
	)
}
