// Package metrics provides Prometheus metrics for the ZEC tracker.
// Scrape these at /metrics for Grafana dashboards and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zec_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zec_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Stream Metrics
	TicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zec_stream_ticks_total",
			Help: "Total number of price ticks applied (push or poll)",
		},
	)

	TicksDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zec_stream_ticks_dropped_total",
			Help: "Ticks dropped before reaching the display",
		},
		[]string{"reason"}, // "malformed", "currency"
	)

	StreamReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zec_stream_reconnects_total",
			Help: "Number of stream close/error cycles",
		},
	)

	StreamState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zec_stream_state",
			Help: "1 for the current connection state, 0 otherwise",
		},
		[]string{"state"}, // "connecting", "connected", "degraded-polling"
	)

	// Fetch Metrics
	FetchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zec_fetch_failures_total",
			Help: "Upstream fetches that degraded to no data",
		},
		[]string{"source"}, // "quote", "history", "supply", "shielded", "shielded_hourly", "rpc", "markets"
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zec_fetch_duration_seconds",
			Help:    "Upstream fetch latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"source"},
	)

	// Chart Metrics
	TimeframeTogglesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zec_timeframe_toggles_total",
			Help: "Timeframe toggles by chart and result",
		},
		[]string{"chart", "result"}, // result: "ok", "reverted"
	)

	StaleResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zec_stale_results_total",
			Help: "Fetch results discarded because the timeframe changed in flight",
		},
		[]string{"chart"},
	)

	// Proxy Metrics
	ProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zec_proxy_requests_total",
			Help: "Forwarding proxy requests by upstream and status",
		},
		[]string{"upstream", "status"},
	)

	// Shielded Supply Metrics
	ShieldedSupplyZEC = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zec_shielded_supply",
			Help: "Latest total shielded supply in ZEC",
		},
	)

	ShieldedBlockHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zec_shielded_block_height",
			Help: "Block height of the latest shielded supply snapshot",
		},
	)

	// Hub Metrics
	HubClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zec_hub_clients",
			Help: "Connected dashboard websocket clients",
		},
	)
)

// SetStreamState flips the state gauge so exactly one label reads 1
func SetStreamState(state string) {
	for _, s := range []string{"connecting", "connected", "degraded-polling"} {
		v := 0.0
		if s == state {
			v = 1
		}
		StreamState.WithLabelValues(s).Set(v)
	}
}
