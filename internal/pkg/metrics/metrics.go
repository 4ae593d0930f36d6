package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// StreamConnected is 1 while the telemetry stream of a vehicle is up.
	StreamConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fordpass_stream_connected",
			Help: "Telemetry stream state per vehicle (1=Streaming, 0=Disconnected or polling).",
		},
		[]string{"vin"},
	)

	// StreamFramesTotal counts received stream frames by kind.
	StreamFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fordpass_stream_frames_total",
			Help: "Total number of telemetry stream frames received.",
		},
		[]string{"vin", "kind"}, // kind: data/status/error/empty/other
	)

	// CommandsTotal counts executed commands by outcome.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fordpass_commands_total",
			Help: "Total number of vehicle commands by result.",
		},
		[]string{"command", "result"},
	)

	// CommandLatency records the time from submission to a final outcome.
	CommandLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fordpass_command_latency_seconds",
			Help:    "Latency of vehicle commands from submission to confirmation.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 160, 320, 640},
		},
		[]string{"command"},
	)

	// TokenRefreshTotal counts token refreshes by family and result.
	TokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fordpass_token_refresh_total",
			Help: "Total number of primary and relay token refreshes.",
		},
		[]string{"family", "result"}, // result: success/unauthorized/error
	)

	// UnauthorizedCount mirrors the consecutive-401 counters.
	UnauthorizedCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fordpass_unauthorized_count",
			Help: "Consecutive unauthorized responses per vehicle and token family.",
		},
		[]string{"subject", "family"},
	)

	// PollsTotal counts full polling refreshes.
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fordpass_polls_total",
			Help: "Total number of full polling refreshes by result.",
		},
		[]string{"vin", "result"},
	)

	// APIRequestsTotal counts host API requests by route and status code.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fordpass_api_requests_total",
			Help: "Total number of host API requests.",
		},
		[]string{"route", "code"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		StreamConnected,
		StreamFramesTotal,
		CommandsTotal,
		CommandLatency,
		TokenRefreshTotal,
		UnauthorizedCount,
		PollsTotal,
		APIRequestsTotal,
	)
}
