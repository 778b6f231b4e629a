package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		vendorCallsTotal,
		vendorCallLatency,
	)
}

var (
	vendorCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendor_calls_total",
			Help: "Vendor API calls by operation and outcome.",
		},
		// op: 'create', 'status', 'download'
		// outcome: 'ok', 'http_429', 'soft_rate_limit', 'http_5xx', 'bad_request', 'network_error'
		[]string{"op", "outcome"},
	)

	vendorCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vendor_call_duration_seconds",
			Help:    "Vendor API call latency in seconds, including retries.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"op"},
	)
)

func IncVendorCall(op, outcome string) {
	vendorCallsTotal.WithLabelValues(norm(op), norm(outcome)).Inc()
}

func ObserveVendorCall(op string, seconds float64) {
	vendorCallLatency.WithLabelValues(norm(op)).Observe(seconds)
}
