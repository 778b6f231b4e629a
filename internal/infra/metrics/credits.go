package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		creditsDebitedTotal,
		creditsRefundedTotal,
		rateLimitTriggeredTotal,
	)
}

var (
	creditsDebitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credits_debited_total",
			Help: "Total credits debited on completed generations.",
		},
	)

	creditsRefundedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_refunded_total",
			Help: "Total credits refunded, labeled by reason.",
		},
		[]string{"reason"},
	)

	rateLimitTriggeredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "submit_rate_limit_triggered_total",
			Help: "Total number of times users hit the submission rate limit.",
		},
	)
)

func AddCreditsDebited(n int) {
	creditsDebitedTotal.Add(float64(n))
}

func AddCreditsRefunded(reason string, n int) {
	creditsRefundedTotal.WithLabelValues(norm(reason)).Add(float64(n))
}

func IncRateLimitTriggered() {
	rateLimitTriggeredTotal.Inc()
}
