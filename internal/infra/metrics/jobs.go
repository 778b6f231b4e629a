package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		generationJobsTotal,
		webhooksTotal,
		queueDepth,
	)
}

var (
	generationJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_total",
			Help: "Generation jobs by final status.",
		},
		[]string{"status"}, // 'completed', 'failed', 'rejected'
	)

	webhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_total",
			Help: "Vendor webhook deliveries by reconcile outcome.",
		},
		// 'delivered', 'duplicate', 'lock_busy', 'task_missing', 'failed', 'bad_payload'
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "generation_queue_depth",
			Help: "Current number of requests waiting in the generation queue.",
		},
	)
)

func IncGenerationJob(status string) {
	generationJobsTotal.WithLabelValues(norm(status)).Inc()
}

func IncWebhook(outcome string) {
	webhooksTotal.WithLabelValues(norm(outcome)).Inc()
}

func SetQueueDepth(n int64) {
	queueDepth.Set(float64(n))
}
