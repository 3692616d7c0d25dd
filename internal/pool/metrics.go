package pool

import "github.com/prometheus/client_golang/prometheus"

var (
	executedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskforge_pool_executed_total",
			Help: "Total number of work items executed per pool.",
		},
		[]string{"pool"},
	)

	rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskforge_pool_rejected_total",
			Help: "Total number of submissions rejected per pool (queue full or shut down).",
		},
		[]string{"pool"},
	)

	activeWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskforge_pool_active_workers",
			Help: "Number of workers currently executing work, per pool.",
		},
		[]string{"pool"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskforge_pool_queue_depth",
			Help: "Number of queued work items awaiting a worker, per pool.",
		},
		[]string{"pool"},
	)
)

func init() {
	prometheus.MustRegister(executedTotal)
	prometheus.MustRegister(rejectedTotal)
	prometheus.MustRegister(activeWorkers)
	prometheus.MustRegister(queueDepth)

	// Pre-initialize label combinations so all pools appear in /metrics
	// from startup, not only after their first submission.
	for _, kind := range Kinds() {
		executedTotal.WithLabelValues(string(kind))
		rejectedTotal.WithLabelValues(string(kind))
		activeWorkers.WithLabelValues(string(kind))
		queueDepth.WithLabelValues(string(kind))
	}
}
