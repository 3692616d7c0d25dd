package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/taskforge/internal/model"
)

var (
	tasksSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskforge_tasks_submitted_total",
			Help: "Total tasks accepted by Submit, by category and priority.",
		},
		[]string{"category", "priority"},
	)

	tasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskforge_tasks_finished_total",
			Help: "Total tasks that reached a terminal status, by category and status.",
		},
		[]string{"category", "status"},
	)

	tasksRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskforge_tasks_running",
			Help: "Tasks currently occupying a pool slot.",
		},
	)

	tasksQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskforge_tasks_queued",
			Help: "Tasks waiting in the pending queue.",
		},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskforge_task_duration_seconds",
			Help:    "Wall-clock task execution time from start to terminal status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(tasksSubmitted, tasksFinished, tasksRunning, tasksQueued, taskDuration)

	// Pre-initialize label combinations so series exist at zero before the
	// first task arrives.
	terminal := []string{model.StatusCompleted, model.StatusFailed, model.StatusCancelled, model.StatusTimedOut}
	priorities := []model.Priority{model.PriorityLow, model.PriorityNormal, model.PriorityHigh, model.PriorityCritical}
	for _, c := range model.Categories() {
		taskDuration.WithLabelValues(c)
		for _, s := range terminal {
			tasksFinished.WithLabelValues(c, s)
		}
		for _, p := range priorities {
			tasksSubmitted.WithLabelValues(c, p.String())
		}
	}
}
