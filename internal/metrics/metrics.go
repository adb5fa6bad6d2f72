// Package metrics exposes prometheus instrumentation for task runs and
// browser reloads.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "assetflow"

// Task results.
const (
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
	ResultReported  = "reported"
)

// Reload kinds.
const (
	ReloadPage   = "page"
	ReloadStream = "stream"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	TaskRuns     *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
	TaskProblems *prometheus.CounterVec
	BuildRuns    *prometheus.CounterVec
	Reloads      *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry together
// with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TaskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Task executions by task and result.",
		}, []string{"task", "result"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"task"}),
		TaskProblems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_problems_total",
			Help:      "Problems reported by checkers.",
		}, []string{"task"}),
		BuildRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_runs_total",
			Help:      "Graph executions by target and result.",
		}, []string{"target", "result"}),
		Reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Browser reload signals by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TaskRuns, m.TaskDuration, m.TaskProblems, m.BuildRuns, m.Reloads,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTask records one task execution.
func (m *Metrics) ObserveTask(task, result string, d time.Duration, problems int) {
	if m == nil {
		return
	}
	m.TaskRuns.WithLabelValues(task, result).Inc()
	m.TaskDuration.WithLabelValues(task).Observe(d.Seconds())
	if problems > 0 {
		m.TaskProblems.WithLabelValues(task).Add(float64(problems))
	}
}

// ObserveBuild records one graph execution.
func (m *Metrics) ObserveBuild(target, result string) {
	if m == nil {
		return
	}
	m.BuildRuns.WithLabelValues(target, result).Inc()
}

// ObserveReload records one reload signal.
func (m *Metrics) ObserveReload(kind string) {
	if m == nil {
		return
	}
	m.Reloads.WithLabelValues(kind).Inc()
}
