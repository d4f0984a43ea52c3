// Package metrics exports orchestrator telemetry as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/micromdm/nanorpa/rpa"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records step and task outcomes.
// It is an engine observer.
type Collector struct {
	registry *prometheus.Registry

	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	steps        *prometheus.CounterVec
	stepAttempts *prometheus.HistogramVec
	stepDuration *prometheus.HistogramVec

	botSuccessRate *prometheus.GaugeVec
	botExecutions  *prometheus.GaugeVec
}

// NewCollector creates a new collector with its own registry.
// The Go runtime and process collectors are registered too.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "nanorpa"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.tasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "finished_total",
			Help:      "Total number of tasks that reached a terminal status",
		},
		[]string{"status"},
	)

	c.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Time from task start to its terminal status",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"status"},
	)

	c.steps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "step",
			Name:      "finished_total",
			Help:      "Total number of finished steps",
		},
		[]string{"type", "status"},
	)

	c.stepAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "step",
			Name:      "attempts",
			Help:      "Attempts taken by finished steps",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		},
		[]string{"type"},
	)

	c.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "step",
			Name:      "duration_seconds",
			Help:      "Time taken by finished steps including retries",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
		},
		[]string{"type"},
	)

	c.botSuccessRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "success_rate_percent",
			Help:      "Percentage of successful executions of a bot",
		},
		[]string{"bot_id", "industry"},
	)

	c.botExecutions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "executions",
			Help:      "Executions of a bot",
		},
		[]string{"bot_id", "industry"},
	)

	c.registry.MustRegister(
		c.tasks,
		c.taskDuration,
		c.steps,
		c.stepAttempts,
		c.stepDuration,
		c.botSuccessRate,
		c.botExecutions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RegisterQueueDepth exports the value of depth as the queue depth gauge.
func (c *Collector) RegisterQueueDepth(namespace string, depth func() int) {
	if namespace == "" {
		namespace = "nanorpa"
	}
	c.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Tasks waiting to run",
		},
		func() float64 { return float64(depth()) },
	))
}

// Handler returns an HTTP handler that serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) StepFinished(_ context.Context, _ *rpa.Task, rec *rpa.StepRecord) {
	t := string(rec.Type)
	c.steps.WithLabelValues(t, string(rec.Status)).Inc()
	c.stepAttempts.WithLabelValues(t).Observe(float64(rec.Attempts))
	if !rec.StartTime.IsZero() && !rec.EndTime.IsZero() {
		c.stepDuration.WithLabelValues(t).Observe(rec.EndTime.Sub(rec.StartTime).Seconds())
	}
}

func (c *Collector) TaskFinished(_ context.Context, task *rpa.Task, bot *rpa.Bot) {
	status := string(task.Status)
	c.tasks.WithLabelValues(status).Inc()
	c.taskDuration.WithLabelValues(status).Observe(task.Duration().Seconds())
	if bot == nil {
		return
	}
	c.botSuccessRate.WithLabelValues(bot.ID, bot.Industry).Set(bot.Metrics.SuccessRate)
	c.botExecutions.WithLabelValues(bot.ID, bot.Industry).Set(float64(bot.Metrics.ExecutionCount))
}
