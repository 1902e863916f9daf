// Package metrics records run and task measurements in a private prometheus
// registry that can be dumped in node-exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the run metrics. A nil *Recorder records nothing.
type Recorder struct {
	registry     *prometheus.Registry
	taskDuration *prometheus.HistogramVec
	tokensTotal  *prometheus.CounterVec
	runsTotal    *prometheus.CounterVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nourishbot_task_duration_seconds",
				Help:    "Duration of crew tasks in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"workflow", "task"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nourishbot_tokens_total",
				Help: "Total number of LLM tokens used, by kind",
			},
			[]string{"workflow", "kind"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nourishbot_runs_total",
				Help: "Total number of pipeline runs by final status",
			},
			[]string{"workflow", "status"},
		),
	}
}

// ObserveTask records one finished task.
func (r *Recorder) ObserveTask(workflow, task string, d time.Duration, promptTokens, completionTokens int) {
	if r == nil {
		return
	}
	r.taskDuration.WithLabelValues(workflow, task).Observe(d.Seconds())
	r.tokensTotal.WithLabelValues(workflow, "prompt").Add(float64(promptTokens))
	r.tokensTotal.WithLabelValues(workflow, "completion").Add(float64(completionTokens))
}

// ObserveRun counts a finished run.
func (r *Recorder) ObserveRun(workflow, status string) {
	if r == nil {
		return
	}
	r.runsTotal.WithLabelValues(workflow, status).Inc()
}

// Registry exposes the underlying registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile atomically writes every metric to path.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
