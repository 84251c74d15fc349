// Package metrics exposes Prometheus collectors for the serving surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector tracks inference executions. Register it against an explicit
// registry so tests can build isolated instances.
type Collector struct {
	executions       *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	activeExecutions prometheus.Gauge
}

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nnexec_executions_total",
				Help: "Total number of graph executions",
			},
			[]string{"path", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nnexec_execution_duration_seconds",
				Help:    "Graph execution duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"path"},
		),
		activeExecutions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nnexec_active_executions",
				Help: "Number of currently active executions",
			},
		),
	}
}

// ObserveExecution records one completed execution. path is one of
// "static", "dynamic", or "accelerated".
func (c *Collector) ObserveExecution(path, status string, duration time.Duration) {
	c.executions.WithLabelValues(path, status).Inc()
	c.duration.WithLabelValues(path).Observe(duration.Seconds())
}

func (c *Collector) ExecutionStarted() { c.activeExecutions.Inc() }

func (c *Collector) ExecutionFinished() { c.activeExecutions.Dec() }
