package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus.
type Collector struct {
	runsSubmitted    *prometheus.CounterVec
	runsCompleted    *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	nodesExecuted    *prometheus.CounterVec
	nodeDuration     *prometheus.HistogramVec
	executorCalls    *prometheus.CounterVec
	executorDuration *prometheus.HistogramVec
	contractsWritten *prometheus.CounterVec
	workerPoolIdle   prometheus.Gauge
	workerPoolBusy   prometheus.Gauge
	workerPoolDown   prometheus.Gauge
	activeRuns       prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector() *Collector {
	return &Collector{
		runsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagplan_runs_submitted_total",
				Help: "Total number of runs submitted",
			},
			[]string{"status"},
		),
		runsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagplan_runs_completed_total",
				Help: "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dagplan_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		nodesExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagplan_nodes_executed_total",
				Help: "Total number of node executions",
			},
			[]string{"status"},
		),
		nodeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dagplan_node_duration_seconds",
				Help:    "Node execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		executorCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagplan_executor_calls_total",
				Help: "Total number of task executor calls",
			},
			[]string{"op", "status"},
		),
		executorDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dagplan_executor_call_duration_seconds",
				Help:    "Task executor call duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 60},
			},
			[]string{"op"},
		),
		contractsWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagplan_contracts_written_total",
				Help: "Total number of contracts written",
			},
			[]string{"direction"},
		),
		workerPoolIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dagplan_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dagplan_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolDown: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dagplan_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
		activeRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dagplan_active_runs",
				Help: "Number of currently active runs",
			},
		),
	}
}

// RecordRunSubmitted records a run submission.
func (c *Collector) RecordRunSubmitted(status string) {
	c.runsSubmitted.WithLabelValues(status).Inc()
}

// RecordRunCompleted records a run completion with its duration.
func (c *Collector) RecordRunCompleted(status string, duration time.Duration) {
	c.runsCompleted.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordNodeExecuted records a node execution with its duration.
func (c *Collector) RecordNodeExecuted(status string, duration time.Duration) {
	c.nodesExecuted.WithLabelValues(status).Inc()
	c.nodeDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordExecutorCall records one task executor call.
func (c *Collector) RecordExecutorCall(op, status string, duration time.Duration) {
	c.executorCalls.WithLabelValues(op, status).Inc()
	c.executorDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordContractWritten records a persisted contract.
func (c *Collector) RecordContractWritten(direction string) {
	c.contractsWritten.WithLabelValues(direction).Inc()
}

// SetWorkerCounts records the worker pool status.
func (c *Collector) SetWorkerCounts(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolDown.Set(float64(stopped))
}

// SetActiveRuns records the number of in-flight runs.
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}
