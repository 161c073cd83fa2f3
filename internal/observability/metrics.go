package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	busRunning        prometheus.Gauge
	busPending        prometheus.Gauge
	busPublishedTotal *prometheus.CounterVec
	busDeliveredTotal prometheus.Counter
	busHandlerErrors  *prometheus.CounterVec
	busDispatchTime   prometheus.Histogram

	memoryOpsTotal      *prometheus.CounterVec
	memoryOpDuration    *prometheus.HistogramVec
	memoryExpiredTotal  *prometheus.CounterVec
	memorySweepDuration prometheus.Histogram
	memoryFallbackTotal prometheus.Counter

	agentRunning      *prometheus.GaugeVec
	agentQueueSize    *prometheus.GaugeVec
	agentTasksTotal   *prometheus.CounterVec
	agentTaskDuration *prometheus.HistogramVec
	agentCrashesTotal *prometheus.CounterVec
	agentResultsTotal *prometheus.CounterVec
	ruleFindingsTotal *prometheus.CounterVec
	ruleReloadsTotal  *prometheus.CounterVec
	scheduleRunsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			busRunning: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "bus_running",
					Help: "Message bus dispatcher state (1 running, 0 stopped).",
				},
			),
			busPending: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "bus_pending_messages",
					Help: "Messages enqueued but not yet dispatched.",
				},
			),
			busPublishedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bus_published_total",
					Help: "Total messages published asynchronously by priority.",
				},
				[]string{"priority"},
			),
			busDeliveredTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "bus_deliveries_total",
					Help: "Total handler invocations.",
				},
			),
			busHandlerErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bus_handler_errors_total",
					Help: "Total failed handler invocations by subscriber.",
				},
				[]string{"subscriber"},
			),
			busDispatchTime: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "bus_dispatch_duration_seconds",
					Help:    "Time to deliver one message to all matching handlers.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryOpsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_operations_total",
					Help: "Total memory operations by backend, operation and status.",
				},
				[]string{"backend", "op", "status"},
			),
			memoryOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "memory_operation_duration_seconds",
					Help:    "Memory operation duration in seconds by backend and operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"backend", "op"},
			),
			memoryExpiredTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_expired_total",
					Help: "Expired entries removed by backend and trigger (read, sweep).",
				},
				[]string{"backend", "trigger"},
			),
			memorySweepDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_sweep_duration_seconds",
					Help:    "Expiry sweep duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryFallbackTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "memory_backend_fallback_total",
					Help: "Times the durable backend failed to open and memory was used instead.",
				},
			),
			agentRunning: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "agent_running",
					Help: "Agent state (1 running, 0 stopped).",
				},
				[]string{"agent"},
			),
			agentQueueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "agent_queue_size",
					Help: "Tasks waiting in the agent queue.",
				},
				[]string{"agent"},
			),
			agentTasksTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_tasks_total",
					Help: "Total tasks executed by agent, task type and status.",
				},
				[]string{"agent", "type", "status"},
			),
			agentTaskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_task_duration_seconds",
					Help:    "Task execution duration in seconds by agent.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"agent"},
			),
			agentCrashesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_crashes_total",
					Help: "Execution loops that ended with an uncaught failure.",
				},
				[]string{"agent"},
			),
			agentResultsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_results_published_total",
					Help: "Correlated result messages published by agent.",
				},
				[]string{"agent"},
			),
			ruleFindingsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rule_findings_total",
					Help: "Rule findings by rule set and severity.",
				},
				[]string{"rule_set", "severity"},
			),
			ruleReloadsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rule_reloads_total",
					Help: "Rule directory reloads by status.",
				},
				[]string{"status"},
			),
			scheduleRunsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "schedule_runs_total",
					Help: "Scheduled publications by status.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.busRunning,
			m.busPending,
			m.busPublishedTotal,
			m.busDeliveredTotal,
			m.busHandlerErrors,
			m.busDispatchTime,
			m.memoryOpsTotal,
			m.memoryOpDuration,
			m.memoryExpiredTotal,
			m.memorySweepDuration,
			m.memoryFallbackTotal,
			m.agentRunning,
			m.agentQueueSize,
			m.agentTasksTotal,
			m.agentTaskDuration,
			m.agentCrashesTotal,
			m.agentResultsTotal,
			m.ruleFindingsTotal,
			m.ruleReloadsTotal,
			m.scheduleRunsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func SetBusRunning(running bool) {
	m := getMetrics()
	if running {
		m.busRunning.Set(1)
		return
	}
	m.busRunning.Set(0)
}

func RecordBusPublish(priority string, pending int) {
	m := getMetrics()
	m.busPublishedTotal.WithLabelValues(priority).Inc()
	m.busPending.Set(float64(pending))
}

func SetBusPending(pending int) {
	getMetrics().busPending.Set(float64(pending))
}

func RecordBusDispatch(duration time.Duration, handlers, failures int) {
	m := getMetrics()
	m.busDispatchTime.Observe(duration.Seconds())
	m.busDeliveredTotal.Add(float64(handlers))
}

func RecordBusHandlerError(subscriber string) {
	getMetrics().busHandlerErrors.WithLabelValues(subscriber).Inc()
}

func RecordMemoryOp(backend, op string, duration time.Duration, success bool) {
	m := getMetrics()
	m.memoryOpsTotal.WithLabelValues(backend, op, status(success)).Inc()
	m.memoryOpDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
}

func RecordMemoryExpired(backend, trigger string, count int) {
	if count <= 0 {
		return
	}
	getMetrics().memoryExpiredTotal.WithLabelValues(backend, trigger).Add(float64(count))
}

func RecordMemorySweep(duration time.Duration) {
	getMetrics().memorySweepDuration.Observe(duration.Seconds())
}

func RecordMemoryFallback() {
	getMetrics().memoryFallbackTotal.Inc()
}

func SetAgentRunning(agent string, running bool) {
	m := getMetrics()
	if running {
		m.agentRunning.WithLabelValues(agent).Set(1)
		return
	}
	m.agentRunning.WithLabelValues(agent).Set(0)
}

func SetAgentQueueSize(agent string, size int) {
	getMetrics().agentQueueSize.WithLabelValues(agent).Set(float64(size))
}

func RecordAgentTask(agent, taskType string, duration time.Duration, success bool) {
	m := getMetrics()
	m.agentTasksTotal.WithLabelValues(agent, taskType, status(success)).Inc()
	m.agentTaskDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

func RecordAgentCrash(agent string) {
	getMetrics().agentCrashesTotal.WithLabelValues(agent).Inc()
}

func RecordAgentResult(agent string) {
	getMetrics().agentResultsTotal.WithLabelValues(agent).Inc()
}

func RecordRuleFinding(ruleSet, severity string) {
	getMetrics().ruleFindingsTotal.WithLabelValues(ruleSet, severity).Inc()
}

func RecordRuleReload(success bool) {
	getMetrics().ruleReloadsTotal.WithLabelValues(status(success)).Inc()
}

func RecordScheduleRun(success bool) {
	getMetrics().scheduleRunsTotal.WithLabelValues(status(success)).Inc()
}
