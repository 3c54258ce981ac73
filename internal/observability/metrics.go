package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	turnTotal     *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	turnRounds    prometheus.Histogram
	turnAborts    prometheus.Counter
	historyLength prometheus.Gauge

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	contextTokens           prometheus.Histogram
	contextSectionsDropped  *prometheus.CounterVec
	contextFallbackTotal    prometheus.Counter
	eventQueueDepth         prometheus.Gauge
	eventPatchesEvicted     prometheus.Counter
	sessionRecreationsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turn_total",
					Help: "Total orchestrator turns by outcome.",
				},
				[]string{"outcome"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "turn_duration_seconds",
					Help:    "Turn duration in seconds by outcome.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"outcome"},
			),
			turnRounds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "turn_tool_rounds",
					Help:    "Model round-trips consumed by the tool loop per turn.",
					Buckets: []float64{0, 1, 2, 3, 4, 5},
				},
			),
			turnAborts: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "turn_aborts_total",
					Help: "Total turns cancelled by the caller.",
				},
			),
			historyLength: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "conversation_history_length",
					Help: "Messages currently retained in conversation history.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			contextTokens: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "context_tokens",
					Help:    "Token estimate of assembled context per turn.",
					Buckets: prometheus.ExponentialBuckets(256, 2, 8),
				},
			),
			contextSectionsDropped: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "context_sections_dropped_total",
					Help: "Context sections truncated or omitted by section and reason.",
				},
				[]string{"section", "reason"},
			),
			contextFallbackTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "context_fallback_total",
					Help: "Turns that fell back to raw context after assembler failure.",
				},
			),
			eventQueueDepth: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "event_queue_depth",
					Help: "Patches currently buffered by the context event streamer.",
				},
			),
			eventPatchesEvicted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "event_patches_evicted_total",
					Help: "Patches evicted from the context event streamer on overflow.",
				},
			),
			sessionRecreationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "session_recreations_total",
					Help: "Model session recreations by reason.",
				},
				[]string{"reason"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.turnTotal,
			m.turnDuration,
			m.turnRounds,
			m.turnAborts,
			m.historyLength,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.contextTokens,
			m.contextSectionsDropped,
			m.contextFallbackTotal,
			m.eventQueueDepth,
			m.eventPatchesEvicted,
			m.sessionRecreationsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordTurn(outcome string, duration time.Duration, rounds int) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.turnRounds.Observe(float64(rounds))
}

func RecordTurnAbort() {
	getMetrics().turnAborts.Inc()
}

func SetHistoryLength(count int) {
	getMetrics().historyLength.Set(float64(count))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordContextAssembly(tokens int, truncated, omitted []string) {
	m := getMetrics()
	m.contextTokens.Observe(float64(tokens))
	for _, section := range truncated {
		m.contextSectionsDropped.WithLabelValues(section, "truncated").Inc()
	}
	for _, section := range omitted {
		m.contextSectionsDropped.WithLabelValues(section, "omitted").Inc()
	}
}

func RecordContextFallback() {
	getMetrics().contextFallbackTotal.Inc()
}

func SetEventQueueDepth(depth int) {
	getMetrics().eventQueueDepth.Set(float64(depth))
}

func RecordPatchEviction() {
	getMetrics().eventPatchesEvicted.Inc()
}

func RecordSessionRecreation(reason string) {
	getMetrics().sessionRecreationsTotal.WithLabelValues(reason).Inc()
}
