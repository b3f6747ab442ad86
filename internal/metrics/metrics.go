package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swkit"

// Recorder publishes Prometheus metrics for cache, dispatch and event bus
// activity. A nil Recorder ignores every observation.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	dispatches      *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	handlerRuns     *prometheus.CounterVec
	backgroundTasks *prometheus.CounterVec
	eventsEmitted   *prometheus.CounterVec
	eventDeliveries *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache store operations by operation and result.",
	}, []string{"operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for cache store operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"operation", "result"})

	dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "dispatch_total",
		Help:      "Events dispatched through the worker by type and outcome.",
	}, []string{"event", "outcome"})

	dispatchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "dispatch_duration_seconds",
		Help:      "Latency distribution for synchronous event dispatch.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"event", "outcome"})

	handlerRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "handler_executions_total",
		Help:      "Middleware handler executions by event, handler and outcome.",
	}, []string{"event", "handler", "outcome"})

	backgroundTasks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "background_settled_total",
		Help:      "Events whose background work settled, by result.",
	}, []string{"event", "result"})

	eventsEmitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "emitted_total",
		Help:      "Payloads emitted on the event bus.",
	}, []string{"event"})

	eventDeliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "deliveries_total",
		Help:      "Listener invocations caused by emissions.",
	}, []string{"event"})

	reg.MustRegister(cacheOperations, cacheLatency, dispatches, dispatchLatency,
		handlerRuns, backgroundTasks, eventsEmitted, eventDeliveries)

	return &Recorder{
		gatherer:        reg,
		handler:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
		dispatches:      dispatches,
		dispatchLatency: dispatchLatency,
		handlerRuns:     handlerRuns,
		backgroundTasks: backgroundTasks,
		eventsEmitted:   eventsEmitted,
		eventDeliveries: eventDeliveries,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveCacheOperation records one cache store call.
func (r *Recorder) ObserveCacheOperation(operation, result string, duration time.Duration) {
	if r == nil {
		return
	}
	opLabel := normalizeLabel(operation)
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(opLabel, resLabel).Observe(duration.Seconds())
}

// ObserveDispatch records the synchronous outcome of one event dispatch.
func (r *Recorder) ObserveDispatch(event, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	eventLabel := normalizeLabel(event)
	outcomeLabel := normalizeLabel(outcome)
	r.dispatches.WithLabelValues(eventLabel, outcomeLabel).Inc()
	r.dispatchLatency.WithLabelValues(eventLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveHandler records one handler execution.
func (r *Recorder) ObserveHandler(event, handler, outcome string) {
	if r == nil {
		return
	}
	r.handlerRuns.WithLabelValues(normalizeLabel(event), normalizeLabel(handler), normalizeLabel(outcome)).Inc()
}

// ObserveBackground records the settled background work of one event.
func (r *Recorder) ObserveBackground(event string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.backgroundTasks.WithLabelValues(normalizeLabel(event), result).Inc()
}

// ObserveEvent records an emission on the event bus and how many listeners
// received it.
func (r *Recorder) ObserveEvent(name string, listeners int) {
	if r == nil {
		return
	}
	label := normalizeLabel(name)
	r.eventsEmitted.WithLabelValues(label).Inc()
	if listeners > 0 {
		r.eventDeliveries.WithLabelValues(label).Add(float64(listeners))
	}
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
