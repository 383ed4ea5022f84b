package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/housekeeping/internal/realtime"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "housekeeping"

var allStates = []realtime.State{
	realtime.StateDisconnected,
	realtime.StateConnecting,
	realtime.StateConnected,
	realtime.StateError,
	realtime.StateReconnecting,
}

// Metrics holds the service's collectors on a private registry.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry
	factory   promauto.Factory

	connectionState    *prometheus.GaugeVec
	attemptsFailed     *prometheus.CounterVec
	reconnectsTotal    prometheus.Counter
	reconnectDelay     prometheus.Histogram
	eventsDispatched   *prometheus.CounterVec
	listenerPanics     *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpRequestSeconds *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		namespace: namespace,
		registry:  reg,
		factory:   f,

		connectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connection_state",
			Help:      "1 for the current realtime connection state, 0 otherwise",
		}, []string{"state"}),

		attemptsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "attempts_failed_total",
			Help:      "Failed connection attempts by reason (timeout, channel_error)",
		}, []string{"reason"}),

		reconnectsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnects scheduled by the reconnection policy",
		}),

		reconnectDelay: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnect_delay_seconds",
			Help:      "Delay before each scheduled reconnect",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),

		eventsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_dispatched_total",
			Help:      "Change events broadcast on the event bus",
		}, []string{"resource", "type"}),

		listenerPanics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "listener_panics_total",
			Help:      "Recovered event bus listener panics by topic",
		}, []string{"topic"}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"}),

		httpRequestSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.StateChanged(realtime.StateDisconnected)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StateChanged implements realtime.Recorder.
func (m *Metrics) StateChanged(state realtime.State) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(string(s)).Set(v)
	}
}

// AttemptFailed implements realtime.Recorder.
func (m *Metrics) AttemptFailed(reason string) {
	m.attemptsFailed.WithLabelValues(failureReason(reason)).Inc()
}

// ReconnectScheduled implements realtime.Recorder.
func (m *Metrics) ReconnectScheduled(delay time.Duration) {
	m.reconnectsTotal.Inc()
	m.reconnectDelay.Observe(delay.Seconds())
}

// EventDispatched implements realtime.Recorder.
func (m *Metrics) EventDispatched(resource, eventType string) {
	m.eventsDispatched.WithLabelValues(resource, strings.ToLower(eventType)).Inc()
}

// ListenerPanicked has the eventbus.PanicHandler signature.
func (m *Metrics) ListenerPanicked(topic string, _ any) {
	m.listenerPanics.WithLabelValues(topic).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpRequestSeconds.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) GaugeFunc(subsystem, name, help string, fn func() float64) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

// failureReason keeps the reason label bounded: transport error text is
// collapsed into channel_error.
func failureReason(reason string) string {
	if reason == realtime.MsgConnectionTimeout {
		return "timeout"
	}
	return "channel_error"
}

var _ realtime.Recorder = (*Metrics)(nil)
