// Package metrics holds the Prometheus collectors shared by the chat services.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the counters and histograms emitted by the chat pipeline.
// All methods are safe to call on a nil receiver.
type Metrics struct {
	TurnsPersisted  *prometheus.CounterVec
	AppendRetries   prometheus.Counter
	AppendFailures  prometheus.Counter
	ReadFailures    prometheus.Counter
	EndpointErrors  prometheus.Counter
	EndpointLatency prometheus.Histogram
	Conflicts       prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "persona_chat",
			Name:      "turns_persisted_total",
			Help:      "Chat turns appended to the log store, by role.",
		}, []string{"role"}),
		AppendRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "persona_chat",
			Name:      "log_append_retries_total",
			Help:      "Log store appends retried after a transient error.",
		}),
		AppendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "persona_chat",
			Name:      "log_append_failures_total",
			Help:      "Log store appends that exhausted their retry budget.",
		}),
		ReadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "persona_chat",
			Name:      "log_read_failures_total",
			Help:      "Log store reads that fell back to an empty history.",
		}),
		EndpointErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "persona_chat",
			Name:      "endpoint_errors_total",
			Help:      "Failed calls to the conversational AI endpoint.",
		}),
		EndpointLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "persona_chat",
			Name:      "endpoint_latency_seconds",
			Help:      "Latency of blocking calls to the conversational AI endpoint.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "persona_chat",
			Name:      "conversation_conflicts_total",
			Help:      "Turns rejected because the endpoint returned a different conversation id.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TurnsPersisted,
			m.AppendRetries,
			m.AppendFailures,
			m.ReadFailures,
			m.EndpointErrors,
			m.EndpointLatency,
			m.Conflicts,
		)
	}
	return m
}

func (m *Metrics) TurnPersisted(role string) {
	if m != nil {
		m.TurnsPersisted.WithLabelValues(role).Inc()
	}
}

func (m *Metrics) AppendRetried() {
	if m != nil {
		m.AppendRetries.Inc()
	}
}

func (m *Metrics) AppendFailed() {
	if m != nil {
		m.AppendFailures.Inc()
	}
}

func (m *Metrics) ReadFailed() {
	if m != nil {
		m.ReadFailures.Inc()
	}
}

// EndpointCalled records the latency of one endpoint call and whether it failed.
func (m *Metrics) EndpointCalled(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.EndpointLatency.Observe(elapsed.Seconds())
	if err != nil {
		m.EndpointErrors.Inc()
	}
}

func (m *Metrics) ConversationConflict() {
	if m != nil {
		m.Conflicts.Inc()
	}
}
