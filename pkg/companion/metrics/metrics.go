// Package metrics exposes Prometheus metrics for the companion gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// Conversation metrics
	ConversationsActive    prometheus.Gauge
	ConversationsTotal     *prometheus.CounterVec
	ConversationDuration   prometheus.Histogram
	TurnsTotal             *prometheus.CounterVec
	TurnDuration           prometheus.Histogram
	InsightFailuresTotal   prometheus.Counter
	RecognitionErrorsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "companion"
	}

	registry := prometheus.NewRegistry()

	conversationsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations_active",
			Help:      "Number of conversations currently in progress",
		},
	)

	conversationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_total",
			Help:      "Total number of conversations by end reason",
		},
		[]string{"reason"},
	)

	conversationDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversation_duration_seconds",
			Help:      "Conversation duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 180, 300, 600},
		},
	)

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of assistant turns by outcome",
		},
		[]string{"outcome"},
	)

	turnDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Assistant turn duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	insightFailuresTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insight_failures_total",
			Help:      "Total number of failed insight generations",
		},
	)

	recognitionErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_errors_total",
			Help:      "Total number of recognition engine errors by code",
		},
		[]string{"code"},
	)

	registry.MustRegister(
		conversationsActive,
		conversationsTotal,
		conversationDuration,
		turnsTotal,
		turnDuration,
		insightFailuresTotal,
		recognitionErrorsTotal,
	)

	return &Metrics{
		registry:               registry,
		ConversationsActive:    conversationsActive,
		ConversationsTotal:     conversationsTotal,
		ConversationDuration:   conversationDuration,
		TurnsTotal:             turnsTotal,
		TurnDuration:           turnDuration,
		InsightFailuresTotal:   insightFailuresTotal,
		RecognitionErrorsTotal: recognitionErrorsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordConversationStart records a new conversation starting.
func (m *Metrics) RecordConversationStart() {
	m.ConversationsActive.Inc()
}

// RecordConversationEnd records a conversation ending.
func (m *Metrics) RecordConversationEnd(reason string, duration time.Duration) {
	m.ConversationsActive.Dec()
	m.ConversationsTotal.WithLabelValues(reason).Inc()
	m.ConversationDuration.Observe(duration.Seconds())
}

// RecordTurn records a completed assistant turn.
func (m *Metrics) RecordTurn(outcome string, duration time.Duration) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(duration.Seconds())
}

// RecordInsightFailure records a failed insight generation.
func (m *Metrics) RecordInsightFailure() {
	m.InsightFailuresTotal.Inc()
}

// RecordRecognitionError records a recognition engine error.
func (m *Metrics) RecordRecognitionError(code string) {
	if code == "" {
		code = "unknown"
	}
	m.RecognitionErrorsTotal.WithLabelValues(code).Inc()
}
