// Package observability provides prometheus metrics and OpenTelemetry tracing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects chat pipeline metrics. A nil *Metrics records nothing.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	metrics.TurnStarted()
//	defer metrics.TurnFinished("completed", time.Since(start))
type Metrics struct {
	// TurnsTotal counts finished turns.
	// Labels: status (completed|errored|cancelled)
	TurnsTotal *prometheus.CounterVec

	// TurnDuration measures turn latency in seconds.
	// Labels: status
	TurnDuration *prometheus.HistogramVec

	// ActiveTurns is the number of turns currently holding a slot.
	ActiveTurns prometheus.Gauge

	// ChatsTotal counts turns that started a new conversation.
	// Labels: configuration
	ChatsTotal *prometheus.CounterVec

	// PromptsTotal counts model executions.
	// Labels: status (success|error)
	PromptsTotal *prometheus.CounterVec

	// EventsTotal counts stream events.
	// Labels: type
	EventsTotal *prometheus.CounterVec

	// TokensTotal counts consumed tokens.
	// Labels: llm
	TokensTotal *prometheus.CounterVec

	// ToolCallsTotal counts tool executions.
	// Labels: tool, status (success|error)
	ToolCallsTotal *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_turns_total",
				Help: "Total number of chat turns by final status",
			},
			[]string{"status"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_turn_duration_seconds",
				Help:    "Duration of chat turns in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),

		ActiveTurns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "parley_active_turns",
				Help: "Current number of running chat turns",
			},
		),

		ChatsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_chats_total",
				Help: "Total number of new conversations by configuration",
			},
			[]string{"configuration"},
		),

		PromptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_prompts_total",
				Help: "Total number of model executions by status",
			},
			[]string{"status"},
		),

		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_stream_events_total",
				Help: "Total number of stream events by type",
			},
			[]string{"type"},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_tokens_total",
				Help: "Total number of tokens consumed by llm",
			},
			[]string{"llm"},
		),

		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_tool_calls_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
	}
}

// TurnStarted marks a turn as running.
func (m *Metrics) TurnStarted() {
	if m == nil {
		return
	}
	m.ActiveTurns.Inc()
}

// TurnFinished records the end of a running turn.
func (m *Metrics) TurnFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveTurns.Dec()
	m.TurnsTotal.WithLabelValues(status).Inc()
	m.TurnDuration.WithLabelValues(status).Observe(d.Seconds())
}

// Chat counts a new conversation.
func (m *Metrics) Chat(configuration string) {
	if m == nil {
		return
	}
	m.ChatsTotal.WithLabelValues(configuration).Inc()
}

// Prompt counts a model execution.
func (m *Metrics) Prompt(status string) {
	if m == nil {
		return
	}
	m.PromptsTotal.WithLabelValues(status).Inc()
}

// Event counts a stream event.
func (m *Metrics) Event(eventType string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(eventType).Inc()
}

// Tokens adds n consumed tokens for llm.
func (m *Metrics) Tokens(llm string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensTotal.WithLabelValues(llm).Add(float64(n))
}

// ToolCall counts a tool execution.
func (m *Metrics) ToolCall(tool string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}
