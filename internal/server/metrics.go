package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the backend. Pass to components
// that need to record them.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ToolExecutions    *prometheus.CounterVec
	PolicyEvaluations *prometheus.CounterVec
	GrantActive       prometheus.Gauge
	ChatTurns         prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ward",
				Name:      "requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ward",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ToolExecutions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ward",
				Name:      "tool_executions_total",
				Help:      "Tool executions by tool, execution mode, and outcome",
			},
			[]string{"tool", "mode", "outcome"}, // outcome=success/policy_violation/error
		),
		PolicyEvaluations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ward",
				Name:      "policy_evaluations_total",
				Help:      "Policy evaluations by result",
			},
			[]string{"result"}, // result=allow/deny
		),
		GrantActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ward",
				Name:      "grant_active",
				Help:      "1 while a temporary grant is in force",
			},
		),
		ChatTurns: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "ward",
				Name:      "chat_turns_total",
				Help:      "Chat turns accepted",
			},
		),
	}
}
