package preheat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "preheat",
			Name:      "cycles_total",
			Help:      "Orchestrator evaluation cycles per zone",
		},
		[]string{"zone"},
	)

	metricSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "preheat",
			Name:      "sessions_recorded_total",
			Help:      "Heating sessions accepted into the thermal model",
		},
		[]string{"zone"},
	)

	metricAnticipating = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "preheat",
			Name:      "anticipation_active",
			Help:      "1 while a zone is preheating ahead of a transition",
		},
		[]string{"zone"},
	)

	metricMargin = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "preheat",
			Name:      "effective_margin",
			Help:      "Effective safety margin applied to time estimates",
		},
		[]string{"zone"},
	)

	metricMinutesNeeded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "preheat",
			Name:      "minutes_needed",
			Help:      "Estimated minutes to reach the next scheduled setpoint",
		},
		[]string{"zone"},
	)

	metricCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "preheat",
			Name:      "commands_sent_total",
			Help:      "Setpoint commands published per zone",
		},
		[]string{"zone", "status"},
	)

	metricAdvisorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "preheat",
			Name:      "advisor_calls_total",
			Help:      "Advisor invocations per zone",
		},
		[]string{"zone", "provider", "status"},
	)
)
