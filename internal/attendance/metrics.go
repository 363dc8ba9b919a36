package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	markOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_mark_outcomes_total",
		Help: "Successful mark submissions by result type.",
	}, []string{"type"})

	gateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_gate_failures_total",
		Help: "Submissions blocked by a validation gate or lifecycle rule.",
	}, []string{"kind"})

	suspiciousMarks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_suspicious_total",
		Help: "Accepted submissions that needed a photo override.",
	})
)
