package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printflow",
			Subsystem: "reminder",
			Name:      "deliveries_total",
			Help:      "Reminder deliveries per channel and result.",
		},
		[]string{"channel", "result"},
	)

	DispatchPassesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "printflow",
			Subsystem: "reminder",
			Name:      "dispatch_passes_total",
			Help:      "Completed scheduler passes.",
		},
	)

	StageMatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "printflow",
			Subsystem: "reminder",
			Name:      "stage_matches_total",
			Help:      "Stage-based reminders armed by a project status change.",
		},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printflow",
			Subsystem: "reminder",
			Name:      "transitions_total",
			Help:      "Acknowledgment actions per action and result.",
		},
		[]string{"action", "result"},
	)
)

// Transition records the outcome of a snooze, complete, cancel, pause or resume.
func Transition(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	TransitionsTotal.WithLabelValues(action, result).Inc()
}
