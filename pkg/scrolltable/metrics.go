package scrolltable

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoadsTotal counts finished page loads by outcome.
	LoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrolltable_loads_total",
			Help: "Total number of page loads by outcome",
		},
		[]string{"outcome"}, // "success", "empty", "error", "stale", "suppressed"
	)

	// RecordsTotal counts dataset mutations by operation.
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrolltable_records_total",
			Help: "Total number of records appended, prepended or removed",
		},
		[]string{"op"}, // "append", "prepend", "remove"
	)

	// TriggerChecks counts visibility checks by result.
	TriggerChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrolltable_trigger_checks_total",
			Help: "Total number of sentinel visibility checks by result",
		},
		[]string{"result"}, // "fired", "below_fold", "hidden"
	)
)
