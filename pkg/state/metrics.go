package state

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations tracks state loads and saves by backend
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snow_state_operations_total",
			Help: "Total number of schema state operations",
		},
		[]string{"backend", "operation"}, // "file"|"redis", "load"|"save"
	)

	// Errors tracks state operation errors
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snow_state_errors_total",
			Help: "Total number of schema state operation errors",
		},
		[]string{"backend", "operation"},
	)
)
