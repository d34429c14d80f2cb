// Package metrics exposes the pipeline's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "complyline_sweep_runs_total",
		Help: "Number of compliance sweep runs.",
	})

	FormsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "complyline_forms_created_total",
		Help: "Compliance forms created by sweeps.",
	})

	SweepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "complyline_sweep_errors_total",
		Help: "Per-agreement sweep failures, by stage.",
	}, []string{"stage"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "complyline_sweep_duration_seconds",
		Help:    "Wall time of a full sweep.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "complyline_dispatches_total",
		Help: "Donor dispatch attempts, by outcome.",
	}, []string{"outcome"})

	FormsFilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "complyline_forms_filled_total",
		Help: "Compliance forms submitted by officers.",
	})
)
