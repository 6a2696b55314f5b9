package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medgen_loader_rows_total",
			Help: "Total rows processed by the loader, by dataset and operation.",
		},
		[]string{"dataset", "op"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medgen_loader_run_duration_seconds",
			Help:    "Duration of a complete loader run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"mode", "status"},
	)
)
