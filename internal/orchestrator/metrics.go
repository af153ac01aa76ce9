package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/fathom-train/internal/model"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_runs_total",
			Help: "Total number of training runs by final status.",
		},
		[]string{"status"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fathom_stage_seconds",
			Help:    "Time spent in each pipeline stage, in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	lastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fathom_last_run_timestamp_seconds",
			Help: "Unix time the most recent training run finished.",
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(stageDuration)
	prometheus.MustRegister(lastRunTimestamp)

	for _, status := range []string{model.StatusCompleted, model.StatusFailed} {
		runsTotal.WithLabelValues(status)
	}
}
