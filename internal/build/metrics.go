package build

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/fathom-train/internal/model"
)

const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
)

var (
	buildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fathom_build_seconds",
			Help:    "Duration of bundler invocations, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	buildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_builds_total",
			Help: "Total number of bundler invocations by stage and outcome.",
		},
		[]string{"stage", "status"},
	)
)

func init() {
	prometheus.MustRegister(buildDuration)
	prometheus.MustRegister(buildsTotal)

	for _, stage := range []string{model.StageBuildSide, model.StageBuildPrimary} {
		for _, status := range []string{statusSucceeded, statusFailed} {
			buildsTotal.WithLabelValues(stage, status)
		}
	}
}
