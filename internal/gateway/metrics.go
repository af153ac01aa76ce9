package gateway

import "github.com/prometheus/client_golang/prometheus"

const statusCompleted = "completed"

var (
	scriptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fathom_script_seconds",
			Help:    "Duration of asynchronous script executions, in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	scriptExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_script_executions_total",
			Help: "Total number of script executions by outcome.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(scriptDuration)
	prometheus.MustRegister(scriptExecutions)

	for _, status := range []string{statusCompleted, ReasonTimeout, ReasonProtocol, ReasonCanceled} {
		scriptExecutions.WithLabelValues(status)
	}
}
