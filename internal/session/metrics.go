package session

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for session start outcomes.
const (
	statusStarted = "started"
)

var (
	sessionStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fathom_session_start_seconds",
			Help:    "Duration from browser launch to an active Marionette session, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fathom_active_sessions",
			Help: "Number of currently running controlled browser sessions.",
		},
	)

	sessionCleanupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fathom_session_cleanup_seconds",
			Help:    "Duration of session teardown and browser process termination, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	sessionStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_session_starts_total",
			Help: "Total number of session start attempts by outcome.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(sessionStartDuration)
	prometheus.MustRegister(activeSessions)
	prometheus.MustRegister(sessionCleanupDuration)
	prometheus.MustRegister(sessionStartsTotal)

	// Pre-initialize label combinations so they are exported with value 0.
	for _, status := range []string{statusStarted, ReasonInvalidBinary, ReasonHandshakeFailed} {
		sessionStartsTotal.WithLabelValues(status)
	}
}
