package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler names used as the "handler" label. Each route gets a fixed name so
// run IDs never reach a label value.
const (
	handlerHealthz  = "healthz"
	handlerStats    = "stats"
	handlerRunsList = "runs_list"
	handlerRunsGet  = "runs_get"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_http_requests_total",
			Help: "Requests served by the run history API, by handler, method and status code.",
		},
		[]string{"handler", "method", "code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fathom_http_request_duration_seconds",
			Help:    "Latency of run history API requests, in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"handler", "method"},
	)

	historyStoreUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fathom_history_store_up",
			Help: "1 if the last health check reached the run history database, 0 otherwise.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(historyStoreUp)
}

// instrument wraps a route handler with request counting and latency
// tracking under a fixed handler name.
func instrument(name string, h http.HandlerFunc) http.Handler {
	labels := prometheus.Labels{"handler": name}
	return promhttp.InstrumentHandlerDuration(
		httpRequestDuration.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(httpRequestsTotal.MustCurryWith(labels), h),
	)
}
