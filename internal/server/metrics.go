package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/harborai/boost/internal/session"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boost_http_requests_total",
		Help: "HTTP requests by method, path pattern and status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "boost_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boost_completions_total",
		Help: "Chat completion requests by module and outcome.",
	}, []string{"module", "outcome"})
)

// registerSessionGauge exposes the live session count off the registry.
// Registration is best-effort so a second server in the same process does
// not collide.
func registerSessionGauge(store *session.Store) {
	_ = prometheus.DefaultRegisterer.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "boost_sessions_active",
			Help: "Sessions currently registered.",
		},
		func() float64 { return float64(store.Len()) },
	))
}
