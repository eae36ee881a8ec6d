package esia

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "esia",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Requests sent to the ESIA provider by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "esia",
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Latency of requests sent to the ESIA provider.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	signDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "esia",
			Subsystem: "client",
			Name:      "sign_duration_seconds",
			Help:      "Time spent producing client_secret signatures.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"outcome"},
	)

	registerOnce sync.Once
	registerErr  error
)

// RegisterMetrics registers the client collectors with reg. Only the first
// call has an effect.
func RegisterMetrics(reg prometheus.Registerer) error {
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{requestsTotal, requestDuration, signDuration} {
			if err := reg.Register(c); err != nil {
				registerErr = err
				return
			}
		}
	})
	return registerErr
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case isForbidden(err):
		return "forbidden"
	default:
		return "error"
	}
}
