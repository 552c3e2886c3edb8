// Package metrics exposes Prometheus instruments for bearer credential
// extraction, verification and token store lookups.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExtractionsTotal counts credential extraction attempts.
	//
	// Example usage:
	// metrics.ExtractionsTotal.WithLabelValues("header", "ok").Inc()
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bearer_extractions_total",
			Help: "Number of bearer credential extractions by token source and result.",
		},
		[]string{"source", "result"},
	)

	// VerificationsTotal counts verification outcomes.
	//
	// Example usage:
	// metrics.VerificationsTotal.WithLabelValues("sqlite", "invalid_token").Inc()
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bearer_verifications_total",
			Help: "Number of bearer token verifications by store and result.",
		},
		[]string{"store", "result"},
	)

	// LookupDuration is a histogram of token store lookup latency.
	//
	// Example usage:
	// t := time.Now()
	// ...
	// metrics.LookupDuration.WithLabelValues("redis", "ok").Observe(time.Since(t).Seconds())
	LookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bearer_store_lookup_duration_seconds",
			Help:    "Token store lookup latency by store and result.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"store", "result"},
	)

	// ChallengeEncodeFailuresTotal counts challenges that could not be
	// rendered into a header value.
	ChallengeEncodeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bearer_challenge_encode_failures_total",
			Help: "Number of WWW-Authenticate challenges that failed to encode.",
		},
	)
)

// LookupResult maps a store error to the "result" label used by
// LookupDuration. notFound is the error's NotFound classification.
func LookupResult(err error, notFound bool) string {
	switch {
	case err == nil:
		return "ok"
	case notFound:
		return "not_found"
	default:
		return "error"
	}
}
