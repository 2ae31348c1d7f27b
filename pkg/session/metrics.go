package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the session's prometheus collectors.
type Metrics struct {
	Runs      prometheus.Counter
	Failures  prometheus.Counter
	CacheHits prometheus.Counter
	Shared    prometheus.Counter
	Batches   *prometheus.CounterVec
	Duration  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg, if set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otb",
			Subsystem: "toolchain",
			Name:      "runs_total",
			Help:      "Toolchain invocations.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otb",
			Subsystem: "toolchain",
			Name:      "failures_total",
			Help:      "Failed toolchain invocations.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otb",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Bitstreams served from the cache.",
		}),
		Shared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otb",
			Subsystem: "toolchain",
			Name:      "shared_total",
			Help:      "Realizations shared with a concurrent identical design.",
		}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otb",
			Subsystem: "session",
			Name:      "batches_total",
			Help:      "Finished batches by outcome.",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "otb",
			Subsystem: "toolchain",
			Name:      "run_duration_seconds",
			Help:      "Toolchain invocation duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.Failures, m.CacheHits, m.Shared, m.Batches, m.Duration)
	}
	return m
}
