// Package metrics exposes the server's cache behavior as Prometheus
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters and histograms this server records.
type Metrics struct {
	Hits       prometheus.Counter
	Forwards   *prometheus.CounterVec
	StoreCalls prometheus.Counter
	TTL        prometheus.Histogram
}

// New registers and returns a fresh Metrics against reg. Pass
// prometheus.DefaultRegisterer to use the global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachepolicy_hits_total",
			Help: "Requests served from cache without contacting the origin.",
		}),
		Forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachepolicy_forwards_total",
			Help: "Requests forwarded to the origin, by reason.",
		}, []string{"reason"}),
		StoreCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachepolicy_store_writes_total",
			Help: "Origin responses written to the cache store.",
		}),
		TTL: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cachepolicy_stored_ttl_seconds",
			Help:    "Remaining freshness (time to live) of responses at the moment they were stored.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
	reg.MustRegister(m.Hits, m.Forwards, m.StoreCalls, m.TTL)
	return m
}
