// Copyright 2025 Certen Protocol
//
// Prometheus collectors for one replica process. Registered against a
// caller-supplied prometheus.Registerer rather than the global default
// registry, the way the teacher's go.mod dependency on
// prometheus/client_golang is intended to be used in a multi-instance
// test process (see also luxfi-consensus/metrics.NewAverager, which takes
// the same reg prometheus.Registerer parameter and returns the collector
// already registered).

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors is every counter/gauge/histogram one popnode replica
// exposes. Construct with New and pass into the consensus/mempool/
// rewards components that feed it.
type Collectors struct {
	Height prometheus.Gauge
	View   prometheus.Gauge

	MempoolUnverified prometheus.Gauge
	MempoolVerified   prometheus.Gauge

	VerifyLatency prometheus.Histogram

	Slashes      *prometheus.CounterVec // labeled by class
	Equivocation prometheus.Counter
	ViewChanges  prometheus.Counter
	Commits      prometheus.Counter
}

// New creates every collector and registers it against reg. Returns an
// error (rather than panicking, unlike prometheus.MustRegister) the first
// time any Register call fails, so callers can decide how to react —
// e.g. a second replica in the same test process sharing a registry by
// mistake.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pop_height",
			Help: "Highest committed block height.",
		}),
		View: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pop_view",
			Help: "Current view number at the highest in-progress height.",
		}),
		MempoolUnverified: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pop_mempool_unverified",
			Help: "Proofs held in the unverified mempool tier.",
		}),
		MempoolVerified: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pop_mempool_verified",
			Help: "Proofs held in the verified, batchable mempool tier.",
		}),
		VerifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pop_verify_latency_seconds",
			Help:    "Wall-clock time spent in Verifier.Verify per proof.",
			Buckets: prometheus.DefBuckets,
		}),
		Slashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pop_slashes_total",
			Help: "Total slash events, labeled by Byzantine class.",
		}, []string{"class"}),
		Equivocation: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pop_equivocations_total",
			Help: "Total equivocating votes observed and verified.",
		}),
		ViewChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pop_view_changes_total",
			Help: "Total view changes completed.",
		}),
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pop_commits_total",
			Help: "Total blocks committed.",
		}),
	}

	for _, coll := range []prometheus.Collector{
		c.Height, c.View, c.MempoolUnverified, c.MempoolVerified,
		c.VerifyLatency, c.Slashes, c.Equivocation, c.ViewChanges, c.Commits,
	} {
		if err := reg.Register(coll); err != nil {
			return nil, err
		}
	}
	return c, nil
}
