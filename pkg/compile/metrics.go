// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package compile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instrumentation of the compile driver.
type Metrics struct {
	CompileRuns        prometheus.Counter
	CompileSteps       prometheus.Counter
	FullRebuilds       prometheus.Counter
	InvalidatedClasses prometheus.Counter
	ClosureRounds      prometheus.Histogram
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	ReadSeconds        prometheus.Histogram
	WriteSeconds       prometheus.Histogram
}

// NewMetrics registers the driver metrics with the given registerer.
// A nil registerer uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		CompileRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "incr_compile_runs_total",
			Help: "Number of driver invocations.",
		}),
		CompileSteps: factory.NewCounter(prometheus.CounterOpts{
			Name: "incr_compile_steps_total",
			Help: "Number of partial compile steps across all runs.",
		}),
		FullRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Name: "incr_full_rebuilds_total",
			Help: "Number of runs that fell back to a full rebuild.",
		}),
		InvalidatedClasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "incr_invalidated_classes_total",
			Help: "Number of classes invalidated across all runs.",
		}),
		ClosureRounds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "incr_closure_rounds",
			Help:    "Transitive closure depth per invalidation.",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "incr_analysis_cache_hits_total",
			Help: "Analysis store cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "incr_analysis_cache_misses_total",
			Help: "Analysis store cache misses.",
		}),
		ReadSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "incr_analysis_read_seconds",
			Help:    "Time to load the previous analysis.",
			Buckets: prometheus.DefBuckets,
		}),
		WriteSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "incr_analysis_write_seconds",
			Help:    "Time to persist the analysis.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
