// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rangecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsSubsystem = "rangecache"

// Invalidation outcomes, used as the value of the "outcome" label.
const (
	invalidationApplied = "applied"
	invalidationNoop    = "noop"
)

// Metrics instruments a RangeCache.
type Metrics struct {
	// Lookups counts calls to Locate.
	Lookups prometheus.Counter
	// CacheHits and CacheMisses count Locate calls served from the cache and
	// those that needed a meta lookup, respectively.
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	// CoalescedLookups counts misses that joined a meta lookup already in
	// flight instead of issuing their own.
	CoalescedLookups prometheus.Counter
	// LookupErrors counts failed meta lookups, after retries.
	LookupErrors prometheus.Counter
	// Invalidations counts invalidation requests by outcome.
	Invalidations *prometheus.CounterVec
	// Evictions counts entries dropped to respect the size bound.
	Evictions prometheus.Counter
	// Entries is the number of cached descriptors.
	Entries prometheus.Gauge
	// LookupLatency measures meta lookups, retries included.
	LookupLatency prometheus.Histogram
}

// NewMetrics creates the cache metrics and registers them with reg. A nil reg
// creates unregistered metrics.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Lookups: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "lookups_total",
			Help:      "Number of partition location requests.",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "hits_total",
			Help:      "Number of partition location requests served from the cache.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "misses_total",
			Help:      "Number of partition location requests that required a meta lookup.",
		}),
		CoalescedLookups: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "coalesced_lookups_total",
			Help:      "Number of cache misses served by a meta lookup issued for another request.",
		}),
		LookupErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "lookup_errors_total",
			Help:      "Number of meta lookups that failed after exhausting retries.",
		}),
		Invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "invalidations_total",
			Help:      "Number of invalidation requests, by outcome.",
		}, []string{"outcome"}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "evictions_total",
			Help:      "Number of descriptors evicted to respect the cache size.",
		}),
		Entries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "entries",
			Help:      "Number of cached partition descriptors.",
		}),
		LookupLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "lookup_duration_seconds",
			Help:      "Latency of meta lookups, including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}),
	}
}
