// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package base

import "time"

const (
	// DefaultRangeCacheSize is the default number of partition descriptors
	// kept by a location cache.
	DefaultRangeCacheSize = 1 << 16

	// DefaultLookupTimeout bounds a single meta lookup, including its
	// retries. Coalesced lookups are detached from the caller's context, so
	// this is the only bound they have.
	DefaultLookupTimeout = 10 * time.Second

	// DefaultLookupRetries is the number of times a failed meta lookup is
	// retried when the caller asks for retries.
	DefaultLookupRetries = 3

	// DefaultRetryInitialBackoff and DefaultRetryMaxBackoff bound the
	// exponential backoff between meta lookup retries.
	DefaultRetryInitialBackoff = 50 * time.Millisecond
	DefaultRetryMaxBackoff     = time.Second

	// DefaultRangeLookupPrefetch is the number of neighbouring partitions
	// returned along with the one containing a looked up key.
	DefaultRangeLookupPrefetch = 8

	// DefaultMetricsNamespace prefixes every exported metric.
	DefaultMetricsNamespace = "rangelocator"
)
