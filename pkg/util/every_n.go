// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package util holds small helpers shared across packages.
package util

import (
	"time"

	"github.com/cockroachdb/rangelocator/pkg/util/syncutil"
)

// EveryN rate limits spammy events: ShouldProcess returns true at most once
// per N. The zero value lets every event through.
//
// For log messages use log.EveryN, which also honors verbosity.
type EveryN struct {
	// N is the minimum duration between two processed events.
	N time.Duration

	mu struct {
		syncutil.Mutex
		lastProcessed time.Time
	}
}

// Every constructs an EveryN processing at most one event per n.
func Every(n time.Duration) EveryN {
	return EveryN{N: n}
}

// ShouldProcess returns whether at least N has passed since the last
// processed event, and if so records now as the last one.
func (e *EveryN) ShouldProcess(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.mu.lastProcessed.IsZero() && now.Sub(e.mu.lastProcessed) < e.N {
		return false
	}
	e.mu.lastProcessed = now
	return true
}
