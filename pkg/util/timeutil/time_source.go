// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package timeutil

import (
	"time"

	"github.com/cockroachdb/rangelocator/pkg/util/syncutil"
)

// TimeSource is used to interact with clocks. Generally exposed for testing.
type TimeSource interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeSource is a TimeSource using the system clock.
type DefaultTimeSource struct{}

var _ TimeSource = DefaultTimeSource{}

// Now returns timeutil.Now().
func (DefaultTimeSource) Now() time.Time {
	return Now()
}

// Since implements the TimeSource interface.
func (DefaultTimeSource) Since(t time.Time) time.Duration {
	return Since(t)
}

// ManualTime is a TimeSource whose time only moves when told to.
type ManualTime struct {
	mu struct {
		syncutil.Mutex
		now time.Time
	}
}

var _ TimeSource = (*ManualTime)(nil)

// NewManualTime constructs a ManualTime reading initialTime.
func NewManualTime(initialTime time.Time) *ManualTime {
	m := &ManualTime{}
	m.mu.now = initialTime
	return m
}

// Now implements the TimeSource interface.
func (m *ManualTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.now
}

// Since implements the TimeSource interface.
func (m *ManualTime) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

// Advance moves the clock forward by d.
func (m *ManualTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mu.now = m.mu.now.Add(d)
}
