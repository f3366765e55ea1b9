// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package util

import (
	"testing"
	"time"

	"github.com/cockroachdb/rangelocator/pkg/util/timeutil"
	"github.com/stretchr/testify/require"
)

func TestEveryN(t *testing.T) {
	testCases := []struct {
		t        time.Duration // time since start
		expected bool
	}{
		{0, true}, // the first event is always processed
		{0, false},
		{time.Second, false},
		{time.Minute - 1, false},
		{time.Minute, true},
		{time.Minute, false},
		{10 * time.Minute, true},
		{10*time.Minute + 59*time.Second, false},
		{11 * time.Minute, true},
	}
	start := timeutil.Now()
	en := Every(time.Minute)
	for _, tc := range testCases {
		require.Equal(t, tc.expected, en.ShouldProcess(start.Add(tc.t)), "at %s", tc.t)
	}

	var always EveryN
	require.True(t, always.ShouldProcess(start))
	require.True(t, always.ShouldProcess(start))
}
