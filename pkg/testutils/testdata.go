// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package testutils holds helpers shared by tests.
package testutils

import (
	"os"
	"path/filepath"
)

// TestFataler is the subset of testing.TB used by the helpers in this
// package.
type TestFataler interface {
	Fatalf(format string, args ...interface{})
	Helper()
}

// TestDataPath returns the path of a file or directory under the testdata
// directory of the package under test. It fails the test if the path does not
// exist.
func TestDataPath(t TestFataler, relative ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{"testdata"}, relative...)...)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("test data %s: %v", path, err)
	}
	return path
}
