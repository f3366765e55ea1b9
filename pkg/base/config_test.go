// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package base

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestParseConfig(t *testing.T) {
	datadriven.RunTest(t, "testdata/parse", func(t *testing.T, d *datadriven.TestData) string {
		c, err := ParseConfig([]byte(d.Input))
		if err != nil {
			return "ERROR: " + err.Error() + "\n"
		}
		b, err := yaml.Marshal(&c)
		if err != nil {
			t.Fatal(err)
		}
		return string(b)
	})
}

func TestDefaultConfigValid(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	require.Zero(t, c.RangeCache.MaxEntryAge)
	require.Empty(t, c.MetaStore.Dir)
}

func TestRangeCacheConfigInitDefaults(t *testing.T) {
	var c RangeCacheConfig
	c.InitDefaults()
	require.NoError(t, c.Validate())
	// Zero retries and no expiry are meaningful and kept.
	expected := DefaultConfig().RangeCache
	expected.LookupRetries = 0
	require.Equal(t, expected, c)

	// Set fields are kept, and the backoff bounds stay ordered.
	c = RangeCacheConfig{Size: 10, RetryInitialBackoff: 2 * DefaultRetryMaxBackoff}
	c.InitDefaults()
	require.NoError(t, c.Validate())
	require.Equal(t, 10, c.Size)
	require.Equal(t, c.RetryInitialBackoff, c.RetryMaxBackoff)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("range-cache:\n  size: 10\n"), 0644))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 10, c.RangeCache.Size)
	require.Equal(t, DefaultLookupTimeout, c.RangeCache.LookupTimeout)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("range-cache:\n  size: -1\n"), 0644))
	_, err = LoadConfig(path)
	require.ErrorContains(t, err, "size must be positive")
	require.ErrorContains(t, err, path)
}
