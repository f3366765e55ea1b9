// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package base holds the configuration shared by the location cache, the
// meta store and the command-line tools.
package base

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v2"
)

// Config is the top-level configuration.
type Config struct {
	RangeCache RangeCacheConfig `yaml:"range-cache"`
	MetaStore  MetaStoreConfig  `yaml:"meta-store"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// RangeCacheConfig configures a partition location cache.
type RangeCacheConfig struct {
	// Size is the maximum number of cached descriptors. Once exceeded, the
	// least recently inserted descriptors are evicted.
	Size int `yaml:"size"`
	// MaxEntryAge is how long a cached descriptor may serve lookups. Zero
	// disables expiry.
	MaxEntryAge time.Duration `yaml:"max-entry-age"`
	// LookupTimeout bounds a meta lookup including its retries.
	LookupTimeout time.Duration `yaml:"lookup-timeout"`
	// LookupRetries is the number of retries of a failed meta lookup when
	// the caller requested retries.
	LookupRetries int `yaml:"lookup-retries"`
	// RetryInitialBackoff and RetryMaxBackoff bound the exponential backoff
	// between retries.
	RetryInitialBackoff time.Duration `yaml:"retry-initial-backoff"`
	RetryMaxBackoff     time.Duration `yaml:"retry-max-backoff"`
}

// MetaStoreConfig configures the meta table store.
type MetaStoreConfig struct {
	// Dir is the directory of the store. Empty means in-memory.
	Dir string `yaml:"dir,omitempty"`
	// Prefetch is the number of neighbouring partitions returned by a
	// lookup in addition to the one containing the key.
	Prefetch int `yaml:"prefetch"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity  int32 `yaml:"verbosity"`
	Redactable bool  `yaml:"redactable"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		RangeCache: RangeCacheConfig{
			Size:                DefaultRangeCacheSize,
			LookupTimeout:       DefaultLookupTimeout,
			LookupRetries:       DefaultLookupRetries,
			RetryInitialBackoff: DefaultRetryInitialBackoff,
			RetryMaxBackoff:     DefaultRetryMaxBackoff,
		},
		MetaStore: MetaStoreConfig{
			Prefetch: DefaultRangeLookupPrefetch,
		},
		Metrics: MetricsConfig{
			Namespace: DefaultMetricsNamespace,
		},
	}
}

// ParseConfig overlays the YAML document in data onto the defaults and
// validates the result. Unknown fields are rejected.
func ParseConfig(data []byte) (Config, error) {
	c := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "parsing configuration")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadConfig reads and parses the configuration file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading configuration %s", path)
	}
	c, err := ParseConfig(data)
	return c, errors.Wrapf(err, "in %s", path)
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if err := c.RangeCache.Validate(); err != nil {
		return errors.Wrap(err, "range-cache")
	}
	if c.MetaStore.Prefetch < 0 {
		return errors.Newf("meta-store: prefetch must not be negative, got %d", c.MetaStore.Prefetch)
	}
	if c.Log.Verbosity < 0 {
		return errors.Newf("log: verbosity must not be negative, got %d", c.Log.Verbosity)
	}
	if c.Metrics.Namespace == "" {
		return errors.New("metrics: namespace must be set")
	}
	return nil
}

// InitDefaults replaces the zero values of fields for which zero is not
// usable with their defaults. MaxEntryAge and LookupRetries are left alone:
// zero is meaningful for them.
func (c *RangeCacheConfig) InitDefaults() {
	if c.Size == 0 {
		c.Size = DefaultRangeCacheSize
	}
	if c.LookupTimeout == 0 {
		c.LookupTimeout = DefaultLookupTimeout
	}
	if c.RetryInitialBackoff == 0 {
		c.RetryInitialBackoff = DefaultRetryInitialBackoff
	}
	if c.RetryMaxBackoff == 0 {
		c.RetryMaxBackoff = DefaultRetryMaxBackoff
		if c.RetryMaxBackoff < c.RetryInitialBackoff {
			c.RetryMaxBackoff = c.RetryInitialBackoff
		}
	}
}

// Validate checks that the cache configuration values are usable.
func (c *RangeCacheConfig) Validate() error {
	switch {
	case c.Size <= 0:
		return errors.Newf("size must be positive, got %d", c.Size)
	case c.MaxEntryAge < 0:
		return errors.Newf("max-entry-age must not be negative, got %s", c.MaxEntryAge)
	case c.LookupTimeout <= 0:
		return errors.Newf("lookup-timeout must be positive, got %s", c.LookupTimeout)
	case c.LookupRetries < 0:
		return errors.Newf("lookup-retries must not be negative, got %d", c.LookupRetries)
	case c.RetryInitialBackoff <= 0:
		return errors.Newf("retry-initial-backoff must be positive, got %s", c.RetryInitialBackoff)
	case c.RetryMaxBackoff < c.RetryInitialBackoff:
		return errors.Newf("retry-max-backoff %s is below retry-initial-backoff %s",
			c.RetryMaxBackoff, c.RetryInitialBackoff)
	}
	return nil
}
