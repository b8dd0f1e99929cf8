package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Bucket grid defaults. Every source is aligned onto fixed-width buckets
// anchored to a reference epoch; the upstream data loggers write at roughly
// 10-minute cadence, so that is the default width.
const (
	DefaultBucketWidth = 10 * time.Minute
)

// DefaultEpoch anchors the bucket grid. 1900-01-01 is the anchor the source
// tables have always been bucketed against, so it must not change for
// existing data.
var DefaultEpoch = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// Read timeouts and paging
const (
	SourceReadTimeout = 30 * time.Second
	DefaultPageSize   = 1000
	DefaultBatchSize  = 1000
)

// Report cache sizing
const (
	CacheNumCounters = 10_000
	CacheMaxCost     = 64 << 20 // 64 MB of cached rows
	CacheBufferItems = 64
	RowCostBytes     = 100 // rough per-row cost estimate for cache accounting
)

// Audit notifier buffering
const (
	AuditQueueSize = 256
)

// Config holds the tunable engine settings. Zero values fall back to the
// defaults above; the grid settings are fixed for the lifetime of a process.
type Config struct {
	// BucketWidthMinutes is the alignment bucket width.
	BucketWidthMinutes int `yaml:"bucket_width_minutes"`

	// Epoch is the grid anchor in RFC 3339 (empty = 1900-01-01T00:00:00Z).
	Epoch string `yaml:"epoch"`

	// BatchSize is the default streamed chunk size.
	BatchSize int `yaml:"batch_size"`

	// PageSize bounds each per-source page fetched while streaming.
	PageSize int `yaml:"page_size"`

	// SourceReadTimeoutSeconds bounds each individual source read.
	SourceReadTimeoutSeconds int `yaml:"source_read_timeout_seconds"`
}

// Default returns a Config populated with the package defaults.
func Default() Config {
	return Config{
		BucketWidthMinutes:       int(DefaultBucketWidth / time.Minute),
		BatchSize:                DefaultBatchSize,
		PageSize:                 DefaultPageSize,
		SourceReadTimeoutSeconds: int(SourceReadTimeout / time.Second),
	}
}

// Load reads a YAML config file and fills unset fields with defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// BucketWidth returns the configured bucket width as a duration.
func (c Config) BucketWidth() time.Duration {
	if c.BucketWidthMinutes <= 0 {
		return DefaultBucketWidth
	}
	return time.Duration(c.BucketWidthMinutes) * time.Minute
}

// EpochTime parses the configured epoch, defaulting to DefaultEpoch.
func (c Config) EpochTime() (time.Time, error) {
	if c.Epoch == "" {
		return DefaultEpoch, nil
	}
	t, err := time.Parse(time.RFC3339, c.Epoch)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch %q: %w", c.Epoch, err)
	}
	return t.UTC(), nil
}

// SourceTimeout returns the per-source read timeout.
func (c Config) SourceTimeout() time.Duration {
	if c.SourceReadTimeoutSeconds <= 0 {
		return SourceReadTimeout
	}
	return time.Duration(c.SourceReadTimeoutSeconds) * time.Second
}
