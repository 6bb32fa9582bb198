package query

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/scanline/config"
)

// Config represents the complete engine configuration.
type Config struct {
	// Storage defines the key-space geometry and tables.
	Storage StorageConfig `yaml:"storage"`

	// Query holds the process-wide scan defaults per-query overrides
	// resolve against.
	Query QueryConfig `yaml:"query"`

	// Sink bounds one in-flight result.
	Sink SinkConfig `yaml:"sink"`
}

// StorageConfig defines the key-space geometry and tables.
type StorageConfig struct {
	// SaltBuckets is the number of parallel key-space partitions.
	SaltBuckets int `yaml:"salt_buckets"`

	// RowSpan is the time width of one raw storage row.
	RowSpan time.Duration `yaml:"row_span"`

	// RawTable is the raw-tier table name.
	RawTable string `yaml:"raw_table"`
}

// QueryConfig holds process-wide scan defaults.
type QueryConfig struct {
	// ExpansionLimit caps server-side filter literal expansion.
	ExpansionLimit int `yaml:"expansion_limit"`

	// RowsPerScan is the store fetch batch size.
	RowsPerScan int `yaml:"rows_per_scan"`

	// EnableFuzzyFilter toggles fuzzy row-key filter pushdown.
	EnableFuzzyFilter bool `yaml:"enable_fuzzy_filter"`

	// ReverseScan flips the scan direction.
	ReverseScan bool `yaml:"reverse_scan"`

	// MultiGetLimit is the multi-get cardinality ceiling.
	MultiGetLimit int `yaml:"multiget_limit"`

	// MultiGetBatch is the number of keys per MultiGet round trip.
	MultiGetBatch int `yaml:"multiget_batch"`

	// SkipUnresolvedTagKeys drops rows with unknown tag key UIDs.
	SkipUnresolvedTagKeys bool `yaml:"skip_unresolved_tagks"`

	// SkipUnresolvedTagValues drops rows with unknown tag value UIDs.
	SkipUnresolvedTagValues bool `yaml:"skip_unresolved_tagvs"`

	// SkipUnresolvedMetric emits an empty result for unknown metrics.
	SkipUnresolvedMetric bool `yaml:"skip_unresolved_metric"`

	// SequenceSpan bounds how much time one fetch cycle may cover before
	// a worker pauses. Zero disables sequence boundaries.
	SequenceSpan time.Duration `yaml:"sequence_span"`

	// RollupUsage is the default rollup mode: raw, fallback, nofallback.
	RollupUsage string `yaml:"rollup_usage"`

	// EnableSummarySketch keeps a quantile sketch per accumulated summary
	// bucket in push mode and reports bucket percentiles with the result.
	EnableSummarySketch bool `yaml:"enable_summary_sketch"`

	// CloseTimeout is how long Close waits for in-flight workers.
	CloseTimeout time.Duration `yaml:"close_timeout"`
}

// SinkConfig bounds one in-flight result.
type SinkConfig struct {
	// MaxSeries is the series ceiling before the sink reports full.
	MaxSeries int `yaml:"max_series"`

	// MaxPoints is the value ceiling before the sink reports full.
	MaxPoints int `yaml:"max_points"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			SaltBuckets: config.DefaultSaltBuckets,
			RowSpan:     config.DefaultRowSpan,
			RawTable:    config.DefaultRawTable,
		},
		Query: QueryConfig{
			ExpansionLimit:      config.DefaultExpansionLimit,
			RowsPerScan:         config.DefaultRowsPerScan,
			MultiGetLimit:       config.DefaultMaxMultiGetCardinality,
			MultiGetBatch:       config.DefaultMultiGetBatch,
			RollupUsage:         "raw",
			EnableSummarySketch: config.DefaultEnableSummarySketch,
			CloseTimeout:        config.DefaultCloseTimeout,
		},
		Sink: SinkConfig{
			MaxSeries: config.DefaultMaxSeriesPerResult,
			MaxPoints: config.DefaultMaxPointsPerResult,
		},
	}
}

// Load reads a config file, applying defaults for unset values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Storage.SaltBuckets < 1 || c.Storage.SaltBuckets > 256 {
		return fmt.Errorf("storage.salt_buckets must be in [1,256], got %d", c.Storage.SaltBuckets)
	}
	if c.Storage.RowSpan <= 0 {
		return fmt.Errorf("storage.row_span must be positive, got %s", c.Storage.RowSpan)
	}
	if c.Storage.RawTable == "" {
		return fmt.Errorf("storage.raw_table must be set")
	}
	if c.Query.ExpansionLimit < 1 {
		return fmt.Errorf("query.expansion_limit must be positive, got %d", c.Query.ExpansionLimit)
	}
	if c.Query.RowsPerScan < 1 {
		return fmt.Errorf("query.rows_per_scan must be positive, got %d", c.Query.RowsPerScan)
	}
	if c.Query.MultiGetLimit < 0 {
		return fmt.Errorf("query.multiget_limit must be non-negative, got %d", c.Query.MultiGetLimit)
	}
	if c.Query.MultiGetBatch < 1 {
		return fmt.Errorf("query.multiget_batch must be positive, got %d", c.Query.MultiGetBatch)
	}
	if _, err := ParseRollupUsage(c.Query.RollupUsage); err != nil {
		return fmt.Errorf("query.rollup_usage: %w", err)
	}
	if c.Sink.MaxSeries < 1 || c.Sink.MaxPoints < 1 {
		return fmt.Errorf("sink limits must be positive")
	}
	return nil
}
