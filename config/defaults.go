// Package config provides configuration defaults and utilities
// for the scanline query engine.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or per-query overrides.
package config

import "time"

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultSaltBuckets is the number of parallel key-space partitions a
	// metric's rows are spread across. One scan worker is created per
	// bucket per tier.
	// Override via config: storage.salt_buckets
	DefaultSaltBuckets = 8

	// DefaultRowSpan is the time width encoded by one raw-tier storage row.
	// Override via config: storage.row_span
	DefaultRowSpan = time.Hour

	// DefaultRawTable is the table holding raw (unaggregated) data.
	// Override via config: storage.raw_table
	DefaultRawTable = "scanline"
)

// =============================================================================
// Scan Defaults
// =============================================================================

const (
	// DefaultExpansionLimit caps the total number of literal tag values a
	// row-key server-side filter may expand to. Above this, matching for
	// the offending tag key is deferred to client-side resolution.
	// Override via config: query.expansion_limit
	// Per-query override key: OverrideExpansionLimit
	DefaultExpansionLimit = 4096

	// DefaultRowsPerScan is the number of rows requested per store fetch.
	// Override via config: query.rows_per_scan
	// Per-query override key: OverrideRowsPerScan
	DefaultRowsPerScan = 128

	// DefaultMaxMultiGetCardinality is the largest resolved series set that
	// is fetched with batched point gets instead of range scans.
	// Override via config: query.multiget_limit
	// Per-query override key: OverrideMultiGetLimit
	DefaultMaxMultiGetCardinality = 1024

	// DefaultMultiGetBatch is the number of keys per MultiGet round trip.
	// Override via config: query.multiget_batch
	DefaultMultiGetBatch = 1024

	// DefaultEnableSummarySketch keeps a quantile sketch per accumulated
	// summary bucket in push mode.
	// Override via config: query.enable_summary_sketch
	DefaultEnableSummarySketch = true
)

// =============================================================================
// Result Sink Defaults
// =============================================================================

const (
	// DefaultMaxSeriesPerResult is the series ceiling of one result sink.
	// When reached the sink reports full and backpressure kicks in.
	// Override via config: sink.max_series
	DefaultMaxSeriesPerResult = 100000

	// DefaultMaxPointsPerResult is the value ceiling of one result sink.
	// Override via config: sink.max_points
	DefaultMaxPointsPerResult = 10000000
)

// =============================================================================
// Close / Drain Defaults
// =============================================================================

const (
	// DefaultCloseTimeout is how long Close waits for in-flight workers.
	// After this timeout, remaining workers are abandoned.
	// Override via config: query.close_timeout
	DefaultCloseTimeout = 30 * time.Second

	// DefaultClosePollInterval is the initial backoff between drain checks
	// during Close. Doubles up to DefaultClosePollCap.
	DefaultClosePollInterval = 10 * time.Millisecond

	// DefaultClosePollCap bounds the drain check backoff.
	DefaultClosePollCap = 500 * time.Millisecond
)

// =============================================================================
// Per-Query Override Keys
// =============================================================================

// Per-query overrides arrive as string key/value pairs on the scan config
// and are resolved against the process defaults at coordinator reset.
const (
	// OverrideExpansionLimit caps server-side filter literal expansion.
	OverrideExpansionLimit = "query.expansion_limit"

	// OverrideRowsPerScan sets the store fetch batch size.
	OverrideRowsPerScan = "query.rows_per_scan"

	// OverrideEnableFuzzy toggles the fuzzy row-key filter pushdown.
	OverrideEnableFuzzy = "query.enable_fuzzy_filter"

	// OverrideReverse flips the scan direction.
	OverrideReverse = "query.reverse_scan"

	// OverrideMultiGetLimit sets the multi-get cardinality ceiling.
	OverrideMultiGetLimit = "query.multiget_limit"

	// OverrideSkipUnresolvedTagKeys drops rows whose tag key UIDs cannot
	// be resolved instead of failing the query.
	OverrideSkipUnresolvedTagKeys = "query.skip_unresolved_tagks"

	// OverrideSkipUnresolvedTagValues drops rows whose tag value UIDs
	// cannot be resolved instead of failing the query.
	OverrideSkipUnresolvedTagValues = "query.skip_unresolved_tagvs"

	// OverrideSkipUnresolvedMetric emits an empty result when the metric
	// name has no UID instead of failing the query.
	OverrideSkipUnresolvedMetric = "query.skip_unresolved_metric"

	// OverrideSequenceSpan bounds how much time one fetch cycle may cover
	// before a worker pauses and hands back control.
	OverrideSequenceSpan = "query.sequence_span"

	// OverrideRollupUsage selects the rollup mode: "raw", "fallback" or
	// "nofallback".
	OverrideRollupUsage = "query.rollup_usage"
)
