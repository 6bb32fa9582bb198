// Package query defines the engine-facing query model: the resolved scan
// configuration, the consumer contract results are delivered through, and
// the engine configuration with per-query override resolution.
package query

import (
	"fmt"

	"github.com/xtxerr/scanline/internal/query/filter"
	"github.com/xtxerr/scanline/internal/series"
	"github.com/xtxerr/scanline/internal/storage/types"
)

// Mode selects how results flow to the consumer.
type Mode int

const (
	// ModeSingle delivers exactly one result; a full sink is an error.
	ModeSingle Mode = iota

	// ModeContinuous delivers a result per fetch; a full sink pauses the
	// scan to be resumed by the next FetchNext.
	ModeContinuous

	// ModePush streams completed time bucket sets as they finish.
	ModePush
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeContinuous:
		return "continuous"
	case ModePush:
		return "push"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// RollupUsage selects how pre-aggregated tiers participate in a query.
type RollupUsage int

const (
	// RollupRaw ignores rollup tiers and scans raw data only.
	RollupRaw RollupUsage = iota

	// RollupFallback tries rollup tiers in order, falling back toward raw
	// when a tier yields nothing.
	RollupFallback

	// RollupNoFallback tries only the first configured rollup tier.
	RollupNoFallback
)

// String returns the string representation of the usage mode.
func (u RollupUsage) String() string {
	switch u {
	case RollupRaw:
		return "raw"
	case RollupFallback:
		return "fallback"
	case RollupNoFallback:
		return "nofallback"
	default:
		return fmt.Sprintf("unknown(%d)", u)
	}
}

// ParseRollupUsage parses a usage mode string.
func ParseRollupUsage(s string) (RollupUsage, error) {
	switch s {
	case "raw", "":
		return RollupRaw, nil
	case "fallback":
		return RollupFallback, nil
	case "nofallback":
		return RollupNoFallback, nil
	default:
		return RollupRaw, fmt.Errorf("unknown rollup usage: %s", s)
	}
}

// ScanConfig is the resolved query for one metric. It is built once, before
// the coordinator is reset, and is immutable afterwards.
type ScanConfig struct {
	// Metric is the metric name; its UID is resolved at initialization.
	Metric string

	// Filter is the optional tag filter tree.
	Filter filter.Filter

	// ExplicitTags asserts the filter names every tag of matching series.
	ExplicitTags bool

	// Start and End bound the query window in epoch seconds, [Start, End).
	Start int64
	End   int64

	// Rollups lists the pre-aggregated tiers to try, in configured order,
	// before raw.
	Rollups []types.Tier

	// Mode selects single-shot, continuous or push delivery.
	Mode Mode

	// Overrides are per-query config overrides, resolved against process
	// defaults at coordinator reset.
	Overrides map[string]string
}

// Result is one batch of decoded series delivered to the consumer.
type Result interface {
	// Series returns the decoded partial series of the batch.
	Series() []*series.Partial

	// Sequence is the delivery sequence number of the batch.
	Sequence() int64
}

// Consumer is the upstream sink for query results. Exactly one of OnError or
// OnComplete terminates a query; OnError is called at most once.
type Consumer interface {
	OnNext(result Result)
	OnError(err error)
	OnComplete(finalSequence, totalSequences int64)
}
