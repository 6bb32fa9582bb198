// Package series holds decoded time-series state: the partial series that
// accumulate while rows stream out of a scan, and the accumulators that
// build them.
//
// Key types:
//   - Partial: decoded values for one series, optionally bucket-bounded
//   - NumericAccumulator: plain value accumulation for raw cells
//   - SummaryAccumulator: per-aggregator accumulation for rollup cells,
//     with an optional DDSketch for bucket percentiles
package series

import (
	"sort"

	"github.com/xtxerr/scanline/internal/storage/types"
)

// Partial is an in-progress decoded series: everything one worker (or a
// multi-get pass) has accumulated for one canonical series identity within
// one time range.
type Partial struct {
	// Hash is the 64-bit series hash of TSUID.
	Hash uint64

	// TSUID is the canonical series identity.
	TSUID []byte

	// BucketStart/BucketEnd bound the partial in push mode. Zero in pull
	// mode, where a partial covers the whole query window.
	BucketStart int64
	BucketEnd   int64

	// Points holds raw decoded values in scan order.
	Points []types.Point

	// Summaries holds rollup values grouped by aggregator name.
	Summaries map[string][]types.Point

	// Percentiles holds the sketch-derived bucket percentiles when the
	// push accumulator had sketching enabled. Nil otherwise.
	Percentiles map[float64]float64
}

// Empty reports whether the partial carries no values.
func (p *Partial) Empty() bool {
	if p == nil {
		return true
	}
	if len(p.Points) > 0 {
		return false
	}
	for _, pts := range p.Summaries {
		if len(pts) > 0 {
			return false
		}
	}
	return true
}

// PointCount returns the total number of values in the partial.
func (p *Partial) PointCount() int {
	if p == nil {
		return 0
	}
	n := len(p.Points)
	for _, pts := range p.Summaries {
		n += len(pts)
	}
	return n
}

// SortByTime orders a set of partials by bucket start, then hash, for
// deterministic delivery.
func SortByTime(partials []*Partial) {
	sort.Slice(partials, func(i, j int) bool {
		if partials[i].BucketStart != partials[j].BucketStart {
			return partials[i].BucketStart < partials[j].BucketStart
		}
		return partials[i].Hash < partials[j].Hash
	})
}
