package types

import (
	"fmt"
	"time"
)

// Tier represents one resolution level of stored data: either the raw table
// or a pre-aggregated rollup table.
type Tier struct {
	// Table is the store table holding this tier's rows.
	Table string

	// Interval is the rollup aggregation width. Zero for the raw tier.
	Interval time.Duration

	// RowSpan is the fixed time width encoded by one storage row.
	RowSpan time.Duration

	// Aggregators lists the rollup aggregates materialized in this tier's
	// cells (e.g. "sum", "count"). Empty for the raw tier.
	Aggregators []string
}

// RawTier builds the raw (unaggregated) tier.
func RawTier(table string, rowSpan time.Duration) Tier {
	return Tier{Table: table, RowSpan: rowSpan}
}

// RollupTier builds a rollup tier. rowsPerSpan is how many aggregation
// intervals one storage row covers.
func RollupTier(table string, interval time.Duration, rowsPerSpan int, aggregators ...string) Tier {
	if rowsPerSpan < 1 {
		rowsPerSpan = 1
	}
	return Tier{
		Table:       table,
		Interval:    interval,
		RowSpan:     interval * time.Duration(rowsPerSpan),
		Aggregators: aggregators,
	}
}

// IsRollup reports whether this tier holds pre-aggregated data.
func (t Tier) IsRollup() bool {
	return t.Interval > 0
}

// String returns a short description of the tier.
func (t Tier) String() string {
	if !t.IsRollup() {
		return fmt.Sprintf("raw(%s)", t.Table)
	}
	return fmt.Sprintf("rollup(%s,%s)", t.Table, t.Interval)
}

// SpanSeconds returns the row span in epoch seconds.
func (t Tier) SpanSeconds() int64 {
	return int64(t.RowSpan / time.Second)
}

// AlignToRow aligns a timestamp down to the start of its storage row.
func (t Tier) AlignToRow(ts int64) int64 {
	span := t.SpanSeconds()
	if span <= 0 {
		return ts
	}
	aligned := (ts / span) * span
	if aligned < 0 {
		aligned = 0
	}
	return aligned
}

// RowEnd returns the exclusive end timestamp of the row containing ts.
func (t Tier) RowEnd(ts int64) int64 {
	return t.AlignToRow(ts) + t.SpanSeconds()
}
