package series

import (
	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/scanline/internal/storage/types"
)

// Accumulator collects decoded values for one series within one aligned time
// bucket. A change of series hash or of accumulator kind forces the worker
// to flush and replace the accumulator.
type Accumulator interface {
	// Hash returns the series hash the accumulator belongs to.
	Hash() uint64

	// Empty reports whether any value has been added.
	Empty() bool

	// Flush converts the accumulated state into a Partial and resets.
	Flush() *Partial
}

// =============================================================================
// Numeric Accumulator
// =============================================================================

// NumericAccumulator accumulates plain raw-cell values.
type NumericAccumulator struct {
	hash        uint64
	tsuid       []byte
	bucketStart int64
	bucketEnd   int64
	points      []types.Point
}

// NewNumeric creates a numeric accumulator for a series within a bucket.
func NewNumeric(hash uint64, tsuid []byte, bucketStart, bucketEnd int64) *NumericAccumulator {
	return &NumericAccumulator{
		hash:        hash,
		tsuid:       append([]byte(nil), tsuid...),
		bucketStart: bucketStart,
		bucketEnd:   bucketEnd,
	}
}

// Hash implements Accumulator.
func (a *NumericAccumulator) Hash() uint64 { return a.hash }

// Empty implements Accumulator.
func (a *NumericAccumulator) Empty() bool { return len(a.points) == 0 }

// Add appends one decoded point.
func (a *NumericAccumulator) Add(p types.Point) {
	a.points = append(a.points, p)
}

// Flush implements Accumulator.
func (a *NumericAccumulator) Flush() *Partial {
	p := &Partial{
		Hash:        a.hash,
		TSUID:       a.tsuid,
		BucketStart: a.bucketStart,
		BucketEnd:   a.bucketEnd,
		Points:      a.points,
	}
	a.points = nil
	return p
}

// =============================================================================
// Summary Accumulator
// =============================================================================

// Percentiles reported by sketch-enabled summary accumulators.
var summaryQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

// SummaryAccumulator accumulates rollup-cell values grouped by aggregator,
// with an optional DDSketch over the observed values for bucket percentiles.
type SummaryAccumulator struct {
	hash        uint64
	tsuid       []byte
	bucketStart int64
	bucketEnd   int64
	summaries   map[string][]types.Point
	sketch      *ddsketch.DDSketch
}

// NewSummary creates a summary accumulator. With sketching enabled it keeps
// a DDSketch at the given relative accuracy (0 uses 1%).
func NewSummary(hash uint64, tsuid []byte, bucketStart, bucketEnd int64, enableSketch bool, accuracy float64) *SummaryAccumulator {
	a := &SummaryAccumulator{
		hash:        hash,
		tsuid:       append([]byte(nil), tsuid...),
		bucketStart: bucketStart,
		bucketEnd:   bucketEnd,
		summaries:   make(map[string][]types.Point),
	}

	if enableSketch {
		if accuracy <= 0 {
			accuracy = 0.01
		}
		sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
		if err == nil {
			a.sketch = sketch
		}
	}

	return a
}

// Hash implements Accumulator.
func (a *SummaryAccumulator) Hash() uint64 { return a.hash }

// Empty implements Accumulator.
func (a *SummaryAccumulator) Empty() bool { return len(a.summaries) == 0 }

// Add appends one decoded rollup point under its aggregator.
func (a *SummaryAccumulator) Add(aggregator string, p types.Point) {
	a.summaries[aggregator] = append(a.summaries[aggregator], p)
	if a.sketch != nil {
		a.sketch.Add(p.Value)
	}
}

// Flush implements Accumulator.
func (a *SummaryAccumulator) Flush() *Partial {
	p := &Partial{
		Hash:        a.hash,
		TSUID:       a.tsuid,
		BucketStart: a.bucketStart,
		BucketEnd:   a.bucketEnd,
		Summaries:   a.summaries,
	}

	if a.sketch != nil && a.sketch.GetCount() > 0 {
		p.Percentiles = make(map[float64]float64, len(summaryQuantiles))
		for _, q := range summaryQuantiles {
			if v, err := a.sketch.GetValueAtQuantile(q); err == nil {
				p.Percentiles[q] = v
			}
		}
	}

	a.summaries = make(map[string][]types.Point)
	a.sketch = nil
	return p
}
