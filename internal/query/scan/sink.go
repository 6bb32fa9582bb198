package scan

import (
	"sync"

	"github.com/xtxerr/scanline/internal/series"
	"github.com/xtxerr/scanline/internal/storage/types"
)

// ResultSink is the mutable batch of decoded series delivered to the
// consumer in pull mode. Exactly one sink is in flight per coordinator;
// callers construct a fresh one for every FetchNext and the coordinator
// swaps it out on delivery.
//
// ResultSink is safe for concurrent use; all workers of a tier decode into
// the same sink.
type ResultSink struct {
	mu sync.Mutex

	maxSeries int
	maxPoints int

	partials map[uint64]*series.Partial
	order    []uint64
	points   int

	sequence int64
	forced   bool
}

// NewResultSink creates a sink bounded by series and point ceilings.
func NewResultSink(maxSeries, maxPoints int) *ResultSink {
	return &ResultSink{
		maxSeries: maxSeries,
		maxPoints: maxPoints,
		partials:  make(map[uint64]*series.Partial),
	}
}

// AddPoint appends a raw decoded point for a series.
func (r *ResultSink) AddPoint(tsuid []byte, hash uint64, p types.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()

	partial := r.partialLocked(tsuid, hash)
	partial.Points = append(partial.Points, p)
	r.points++
}

// AddSummary appends a rollup point under its aggregator for a series.
func (r *ResultSink) AddSummary(tsuid []byte, hash uint64, aggregator string, p types.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()

	partial := r.partialLocked(tsuid, hash)
	if partial.Summaries == nil {
		partial.Summaries = make(map[string][]types.Point)
	}
	partial.Summaries[aggregator] = append(partial.Summaries[aggregator], p)
	r.points++
}

func (r *ResultSink) partialLocked(tsuid []byte, hash uint64) *series.Partial {
	p, ok := r.partials[hash]
	if !ok {
		p = &series.Partial{Hash: hash, TSUID: append([]byte(nil), tsuid...)}
		r.partials[hash] = p
		r.order = append(r.order, hash)
	}
	return p
}

// Full reports whether the sink reached a ceiling. Workers check it before
// and during every batch; full is the engine's backpressure signal.
func (r *ResultSink) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forced ||
		len(r.partials) >= r.maxSeries ||
		r.points >= r.maxPoints
}

// ForceFull pins the sink full. Used to exercise backpressure paths.
func (r *ResultSink) ForceFull() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forced = true
}

// SeriesCount returns the number of distinct series in the sink.
func (r *ResultSink) SeriesCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.partials)
}

// PointCount returns the number of values in the sink.
func (r *ResultSink) PointCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.points
}

// Series implements query.Result. Partials are returned in first-seen order.
func (r *ResultSink) Series() []*series.Partial {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*series.Partial, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, r.partials[h])
	}
	return out
}

// Sequence implements query.Result.
func (r *ResultSink) Sequence() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequence
}

// SetSequence stamps the delivery sequence number. It is owned by whichever
// execution delivers the sink.
func (r *ResultSink) SetSequence(seq int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequence = seq
}
