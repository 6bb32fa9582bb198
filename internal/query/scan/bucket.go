package scan

import (
	"sync"

	"github.com/xtxerr/scanline/internal/series"
)

// TimeBucketSet aggregates the partial series every worker of a tier
// contributed for one aligned time interval. It is created at tier setup
// for every interval in the query window and marked complete exactly once,
// by whichever worker finishes it last (or by the coordinator on zero-data
// paths).
//
// TimeBucketSet implements query.Result so completed sets can be delivered
// through the same consumer contract as pull-mode sinks.
type TimeBucketSet struct {
	mu sync.Mutex

	start int64
	end   int64

	remaining int
	complete  bool

	partials []*series.Partial
	sequence int64
}

func newTimeBucketSet(start, end int64, contributors int) *TimeBucketSet {
	return &TimeBucketSet{
		start:     start,
		end:       end,
		remaining: contributors,
	}
}

// Start returns the inclusive bucket start in epoch seconds.
func (b *TimeBucketSet) Start() int64 { return b.start }

// End returns the exclusive bucket end in epoch seconds.
func (b *TimeBucketSet) End() int64 { return b.end }

// Add appends one worker's flushed partial. Calling Add on a completed
// bucket is a programming error; the coordinator surfaces it as an
// invariant violation.
func (b *TimeBucketSet) Add(p *series.Partial) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.complete {
		return false
	}
	b.partials = append(b.partials, p)
	return true
}

// ContributorDone records that one worker finished this bucket. It returns
// true exactly once: on the transition to complete.
func (b *TimeBucketSet) ContributorDone() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.complete {
		return false
	}
	b.remaining--
	if b.remaining > 0 {
		return false
	}
	b.complete = true
	return true
}

// ForceComplete marks the bucket complete regardless of outstanding
// contributors. The coordinator uses it on zero-data and close paths so
// downstream aggregation never blocks indefinitely. Returns true on the
// completing transition.
func (b *TimeBucketSet) ForceComplete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.complete {
		return false
	}
	b.complete = true
	b.remaining = 0
	return true
}

// Complete reports whether the bucket has been marked complete.
func (b *TimeBucketSet) Complete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.complete
}

// Empty reports whether no worker contributed any values.
func (b *TimeBucketSet) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range b.partials {
		if !p.Empty() {
			return false
		}
	}
	return true
}

// Series implements query.Result.
func (b *TimeBucketSet) Series() []*series.Partial {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*series.Partial, len(b.partials))
	copy(out, b.partials)
	series.SortByTime(out)
	return out
}

// Sequence implements query.Result.
func (b *TimeBucketSet) Sequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sequence
}

func (b *TimeBucketSet) setSequence(seq int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sequence = seq
}
