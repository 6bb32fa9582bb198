package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/scanline/internal/query"
	"github.com/xtxerr/scanline/internal/series"
	"github.com/xtxerr/scanline/internal/storage/memstore"
	"github.com/xtxerr/scanline/internal/storage/types"
	"github.com/xtxerr/scanline/internal/uid"
)

// CaptureConsumer records every delivery of a query for assertion. It is
// safe for concurrent callbacks and signals terminal delivery through Done.
type CaptureConsumer struct {
	mu sync.Mutex

	results   []query.Result
	err       error
	completed bool
	finalSeq  int64
	totalSeq  int64

	done     chan struct{}
	doneOnce sync.Once
}

// NewCaptureConsumer creates an empty capture consumer.
func NewCaptureConsumer() *CaptureConsumer {
	return &CaptureConsumer{done: make(chan struct{})}
}

// OnNext implements query.Consumer.
func (c *CaptureConsumer) OnNext(result query.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
}

// OnError implements query.Consumer.
func (c *CaptureConsumer) OnError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
}

// OnComplete implements query.Consumer.
func (c *CaptureConsumer) OnComplete(finalSequence, totalSequences int64) {
	c.mu.Lock()
	c.completed = true
	c.finalSeq = finalSequence
	c.totalSeq = totalSequences
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
}

// Done is closed on the first terminal callback.
func (c *CaptureConsumer) Done() <-chan struct{} {
	return c.done
}

// WaitDone blocks until a terminal callback arrives or the timeout expires.
func (c *CaptureConsumer) WaitDone(timeout time.Duration) error {
	select {
	case <-c.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("no terminal callback within %v", timeout)
	}
}

// Results returns the deliveries in arrival order.
func (c *CaptureConsumer) Results() []query.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]query.Result, len(c.results))
	copy(out, c.results)
	return out
}

// Err returns the delivered error, if any.
func (c *CaptureConsumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Completed reports whether OnComplete arrived.
func (c *CaptureConsumer) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// FinalSequence returns the sequence OnComplete reported as last.
func (c *CaptureConsumer) FinalSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalSeq
}

// TotalSequences returns the delivery count OnComplete reported.
func (c *CaptureConsumer) TotalSequences() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSeq
}

// PointTotal sums the points across every delivered series.
func (c *CaptureConsumer) PointTotal() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, r := range c.results {
		for _, p := range r.Series() {
			total += p.PointCount()
		}
	}
	return total
}

// AllPoints flattens every delivered raw point in delivery order.
func (c *CaptureConsumer) AllPoints() []types.Point {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []types.Point
	for _, r := range c.results {
		for _, p := range r.Series() {
			out = append(out, p.Points...)
		}
	}
	return out
}

// SeriesTotal counts the delivered partial series.
func (c *CaptureConsumer) SeriesTotal() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, r := range c.results {
		total += len(r.Series())
	}
	return total
}

// NewRegistry builds an assigning UID registry preloaded with names.
func NewRegistry(t *testing.T, metrics, tagKeys, tagValues []string) *uid.Registry {
	t.Helper()

	reg := uid.NewRegistry(true)
	for _, m := range metrics {
		if _, err := reg.GetOrAssign(uid.Metric, m); err != nil {
			t.Fatalf("assign metric %s: %v", m, err)
		}
	}
	for _, k := range tagKeys {
		if _, err := reg.GetOrAssign(uid.TagKey, k); err != nil {
			t.Fatalf("assign tagk %s: %v", k, err)
		}
	}
	for _, v := range tagValues {
		if _, err := reg.GetOrAssign(uid.TagValue, v); err != nil {
			t.Fatalf("assign tagv %s: %v", v, err)
		}
	}
	return reg
}

// MustResolve resolves a name through the registry or fails the test.
func MustResolve(t *testing.T, reg *uid.Registry, typ uid.Type, name string) uid.UID {
	t.Helper()

	id, err := reg.ResolveName(context.Background(), typ, name)
	if err != nil {
		t.Fatalf("resolve %s %s: %v", typ.String(), name, err)
	}
	return id
}

// Tags resolves name pairs into sorted UID tag pairs.
func Tags(t *testing.T, reg *uid.Registry, pairs map[string]string) []types.TagPair {
	t.Helper()

	out := make([]types.TagPair, 0, len(pairs))
	for k, v := range pairs {
		out = append(out, types.TagPair{
			Key:   MustResolve(t, reg, uid.TagKey, k),
			Value: MustResolve(t, reg, uid.TagValue, v),
		})
	}
	types.SortTagPairs(out)
	return out
}

// SeedSeries writes raw points for one series into a memstore table, one
// row per row span, qualifiers encoded from the in-row offset.
func SeedSeries(t *testing.T, st *memstore.Store, table string, saltBuckets int, tier types.Tier, metric uid.UID, tags []types.TagPair, points []types.Point) {
	t.Helper()

	byRow := make(map[int64][]types.Point)
	for _, p := range points {
		base := tier.AlignToRow(p.Timestamp)
		byRow[base] = append(byRow[base], p)
	}

	for base, pts := range byRow {
		key := types.RowKey(saltBuckets, metric, base, tags)
		cells := make([]types.Cell, 0, len(pts))
		for _, p := range pts {
			q, err := types.EncodeQualifier(p.Timestamp-base, true)
			if err != nil {
				t.Fatalf("encode qualifier: %v", err)
			}
			cells = append(cells, types.Cell{Qualifier: q, Value: types.EncodeValue(p.Value)})
		}
		st.Put(table, key, cells...)
	}
}

// SeedRollupSeries writes rollup aggregates for one series, one row per
// rollup row span, one cell per (aggregator, interval offset).
func SeedRollupSeries(t *testing.T, st *memstore.Store, saltBuckets int, tier types.Tier, metric uid.UID, tags []types.TagPair, aggregator string, points []types.Point) {
	t.Helper()

	interval := int64(tier.Interval.Seconds())
	byRow := make(map[int64][]types.Point)
	for _, p := range points {
		base := tier.AlignToRow(p.Timestamp)
		byRow[base] = append(byRow[base], p)
	}

	for base, pts := range byRow {
		key := types.RowKey(saltBuckets, metric, base, tags)
		cells := make([]types.Cell, 0, len(pts))
		for _, p := range pts {
			q, err := types.EncodeRollupQualifier(aggregator, (p.Timestamp-base)/interval, true)
			if err != nil {
				t.Fatalf("encode rollup qualifier: %v", err)
			}
			cells = append(cells, types.Cell{Qualifier: q, Value: types.EncodeValue(p.Value)})
		}
		st.Put(tier.Table, key, cells...)
	}
}

// Points builds evenly spaced points starting at ts.
func Points(ts int64, step int64, values ...float64) []types.Point {
	out := make([]types.Point, len(values))
	for i, v := range values {
		out[i] = types.Point{Timestamp: ts + int64(i)*step, Value: v}
	}
	return out
}

// SeriesPoints extracts the raw points of the partial with the given hash.
func SeriesPoints(partials []*series.Partial, hash uint64) []types.Point {
	for _, p := range partials {
		if p.Hash == hash {
			return p.Points
		}
	}
	return nil
}
