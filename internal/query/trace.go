package query

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Trace carries per-fetch instrumentation across the coordinator and its
// workers. Counters are atomic; workers update them concurrently.
type Trace struct {
	// ID identifies the fetch cycle in logs.
	ID string

	// Started is when the fetch cycle began.
	Started time.Time

	rowsScanned   atomic.Int64
	rowsFiltered  atomic.Int64
	batches       atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	tiersFallback atomic.Int64
}

// NewTrace starts a trace for one fetch cycle.
func NewTrace() *Trace {
	return &Trace{
		ID:      uuid.NewString(),
		Started: time.Now(),
	}
}

// AddRowsScanned counts rows returned by the store.
func (t *Trace) AddRowsScanned(n int) {
	if t != nil {
		t.rowsScanned.Add(int64(n))
	}
}

// AddRowsFiltered counts rows rejected by client-side filtering.
func (t *Trace) AddRowsFiltered(n int) {
	if t != nil {
		t.rowsFiltered.Add(int64(n))
	}
}

// AddBatch counts one store batch.
func (t *Trace) AddBatch() {
	if t != nil {
		t.batches.Add(1)
	}
}

// AddCacheHit counts an identity-cache fast path hit.
func (t *Trace) AddCacheHit() {
	if t != nil {
		t.cacheHits.Add(1)
	}
}

// AddCacheMiss counts an identity-cache resolution.
func (t *Trace) AddCacheMiss() {
	if t != nil {
		t.cacheMisses.Add(1)
	}
}

// AddFallback counts a tier fallback.
func (t *Trace) AddFallback() {
	if t != nil {
		t.tiersFallback.Add(1)
	}
}

// Snapshot returns the current counter values.
func (t *Trace) Snapshot() TraceSnapshot {
	if t == nil {
		return TraceSnapshot{}
	}
	return TraceSnapshot{
		RowsScanned:  t.rowsScanned.Load(),
		RowsFiltered: t.rowsFiltered.Load(),
		Batches:      t.batches.Load(),
		CacheHits:    t.cacheHits.Load(),
		CacheMisses:  t.cacheMisses.Load(),
		Fallbacks:    t.tiersFallback.Load(),
		Elapsed:      time.Since(t.Started),
	}
}

// TraceSnapshot is a point-in-time copy of trace counters.
type TraceSnapshot struct {
	RowsScanned  int64
	RowsFiltered int64
	Batches      int64
	CacheHits    int64
	CacheMisses  int64
	Fallbacks    int64
	Elapsed      time.Duration
}
