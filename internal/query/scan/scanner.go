package scan

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/scanline/internal/errors"
	"github.com/xtxerr/scanline/internal/query"
	"github.com/xtxerr/scanline/internal/series"
	"github.com/xtxerr/scanline/internal/storage/store"
	"github.com/xtxerr/scanline/internal/storage/types"
)

// State is a worker's lifecycle state. Continue means more data may follow;
// Exception and Complete are terminal and reported exactly once through the
// coordinator.
type State int32

const (
	// StateContinue means the worker can produce more data.
	StateContinue State = iota
	// StateException means the worker failed terminally.
	StateException
	// StateComplete means the worker exhausted its range or was cancelled.
	StateComplete
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateContinue:
		return "CONTINUE"
	case StateException:
		return "EXCEPTION"
	case StateComplete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Scanner drives one ordered range scan over one salt bucket for one tier.
//
// A Scanner owns its row buffer and hash caches exclusively; its mutex only
// serializes successive fetch cycles, never contends with other workers.
type Scanner struct {
	co     *Scanners
	tier   types.Tier
	bucket int
	spec   store.ScanSpec

	idcache *IdentityCache

	// state is read lock-free by the coordinator while the worker holds
	// its own mutex; zero value is StateContinue.
	state atomic.Int32

	// batches counts store batches this worker fetched over its lifetime.
	batches atomic.Int64

	mu     sync.Mutex
	handle store.ScanHandle

	// rowBuf holds rows deferred at a sequence boundary or fullness pause.
	// Once non-empty it is fully drained before the next store fetch.
	rowBuf []types.Row

	// Local fast paths in front of the shared identity cache.
	keepers map[uint64]struct{}
	skips   map[uint64]struct{}

	// Push-mode accumulation state.
	lastBucket int64
	acc        series.Accumulator

	// cycleFirstBase anchors the sequence boundary for one fetch cycle.
	cycleFirstBase int64
}

func newScanner(co *Scanners, tier types.Tier, bucket int, spec store.ScanSpec, idcache *IdentityCache) *Scanner {
	return &Scanner{
		co:         co,
		tier:       tier,
		bucket:     bucket,
		spec:       spec,
		idcache:    idcache,
		keepers:    make(map[uint64]struct{}),
		skips:      make(map[uint64]struct{}),
		lastBucket: -1,
	}
}

// State returns the worker's current state.
func (sc *Scanner) State() State {
	return State(sc.state.Load())
}

// Batches returns the number of store batches the worker has fetched.
func (sc *Scanner) Batches() int64 {
	return sc.batches.Load()
}

// FetchNext runs one fetch cycle: drain any buffered rows, then stream
// batches from the store until the range is exhausted, a sequence boundary
// or fullness pause ends the cycle, or the query fails. It always reports
// back to the coordinator exactly once per cycle, via ScannerDone or
// Exception.
//
// The coordinator invokes FetchNext on its own goroutine per worker.
func (sc *Scanner) FetchNext(ctx context.Context, snk *ResultSink, trace *query.Trace) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.State() != StateContinue {
		sc.co.ScannerDone()
		return
	}

	sc.cycleFirstBase = -1

	// Cooperative cancellation: no further processing once the query has
	// failed or the consumer's context is closed.
	if sc.co.aborted(ctx) {
		sc.completeQuiet()
		return
	}

	if snk != nil && snk.Full() {
		if sc.co.cfg.Mode == query.ModeSingle {
			sc.fail(errors.ErrResultTooLarge)
			return
		}
		// Continuous mode: pause without consuming; buffered rows stay.
		sc.co.ScannerDone()
		return
	}

	if len(sc.rowBuf) > 0 {
		rows := sc.rowBuf
		sc.rowBuf = nil
		if sc.processRows(ctx, rows, snk, trace) {
			return
		}
	}

	for {
		if sc.co.aborted(ctx) {
			sc.completeQuiet()
			return
		}

		if sc.handle == nil {
			h, err := sc.co.store.NewScan(sc.tier.Table, sc.spec)
			if err != nil {
				sc.fail(errors.NewScanFailure(err))
				return
			}
			sc.handle = h
		}

		batch, err := sc.handle.NextBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				sc.completeQuiet()
				return
			}
			sc.fail(errors.NewScanFailure(err))
			return
		}
		if batch == nil {
			sc.complete()
			return
		}

		sc.batches.Add(1)
		trace.AddBatch()
		trace.AddRowsScanned(len(batch))

		if sc.processRows(ctx, batch, snk, trace) {
			return
		}
	}
}

// processRows handles one batch (or the drained row buffer). It returns
// true when the cycle ended inside the batch: a boundary or fullness pause
// buffered the remaining rows and reported done, or a failure was raised.
func (sc *Scanner) processRows(ctx context.Context, rows []types.Row, snk *ResultSink, trace *query.Trace) bool {
	for i := 0; i < len(rows); i++ {
		row := rows[i]
		if err := types.ValidateKey(row.Key); err != nil {
			sc.fail(err)
			return true
		}

		base := types.ParseBaseTime(row.Key)
		if sc.cycleFirstBase < 0 {
			sc.cycleFirstBase = base
		}

		if sc.pastSequenceEnd(base) {
			sc.rowBuf = append(sc.rowBuf, rows[i:]...)
			sc.co.ScannerDone()
			return true
		}

		if snk != nil && snk.Full() {
			if sc.co.cfg.Mode == query.ModeSingle {
				sc.fail(errors.ErrResultTooLarge)
				return true
			}
			sc.rowBuf = append(sc.rowBuf, rows[i:]...)
			sc.co.ScannerDone()
			return true
		}

		if err := sc.processRow(ctx, row, base, snk, trace); err != nil {
			sc.fail(err)
			return true
		}
	}
	return false
}

// pastSequenceEnd checks the direction-aware fetch-cycle boundary: past the
// end for forward scans, past the start for reverse scans.
func (sc *Scanner) pastSequenceEnd(base int64) bool {
	span := int64(sc.co.opts.SequenceSpan.Seconds())
	if span <= 0 || sc.cycleFirstBase < 0 {
		return false
	}
	if sc.spec.Reverse {
		return base <= sc.cycleFirstBase-span
	}
	return base >= sc.cycleFirstBase+span
}

func (sc *Scanner) processRow(ctx context.Context, row types.Row, base int64, snk *ResultSink, trace *query.Trace) error {
	tsuid := types.TSUID(row.Key)
	hash := types.HashTSUID(tsuid)

	if sc.co.filterDuringScan {
		if _, ok := sc.skips[hash]; ok {
			trace.AddCacheHit()
			trace.AddRowsFiltered(1)
			return nil
		}
		if _, ok := sc.keepers[hash]; !ok {
			keep, err := sc.idcache.ResolveAndFilter(ctx, row.Key)
			if err != nil {
				return err
			}
			trace.AddCacheMiss()
			if !keep {
				sc.skips[hash] = struct{}{}
				trace.AddRowsFiltered(1)
				return nil
			}
			sc.keepers[hash] = struct{}{}
		} else {
			trace.AddCacheHit()
		}
	}

	if sc.co.cfg.Mode == query.ModePush {
		return sc.appendPush(row, base, tsuid, hash)
	}
	return sc.decodeInto(snk, row, base, tsuid, hash)
}

// decodeInto decodes a row's cells straight into the shared sink, trimming
// points outside the query window.
func (sc *Scanner) decodeInto(snk *ResultSink, row types.Row, base int64, tsuid []byte, hash uint64) error {
	for _, cell := range row.Cells {
		p, aggregator, err := types.DecodeCell(sc.tier, base, cell)
		if err != nil {
			return err
		}
		if p.Timestamp < sc.co.cfg.Start || p.Timestamp >= sc.co.cfg.End {
			continue
		}
		if aggregator == "" {
			snk.AddPoint(tsuid, hash, p)
		} else {
			snk.AddSummary(tsuid, hash, aggregator, p)
		}
	}
	return nil
}

// appendPush routes a row into the aligned time bucket accumulators. When
// the base timestamp advances, the in-progress accumulator is flushed into
// its bucket and any buckets skipped entirely are marked done immediately
// so downstream consumers are not left waiting on a data gap.
func (sc *Scanner) appendPush(row types.Row, base int64, tsuid []byte, hash uint64) error {
	if sc.lastBucket < 0 {
		sc.lastBucket = sc.co.pushStart
	}
	if base != sc.lastBucket {
		sc.flushAcc()
		sc.markBucketsDone(sc.lastBucket, base)
		sc.lastBucket = base
	}

	span := sc.tier.SpanSeconds()
	for _, cell := range row.Cells {
		p, aggregator, err := types.DecodeCell(sc.tier, base, cell)
		if err != nil {
			return err
		}
		if p.Timestamp < sc.co.cfg.Start || p.Timestamp >= sc.co.cfg.End {
			continue
		}

		if aggregator == "" {
			acc, ok := sc.acc.(*series.NumericAccumulator)
			if !ok || acc.Hash() != hash {
				sc.flushAcc()
				acc = series.NewNumeric(hash, tsuid, base, base+span)
				sc.acc = acc
			}
			acc.Add(p)
		} else {
			acc, ok := sc.acc.(*series.SummaryAccumulator)
			if !ok || acc.Hash() != hash {
				sc.flushAcc()
				acc = series.NewSummary(hash, tsuid, base, base+span, sc.co.sketchEnabled, 0)
				sc.acc = acc
			}
			acc.Add(aggregator, p)
		}
	}
	return nil
}

func (sc *Scanner) flushAcc() {
	if sc.acc == nil || sc.acc.Empty() {
		sc.acc = nil
		return
	}
	p := sc.acc.Flush()
	sc.acc = nil
	sc.co.bucketAdd(sc.lastBucket, p)
}

// markBucketsDone reports this worker done for every bucket in [from, to).
func (sc *Scanner) markBucketsDone(from, to int64) {
	span := sc.tier.SpanSeconds()
	if span <= 0 {
		return
	}
	for b := from; b < to; b += span {
		sc.co.bucketDone(b)
	}
}

// complete ends the worker normally: push state is flushed and every bucket
// this worker still owes is explicitly marked, empty or not.
func (sc *Scanner) complete() {
	if sc.co.cfg.Mode == query.ModePush {
		sc.flushAcc()
		from := sc.lastBucket
		if from < 0 {
			from = sc.co.pushStart
		}
		sc.markBucketsDone(from, sc.co.pushEnd)
	}
	sc.closeHandle()
	sc.state.Store(int32(StateComplete))
	sc.co.ScannerDone()
}

// completeQuiet ends the worker on a cancellation path: close the scan, go
// terminal, report done. Bucket bookkeeping is left to the coordinator's
// close path.
func (sc *Scanner) completeQuiet() {
	sc.closeHandle()
	sc.state.Store(int32(StateComplete))
	sc.co.ScannerDone()
}

func (sc *Scanner) fail(err error) {
	sc.closeHandle()
	sc.state.Store(int32(StateException))
	sc.co.Exception(err)
	sc.co.ScannerDone()
}

func (sc *Scanner) closeHandle() {
	if sc.handle != nil {
		if err := sc.handle.Close(); err != nil {
			log.Warn("close scan handle", "error", err, "bucket", sc.bucket)
		}
		sc.handle = nil
	}
}

// release drops the worker's buffers and caches.
func (sc *Scanner) release() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.closeHandle()
	sc.rowBuf = nil
	sc.keepers = nil
	sc.skips = nil
	sc.acc = nil
	sc.state.CompareAndSwap(int32(StateContinue), int32(StateComplete))
}
