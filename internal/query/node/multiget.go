package node

import (
	"context"
	"sync"

	"github.com/xtxerr/scanline/internal/errors"
	"github.com/xtxerr/scanline/internal/query"
	"github.com/xtxerr/scanline/internal/query/scan"
	"github.com/xtxerr/scanline/internal/storage/store"
	"github.com/xtxerr/scanline/internal/storage/types"
)

// Keys expands a resolved series set into the exact raw-tier row keys
// covering the query window, one key per series per row span.
func Keys(saltBuckets int, tier types.Tier, tsuids [][]byte, start, end int64) [][]byte {
	if end <= start || len(tsuids) == 0 {
		return nil
	}

	first := tier.AlignToRow(start)
	last := tier.RowEnd(end - 1)
	span := tier.SpanSeconds()

	keys := make([][]byte, 0, len(tsuids)*int((last-first)/span))
	for base := first; base < last; base += span {
		for _, t := range tsuids {
			keys = append(keys, types.RowKeyFromTSUID(saltBuckets, t, base))
		}
	}
	return keys
}

// multiGetExec serves a query whose series set the meta lookup resolved in
// full: the raw tier is read with batched exact-key gets, no range scan and
// no identity resolution. It delivers exactly one result.
type multiGetExec struct {
	store  store.Store
	owner  query.Consumer
	cfg    *query.ScanConfig
	opts   *query.Options
	ecfg   *query.Config
	tsuids [][]byte

	mu   sync.Mutex
	done bool
}

func newMultiGetExec(st store.Store, owner query.Consumer, cfg *query.ScanConfig, opts *query.Options, ecfg *query.Config, tsuids [][]byte) *multiGetExec {
	return &multiGetExec{
		store:  st,
		owner:  owner,
		cfg:    cfg,
		opts:   opts,
		ecfg:   ecfg,
		tsuids: tsuids,
	}
}

// FetchNext runs the whole multi-get on its own goroutine. A second call is
// a contract violation: the single result has already been delivered.
func (e *multiGetExec) FetchNext(ctx context.Context, snk *scan.ResultSink, trace *query.Trace) error {
	if snk == nil {
		return errors.NewInvariant("multi-get fetch requires a result sink")
	}

	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return errors.Wrap(errors.ErrClosed, "query already completed")
	}
	e.done = true
	e.mu.Unlock()

	go e.run(ctx, snk, trace)
	return nil
}

func (e *multiGetExec) run(ctx context.Context, snk *scan.ResultSink, trace *query.Trace) {
	tier := types.RawTier(e.ecfg.Storage.RawTable, e.ecfg.Storage.RowSpan)
	keys := Keys(e.ecfg.Storage.SaltBuckets, tier, e.tsuids, e.cfg.Start, e.cfg.End)

	batch := e.opts.MultiGetBatch
	for at := 0; at < len(keys); at += batch {
		if ctx.Err() != nil {
			return
		}

		to := at + batch
		if to > len(keys) {
			to = len(keys)
		}

		rows, err := e.store.MultiGet(ctx, tier.Table, keys[at:to])
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.owner.OnError(errors.NewScanFailure(err))
			return
		}
		trace.AddBatch()
		trace.AddRowsScanned(len(rows))

		for _, row := range rows {
			if err := e.decode(snk, tier, row); err != nil {
				e.owner.OnError(err)
				return
			}
		}
	}

	snk.SetSequence(0)
	e.owner.OnNext(snk)
	e.owner.OnComplete(0, 1)
}

func (e *multiGetExec) decode(snk *scan.ResultSink, tier types.Tier, row types.Row) error {
	if err := types.ValidateKey(row.Key); err != nil {
		return err
	}

	base := types.ParseBaseTime(row.Key)
	tsuid := types.TSUID(row.Key)
	hash := types.HashTSUID(tsuid)

	for _, cell := range row.Cells {
		p, aggregator, err := types.DecodeCell(tier, base, cell)
		if err != nil {
			return err
		}
		if p.Timestamp < e.cfg.Start || p.Timestamp >= e.cfg.End {
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

// Close implements Execution. Multi-get holds no open storage state.
func (e *multiGetExec) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = true
	return nil
}

// emptyExec serves an authoritative no-match verdict: one empty result,
// then completion.
type emptyExec struct {
	owner query.Consumer

	mu   sync.Mutex
	done bool
}

func newEmptyExec(owner query.Consumer) *emptyExec {
	return &emptyExec{owner: owner}
}

func (e *emptyExec) FetchNext(ctx context.Context, snk *scan.ResultSink, trace *query.Trace) error {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return errors.Wrap(errors.ErrClosed, "query already completed")
	}
	e.done = true
	e.mu.Unlock()

	if snk != nil {
		snk.SetSequence(0)
		e.owner.OnNext(snk)
	}
	e.owner.OnComplete(0, 1)
	return nil
}

func (e *emptyExec) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = true
	return nil
}
