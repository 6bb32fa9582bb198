// Package scan implements the salted multi-tier scan engine: a coordinator
// fanning one worker per salt bucket out over the active tier, a shared
// per-bucket identity cache, bounded result sinks for pull-mode delivery
// and time bucket sets for push-mode delivery.
package scan

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/scanline/config"
	"github.com/xtxerr/scanline/internal/errors"
	"github.com/xtxerr/scanline/internal/logging"
	"github.com/xtxerr/scanline/internal/query"
	"github.com/xtxerr/scanline/internal/query/filter"
	"github.com/xtxerr/scanline/internal/series"
	"github.com/xtxerr/scanline/internal/storage/store"
	"github.com/xtxerr/scanline/internal/storage/types"
	"github.com/xtxerr/scanline/internal/uid"
)

var log = logging.Component("scan")

// Scanners coordinates one query: it resolves the metric, plans the filter
// pushdown, fans one Scanner per salt bucket out over the active tier, and
// delivers results to the owning consumer. At most one fetch cycle is
// outstanding at any time.
//
// A Scanners is reusable: Reset rebinds it to a new owner and query whenever
// no fetch cycle is outstanding, abandoning any paused query.
type Scanners struct {
	store    store.Store
	resolver uid.Resolver
	ecfg     *query.Config

	sketchEnabled bool

	mu sync.Mutex

	owner query.Consumer
	cfg   *query.ScanConfig
	opts  *query.Options

	initialized bool
	outstanding bool
	finished    bool
	closed      bool
	failed      bool
	firstErr    error

	metric           uid.UID
	plan             *filter.Plan
	filterDuringScan bool

	tiers     []types.Tier
	tierIndex int

	workers       []*Scanner
	activeWorkers int
	caches        []*IdentityCache

	// Push-mode bucket bookkeeping. Buckets are removed from the map as
	// they deliver; what remains at tier end is complete and empty.
	pushStart int64
	pushEnd   int64
	buckets   map[int64]*TimeBucketSet
	sentData  bool

	// Per-cycle delivery targets, set by FetchNext.
	runCtx context.Context
	sink   *ResultSink
	trace  *query.Trace

	sequence int64
}

// NewScanners creates a coordinator over the given store and UID resolver.
func NewScanners(st store.Store, resolver uid.Resolver, ecfg *query.Config) *Scanners {
	return &Scanners{
		store:         st,
		resolver:      resolver,
		ecfg:          ecfg,
		sketchEnabled: ecfg.Query.EnableSummarySketch,
	}
}

// Reset binds the coordinator to a new owner and query. It resolves the
// query's overrides against the process defaults and clears all state of
// the previous query. A paused query is abandoned: its buffered rows and
// caches are released and its owner hears nothing further. Reset only
// fails while a fetch cycle is outstanding.
func (s *Scanners) Reset(owner query.Consumer, cfg *query.ScanConfig) error {
	if owner == nil {
		return errors.ErrNoOwner
	}
	if cfg == nil {
		return errors.ErrNoConfig
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrClosed
	}
	if s.outstanding {
		return errors.ErrFetchOutstanding
	}

	opts, err := s.ecfg.ResolveOptions(cfg.Overrides)
	if err != nil {
		return err
	}
	if cfg.Mode == query.ModePush {
		// Push streams whole buckets to exhaustion: direction and fetch
		// cycle boundaries do not apply.
		opts.Reverse = false
		opts.SequenceSpan = 0
	}

	for _, w := range s.workers {
		w.release()
	}
	for _, c := range s.caches {
		c.Release()
	}

	s.owner = owner
	s.cfg = cfg
	s.opts = opts
	s.initialized = false
	s.finished = false
	s.failed = false
	s.firstErr = nil
	s.metric = nil
	s.plan = nil
	s.filterDuringScan = false
	s.tiers = nil
	s.tierIndex = 0
	s.workers = nil
	s.activeWorkers = 0
	s.caches = nil
	s.buckets = nil
	s.sentData = false
	s.sink = nil
	s.trace = nil
	s.sequence = 0

	return nil
}

// FetchNext starts one fetch cycle. The first call initializes the query
// (metric resolution, filter planning, tier and worker setup); every call
// dispatches the workers still able to produce. Results arrive through the
// owner's Consumer callbacks; FetchNext itself only fails on contract
// violations and on queries that already failed.
//
// Pull modes require a sink; push mode ignores it.
func (s *Scanners) FetchNext(ctx context.Context, snk *ResultSink, trace *query.Trace) error {
	s.mu.Lock()

	switch {
	case s.closed:
		s.mu.Unlock()
		return errors.ErrClosed
	case s.owner == nil || s.cfg == nil:
		s.mu.Unlock()
		return errors.ErrNoConfig
	case s.failed:
		err := s.firstErr
		s.mu.Unlock()
		return err
	case s.finished:
		s.mu.Unlock()
		return errors.Wrap(errors.ErrClosed, "query already completed")
	case s.outstanding:
		s.mu.Unlock()
		return errors.ErrFetchOutstanding
	}

	if s.cfg.Mode != query.ModePush && snk == nil {
		s.mu.Unlock()
		return errors.NewInvariant("pull-mode fetch requires a result sink")
	}

	s.outstanding = true
	s.runCtx = ctx
	s.sink = snk
	s.trace = trace

	if !s.initialized {
		s.initialized = true
		s.mu.Unlock()
		go s.initialize(ctx)
		return nil
	}

	s.runCycleLocked()
	return nil
}

// initialize resolves the metric, plans the filter pushdown and sets up the
// first tier's workers. It runs on its own goroutine off the first FetchNext.
func (s *Scanners) initialize(ctx context.Context) {
	s.mu.Lock()
	cfg := s.cfg
	opts := s.opts
	s.mu.Unlock()

	metric, err := s.resolver.ResolveName(ctx, uid.Metric, cfg.Metric)
	if err != nil {
		if errors.IsUnresolved(err) && opts.SkipUnresolvedMetric {
			log.Debug("metric unresolved, delivering empty result", "metric", cfg.Metric)
			s.deliverEmpty()
			return
		}
		s.failInit(err)
		return
	}

	plan, err := filter.Build(ctx, cfg.Filter, filter.PlanOptions{
		Metric:                  metric,
		ExpansionLimit:          opts.ExpansionLimit,
		EnableFuzzy:             opts.EnableFuzzy,
		ExplicitTags:            cfg.ExplicitTags,
		SkipUnresolvedTagKeys:   opts.SkipUnresolvedTagKeys,
		SkipUnresolvedTagValues: opts.SkipUnresolvedTagValues,
	}, s.resolver)
	if err != nil {
		s.failInit(err)
		return
	}

	saltBuckets := s.ecfg.Storage.SaltBuckets
	caches := make([]*IdentityCache, saltBuckets)
	for i := range caches {
		caches[i] = NewIdentityCache(s.resolver, cfg.Filter,
			opts.SkipUnresolvedTagKeys, opts.SkipUnresolvedTagValues)
	}

	s.mu.Lock()
	if s.closed || s.failed {
		s.outstanding = false
		s.mu.Unlock()
		return
	}

	s.metric = metric
	s.plan = plan
	s.filterDuringScan = plan.FilterDuringScan
	s.caches = caches
	s.tiers = s.tierOrder(cfg, opts)
	s.tierIndex = 0

	log.Debug("query initialized",
		"metric", cfg.Metric,
		"mode", cfg.Mode.String(),
		"tiers", len(s.tiers),
		"filter_during_scan", s.filterDuringScan)

	if err := s.startTierLocked(); err != nil {
		s.mu.Unlock()
		s.failInit(err)
		return
	}
	s.runCycleLocked()
}

// tierOrder lists the tiers to try, in order, per the resolved rollup mode.
func (s *Scanners) tierOrder(cfg *query.ScanConfig, opts *query.Options) []types.Tier {
	raw := types.RawTier(s.ecfg.Storage.RawTable, s.ecfg.Storage.RowSpan)

	switch {
	case opts.RollupUsage == query.RollupRaw || len(cfg.Rollups) == 0:
		return []types.Tier{raw}
	case opts.RollupUsage == query.RollupNoFallback:
		return []types.Tier{cfg.Rollups[0]}
	default:
		tiers := make([]types.Tier, 0, len(cfg.Rollups)+1)
		tiers = append(tiers, cfg.Rollups...)
		return append(tiers, raw)
	}
}

// startTierLocked builds the workers, server filters and push buckets for
// the current tier. Caller holds s.mu.
func (s *Scanners) startTierLocked() error {
	tier := s.tiers[s.tierIndex]

	filters, err := s.plan.ServerFilters()
	if err != nil {
		return err
	}
	if tier.IsRollup() && len(tier.Aggregators) > 0 {
		filters = append(filters, store.NewQualifierPrefixFilter(tier.Aggregators...))
	}

	startBase := tier.AlignToRow(s.cfg.Start)
	stopBase := tier.RowEnd(s.cfg.End - 1)

	s.workers = make([]*Scanner, 0, s.ecfg.Storage.SaltBuckets)
	for salt := 0; salt < s.ecfg.Storage.SaltBuckets; salt++ {
		spec := store.ScanSpec{
			StartKey:     types.KeyPrefix(byte(salt), s.metric, startBase),
			StopKey:      types.KeyPrefix(byte(salt), s.metric, stopBase),
			Reverse:      s.opts.Reverse,
			RowsPerBatch: s.opts.RowsPerScan,
			Filters:      filters,
		}
		s.workers = append(s.workers, newScanner(s, tier, salt, spec, s.caches[salt]))
	}

	if s.cfg.Mode == query.ModePush {
		s.pushStart = startBase
		s.pushEnd = stopBase
		s.buckets = make(map[int64]*TimeBucketSet)
		span := tier.SpanSeconds()
		for b := startBase; b < stopBase; b += span {
			s.buckets[b] = newTimeBucketSet(b, b+span, len(s.workers))
		}
		s.sentData = false
	}

	return nil
}

// runCycleLocked dispatches every worker still able to produce, one
// goroutine each. With none left the cycle ends immediately. Caller holds
// s.mu; the lock is released on return.
func (s *Scanners) runCycleLocked() {
	ctx, snk, trace := s.runCtx, s.sink, s.trace

	ready := make([]*Scanner, 0, len(s.workers))
	for _, w := range s.workers {
		if w.State() == StateContinue {
			ready = append(ready, w)
		}
	}

	if len(ready) == 0 {
		s.endCycleLocked()
		return
	}

	s.activeWorkers = len(ready)
	for _, w := range ready {
		go w.FetchNext(ctx, snk, trace)
	}
	s.mu.Unlock()
}

// ScannerDone is a worker's end-of-cycle report: exhausted for now, paused,
// or terminal. Every dispatched worker reports exactly once per cycle; the
// last report ends the cycle.
func (s *Scanners) ScannerDone() {
	s.mu.Lock()
	s.activeWorkers--
	if s.activeWorkers > 0 {
		s.mu.Unlock()
		return
	}
	s.endCycleLocked()
}

// endCycleLocked decides what the finished cycle amounts to: an error, a
// tier fallback, an intermediate delivery or the final one. Caller holds
// s.mu; the lock is released before any consumer callback.
func (s *Scanners) endCycleLocked() {
	if s.closed {
		s.outstanding = false
		s.mu.Unlock()
		return
	}
	if s.failed {
		// OnError was already delivered by the first Exception.
		s.outstanding = false
		s.finished = true
		s.mu.Unlock()
		return
	}
	if s.runCtx != nil && s.runCtx.Err() != nil {
		// Cancelled: the workers stopped quietly and the consumer's
		// context is closed. No callback follows a cancellation, and no
		// tier fallback is attempted.
		s.outstanding = false
		s.finished = true
		s.mu.Unlock()
		return
	}

	if s.cfg.Mode == query.ModePush {
		s.endPushCycleLocked()
		return
	}

	paused := false
	for _, w := range s.workers {
		if w.State() == StateContinue {
			paused = true
			break
		}
	}

	if paused {
		// Boundary or fullness pause: hand the sink over and wait for
		// the next FetchNext to resume.
		snk := s.sink
		owner := s.owner
		seq := s.sequence
		s.sequence++
		snk.SetSequence(seq)
		s.outstanding = false
		s.mu.Unlock()

		owner.OnNext(snk)
		return
	}

	// Tier exhausted. Fall back while nothing has been delivered and
	// coarser tiers remain.
	if s.sequence == 0 && s.sink.SeriesCount() == 0 && s.tierIndex+1 < len(s.tiers) {
		s.fallbackLocked()
		return
	}

	snk := s.sink
	owner := s.owner
	seq := s.sequence
	s.sequence++
	total := s.sequence
	snk.SetSequence(seq)
	s.outstanding = false
	s.finished = true
	s.mu.Unlock()

	owner.OnNext(snk)
	owner.OnComplete(seq, total)
}

// endPushCycleLocked finalizes a push query: all workers run to exhaustion
// within one cycle, so the tier is done. Buckets still held are complete
// and empty; they are delivered in time order before completion. Caller
// holds s.mu; the lock is released before any consumer callback.
func (s *Scanners) endPushCycleLocked() {
	if !s.sentData && s.tierIndex+1 < len(s.tiers) {
		s.fallbackLocked()
		return
	}

	remaining := make([]*TimeBucketSet, 0, len(s.buckets))
	for _, b := range s.buckets {
		remaining = append(remaining, b)
	}
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].Start() < remaining[j].Start()
	})

	for _, b := range remaining {
		b.ForceComplete()
		b.setSequence(s.sequence)
		s.sequence++
	}

	owner := s.owner
	final := s.sequence - 1
	total := s.sequence
	s.buckets = nil
	s.outstanding = false
	s.finished = true
	s.mu.Unlock()

	for _, b := range remaining {
		owner.OnNext(b)
	}
	owner.OnComplete(final, total)
}

// fallbackLocked advances to the next tier and restarts the cycle. Caller
// holds s.mu; the lock is released on return.
func (s *Scanners) fallbackLocked() {
	s.tierIndex++
	s.trace.AddFallback()
	log.Debug("tier fallback", "tier", s.tiers[s.tierIndex].String())

	if err := s.startTierLocked(); err != nil {
		s.mu.Unlock()
		s.failInit(err)
		return
	}
	s.runCycleLocked()
}

// Exception records a worker failure. The first failure wins: it is
// delivered through OnError and cached for subsequent FetchNext calls;
// later failures are dropped.
func (s *Scanners) Exception(err error) {
	s.mu.Lock()
	if s.failed || s.closed {
		s.mu.Unlock()
		return
	}
	s.failed = true
	s.firstErr = err
	owner := s.owner
	s.mu.Unlock()

	log.Warn("query failed", "error", err)
	if owner != nil {
		owner.OnError(err)
	}
}

// failInit fails the query from a path with no dispatched workers, so the
// outstanding cycle must be cleared here.
func (s *Scanners) failInit(err error) {
	s.Exception(err)

	s.mu.Lock()
	s.outstanding = false
	s.finished = true
	s.mu.Unlock()
}

// deliverEmpty finishes a query that cannot match anything, e.g. an
// unresolved metric under the skip flag.
func (s *Scanners) deliverEmpty() {
	s.mu.Lock()
	owner := s.owner
	mode := s.cfg.Mode
	snk := s.sink
	s.outstanding = false
	s.finished = true
	if mode != query.ModePush {
		s.sequence = 1
	}
	s.mu.Unlock()

	if mode != query.ModePush && snk != nil {
		snk.SetSequence(0)
		owner.OnNext(snk)
		owner.OnComplete(0, 1)
		return
	}
	owner.OnComplete(-1, 0)
}

// aborted reports whether workers should stop processing: the consumer's
// context closed, the query failed, or the coordinator is closing.
func (s *Scanners) aborted(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed || s.closed
}

// bucketAdd routes one flushed partial into its push bucket.
func (s *Scanners) bucketAdd(base int64, p *series.Partial) {
	s.mu.Lock()
	b := s.buckets[base]
	s.mu.Unlock()

	if b == nil {
		return
	}
	if !b.Add(p) {
		s.Exception(errors.NewInvariant("partial added to completed time bucket"))
	}
}

// bucketDone records one worker's completion of a push bucket. The last
// contributor completes the bucket; non-empty completions deliver
// immediately, empty ones are held for ordered delivery at tier end.
func (s *Scanners) bucketDone(base int64) {
	s.mu.Lock()
	b := s.buckets[base]
	s.mu.Unlock()

	if b == nil || !b.ContributorDone() {
		return
	}
	if b.Empty() {
		return
	}

	s.mu.Lock()
	if s.buckets[base] == nil {
		s.mu.Unlock()
		return
	}
	delete(s.buckets, base)
	b.setSequence(s.sequence)
	s.sequence++
	s.sentData = true
	owner := s.owner
	s.mu.Unlock()

	owner.OnNext(b)
}

// Close shuts the coordinator down. In-flight workers are drained with a
// backoff poll up to the resolved close timeout, then all handles, buffers
// and caches are released. Close is idempotent; a closed coordinator
// rejects Reset and FetchNext.
func (s *Scanners) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	timeout := config.DefaultCloseTimeout
	if s.opts != nil {
		timeout = s.opts.CloseTimeout
	}
	s.mu.Unlock()

	deadline := time.Now().Add(timeout)
	interval := config.DefaultClosePollInterval
	for {
		s.mu.Lock()
		idle := !s.outstanding
		s.mu.Unlock()
		if idle {
			break
		}
		if time.Now().After(deadline) {
			log.Warn("close timed out waiting for workers", "timeout", timeout)
			break
		}
		time.Sleep(interval)
		interval *= 2
		if interval > config.DefaultClosePollCap {
			interval = config.DefaultClosePollCap
		}
	}

	s.mu.Lock()
	workers := s.workers
	caches := s.caches
	s.workers = nil
	s.caches = nil
	s.buckets = nil
	s.sink = nil
	s.owner = nil
	s.mu.Unlock()

	for _, w := range workers {
		w.release()
	}
	for _, c := range caches {
		c.Release()
	}

	return nil
}
