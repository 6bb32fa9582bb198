// Package node plans how a query reaches storage: a meta lookup resolves
// the matching series set up front when one is available, and its outcome
// picks between batched exact-key gets and salted range scans.
package node

import (
	"context"

	"github.com/xtxerr/scanline/internal/errors"
	"github.com/xtxerr/scanline/internal/logging"
	"github.com/xtxerr/scanline/internal/query"
	"github.com/xtxerr/scanline/internal/query/filter"
	"github.com/xtxerr/scanline/internal/query/scan"
	"github.com/xtxerr/scanline/internal/storage/store"
	"github.com/xtxerr/scanline/internal/uid"
)

var log = logging.Component("node")

// MetaResult classifies one meta lookup.
type MetaResult int

const (
	// MetaData means the lookup resolved the matching series set.
	MetaData MetaResult = iota

	// MetaNoData means the lookup is authoritative and nothing matches.
	MetaNoData

	// MetaNoDataFallback means the lookup found nothing but is not
	// authoritative; the query falls back to scanning.
	MetaNoDataFallback

	// MetaHighCardinalityFallback means the matching set was too large to
	// enumerate; the query falls back to scanning.
	MetaHighCardinalityFallback

	// MetaException means the lookup failed and the failure is fatal.
	MetaException

	// MetaExceptionFallback means the lookup failed but the query may
	// still be served by scanning.
	MetaExceptionFallback
)

// String returns the string representation of the result.
func (r MetaResult) String() string {
	switch r {
	case MetaData:
		return "data"
	case MetaNoData:
		return "nodata"
	case MetaNoDataFallback:
		return "nodata_fallback"
	case MetaHighCardinalityFallback:
		return "high_cardinality_fallback"
	case MetaException:
		return "exception"
	case MetaExceptionFallback:
		return "exception_fallback"
	default:
		return "unknown"
	}
}

// MetaOutcome is one meta lookup's verdict: a classification, the resolved
// series for MetaData, and the cause for the exception flavors.
type MetaOutcome struct {
	Result MetaResult
	TSUIDs [][]byte
	Err    error
}

// MetaQuery resolves the series matching a metric and filter ahead of the
// scan, e.g. from a search index.
type MetaQuery interface {
	Lookup(ctx context.Context, metric string, f filter.Filter) MetaOutcome
}

// Strategy is the chosen read path.
type Strategy int

const (
	// StrategyScan runs the salted multi-tier range scan.
	StrategyScan Strategy = iota

	// StrategyMultiGet fetches exact row keys for a resolved series set.
	StrategyMultiGet

	// StrategyEmpty delivers an empty result without touching storage.
	StrategyEmpty

	// StrategyFail fails the query with the meta lookup's error.
	StrategyFail
)

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyScan:
		return "scan"
	case StrategyMultiGet:
		return "multiget"
	case StrategyEmpty:
		return "empty"
	case StrategyFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Choose maps a meta outcome to a read strategy. Resolved sets above the
// multi-get cardinality ceiling scan instead.
func Choose(out MetaOutcome, multiGetLimit int) Strategy {
	switch out.Result {
	case MetaData:
		if n := len(out.TSUIDs); n > 0 && n <= multiGetLimit {
			return StrategyMultiGet
		}
		return StrategyScan
	case MetaNoData:
		return StrategyEmpty
	case MetaException:
		return StrategyFail
	default:
		return StrategyScan
	}
}

// Execution is a planned query bound to its consumer, ready to fetch.
// *scan.Scanners is the range-scan execution; the planner provides the
// multi-get and empty ones.
type Execution interface {
	FetchNext(ctx context.Context, snk *scan.ResultSink, trace *query.Trace) error
	Close() error
}

// Planner binds queries to executions. With no meta query configured every
// query scans.
type Planner struct {
	store    store.Store
	resolver uid.Resolver
	ecfg     *query.Config
	meta     MetaQuery
}

// NewPlanner creates a planner. meta may be nil.
func NewPlanner(st store.Store, resolver uid.Resolver, ecfg *query.Config, meta MetaQuery) *Planner {
	return &Planner{store: st, resolver: resolver, ecfg: ecfg, meta: meta}
}

// Plan resolves the query's strategy and returns the bound execution.
//
// Push mode always scans: bucket completion tracking is a scan-engine
// concept and exact-key gets cannot feed it.
func (p *Planner) Plan(ctx context.Context, owner query.Consumer, cfg *query.ScanConfig) (Execution, error) {
	if owner == nil {
		return nil, errors.ErrNoOwner
	}
	if cfg == nil {
		return nil, errors.ErrNoConfig
	}

	opts, err := p.ecfg.ResolveOptions(cfg.Overrides)
	if err != nil {
		return nil, err
	}

	if p.meta != nil && cfg.Mode != query.ModePush {
		out := p.meta.Lookup(ctx, cfg.Metric, cfg.Filter)
		strategy := Choose(out, opts.MultiGetLimit)

		log.Debug("query planned",
			"metric", cfg.Metric,
			"meta", out.Result.String(),
			"resolved", len(out.TSUIDs),
			"strategy", strategy.String())

		switch strategy {
		case StrategyFail:
			return nil, out.Err
		case StrategyEmpty:
			return newEmptyExec(owner), nil
		case StrategyMultiGet:
			return newMultiGetExec(p.store, owner, cfg, opts, p.ecfg, out.TSUIDs), nil
		}
	}

	sc := scan.NewScanners(p.store, p.resolver, p.ecfg)
	if err := sc.Reset(owner, cfg); err != nil {
		return nil, err
	}
	return sc, nil
}
