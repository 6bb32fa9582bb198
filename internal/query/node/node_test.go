package node

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/scanline/internal/errors"
	"github.com/xtxerr/scanline/internal/query"
	"github.com/xtxerr/scanline/internal/query/filter"
	"github.com/xtxerr/scanline/internal/query/scan"
	"github.com/xtxerr/scanline/internal/storage/memstore"
	"github.com/xtxerr/scanline/internal/storage/types"
	stest "github.com/xtxerr/scanline/internal/testing"
	"github.com/xtxerr/scanline/internal/uid"
)

const waitFor = 5 * time.Second

// scriptedMeta returns a fixed outcome and records the lookup.
type scriptedMeta struct {
	out     MetaOutcome
	lookups int
}

func (m *scriptedMeta) Lookup(ctx context.Context, metric string, f filter.Filter) MetaOutcome {
	m.lookups++
	return m.out
}

func nodeConfig() *query.Config {
	cfg := query.DefaultConfig()
	cfg.Storage.SaltBuckets = 4
	cfg.Storage.RowSpan = time.Hour
	cfg.Storage.RawTable = "tsdb"
	return cfg
}

func TestChoose_Strategies(t *testing.T) {
	tsuids := [][]byte{{1}, {2}, {3}}

	tests := []struct {
		name  string
		out   MetaOutcome
		limit int
		want  Strategy
	}{
		{"data under limit", MetaOutcome{Result: MetaData, TSUIDs: tsuids}, 10, StrategyMultiGet},
		{"data at limit", MetaOutcome{Result: MetaData, TSUIDs: tsuids}, 3, StrategyMultiGet},
		{"data over limit", MetaOutcome{Result: MetaData, TSUIDs: tsuids}, 2, StrategyScan},
		{"data empty set", MetaOutcome{Result: MetaData}, 10, StrategyScan},
		{"nodata", MetaOutcome{Result: MetaNoData}, 10, StrategyEmpty},
		{"nodata fallback", MetaOutcome{Result: MetaNoDataFallback}, 10, StrategyScan},
		{"high cardinality", MetaOutcome{Result: MetaHighCardinalityFallback}, 10, StrategyScan},
		{"exception", MetaOutcome{Result: MetaException, Err: errors.ErrScanFailure}, 10, StrategyFail},
		{"exception fallback", MetaOutcome{Result: MetaExceptionFallback}, 10, StrategyScan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Choose(tt.out, tt.limit); got != tt.want {
				t.Errorf("Choose() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestKeys_ExpandsWindowBySeries(t *testing.T) {
	tier := types.RawTier("tsdb", time.Hour)
	tsuids := [][]byte{
		{0, 0, 1, 0, 0, 1, 0, 0, 1},
		{0, 0, 1, 0, 0, 1, 0, 0, 2},
	}

	// Window covers three row spans.
	keys := Keys(4, tier, tsuids, 3600, 12000)
	if len(keys) != 6 {
		t.Fatalf("keys = %d, want 2 series x 3 spans", len(keys))
	}
	for _, k := range keys {
		if err := types.ValidateKey(k); err != nil {
			t.Errorf("invalid key %x: %v", k, err)
		}
	}
	if base := types.ParseBaseTime(keys[0]); base != 3600 {
		t.Errorf("first base = %d, want 3600", base)
	}
	if base := types.ParseBaseTime(keys[len(keys)-1]); base != 10800 {
		t.Errorf("last base = %d, want 10800", base)
	}
}

func TestKeys_EmptyInputs(t *testing.T) {
	tier := types.RawTier("tsdb", time.Hour)

	if got := Keys(4, tier, nil, 0, 3600); got != nil {
		t.Errorf("Keys(no series) = %v, want nil", got)
	}
	if got := Keys(4, tier, [][]byte{{1}}, 3600, 3600); got != nil {
		t.Errorf("Keys(empty window) = %v, want nil", got)
	}
}

func TestPlanner_NoMetaAlwaysScans(t *testing.T) {
	ecfg := nodeConfig()
	st := memstore.New()
	defer st.Close()
	reg := stest.NewRegistry(t, []string{"sys.cpu"}, nil, nil)

	p := NewPlanner(st, reg, ecfg, nil)
	exec, err := p.Plan(context.Background(), stest.NewCaptureConsumer(), &query.ScanConfig{
		Metric: "sys.cpu", Start: 0, End: 3600, Mode: query.ModeSingle,
	})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	defer exec.Close()

	if _, ok := exec.(*scan.Scanners); !ok {
		t.Errorf("execution is %T, want *scan.Scanners", exec)
	}
}

func TestPlanner_PushIgnoresMeta(t *testing.T) {
	ecfg := nodeConfig()
	st := memstore.New()
	defer st.Close()
	reg := stest.NewRegistry(t, []string{"sys.cpu"}, nil, nil)

	meta := &scriptedMeta{out: MetaOutcome{Result: MetaNoData}}
	p := NewPlanner(st, reg, ecfg, meta)
	exec, err := p.Plan(context.Background(), stest.NewCaptureConsumer(), &query.ScanConfig{
		Metric: "sys.cpu", Start: 0, End: 3600, Mode: query.ModePush,
	})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	defer exec.Close()

	if meta.lookups != 0 {
		t.Errorf("meta lookups = %d, want 0 in push mode", meta.lookups)
	}
	if _, ok := exec.(*scan.Scanners); !ok {
		t.Errorf("execution is %T, want *scan.Scanners", exec)
	}
}

func TestPlanner_MetaException(t *testing.T) {
	ecfg := nodeConfig()
	st := memstore.New()
	defer st.Close()
	reg := stest.NewRegistry(t, []string{"sys.cpu"}, nil, nil)

	meta := &scriptedMeta{out: MetaOutcome{
		Result: MetaException,
		Err:    errors.NewScanFailure(errors.ErrStoreClosed),
	}}
	p := NewPlanner(st, reg, ecfg, meta)

	_, err := p.Plan(context.Background(), stest.NewCaptureConsumer(), &query.ScanConfig{
		Metric: "sys.cpu", Start: 0, End: 3600, Mode: query.ModeSingle,
	})
	if !errors.IsScanFailure(err) {
		t.Errorf("Plan() error = %v, want the meta failure", err)
	}
}

func TestPlanner_ContractViolations(t *testing.T) {
	ecfg := nodeConfig()
	st := memstore.New()
	defer st.Close()
	reg := stest.NewRegistry(t, []string{"sys.cpu"}, nil, nil)
	p := NewPlanner(st, reg, ecfg, nil)

	if _, err := p.Plan(context.Background(), nil, &query.ScanConfig{}); !errors.Is(err, errors.ErrNoOwner) {
		t.Errorf("Plan(nil owner) = %v, want ErrNoOwner", err)
	}
	if _, err := p.Plan(context.Background(), stest.NewCaptureConsumer(), nil); !errors.Is(err, errors.ErrNoConfig) {
		t.Errorf("Plan(nil config) = %v, want ErrNoConfig", err)
	}
	if _, err := p.Plan(context.Background(), stest.NewCaptureConsumer(), &query.ScanConfig{
		Metric:    "sys.cpu",
		Overrides: map[string]string{"query.rows_per_scan": "not-a-number"},
	}); !errors.Is(err, errors.ErrBadOverride) {
		t.Errorf("Plan(bad override) = %v, want ErrBadOverride", err)
	}
}

func TestPlanner_EmptyExecution(t *testing.T) {
	ecfg := nodeConfig()
	st := memstore.New()
	defer st.Close()
	reg := stest.NewRegistry(t, []string{"sys.cpu"}, nil, nil)

	meta := &scriptedMeta{out: MetaOutcome{Result: MetaNoData}}
	p := NewPlanner(st, reg, ecfg, meta)
	consumer := stest.NewCaptureConsumer()

	exec, err := p.Plan(context.Background(), consumer, &query.ScanConfig{
		Metric: "sys.cpu", Start: 0, End: 3600, Mode: query.ModeSingle,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer exec.Close()

	snk := scan.NewResultSink(10, 10)
	if err := exec.FetchNext(context.Background(), snk, query.NewTrace()); err != nil {
		t.Fatal(err)
	}
	if err := consumer.WaitDone(waitFor); err != nil {
		t.Fatal(err)
	}
	if got := consumer.PointTotal(); got != 0 {
		t.Errorf("points = %d, want 0", got)
	}
	if !consumer.Completed() || consumer.TotalSequences() != 1 {
		t.Errorf("completed = %v total = %d, want one empty delivery",
			consumer.Completed(), consumer.TotalSequences())
	}

	if err := exec.FetchNext(context.Background(), snk, query.NewTrace()); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("second FetchNext() = %v, want ErrClosed", err)
	}
}

func TestMultiGet_DeliversResolvedSeries(t *testing.T) {
	ecfg := nodeConfig()
	st := memstore.New()
	defer st.Close()
	reg := stest.NewRegistry(t, []string{"sys.cpu"}, []string{"host"}, []string{"web00", "web01", "web02"})

	tier := types.RawTier(ecfg.Storage.RawTable, ecfg.Storage.RowSpan)
	metric := stest.MustResolve(t, reg, uid.Metric, "sys.cpu")

	var tsuids [][]byte
	for _, h := range []string{"web00", "web01", "web02"} {
		tags := stest.Tags(t, reg, map[string]string{"host": h})
		stest.SeedSeries(t, st, ecfg.Storage.RawTable, ecfg.Storage.SaltBuckets,
			tier, metric, tags, stest.Points(3600, 600, 1, 2, 3, 4))
		if h != "web02" {
			tsuids = append(tsuids, types.TSUIDOf(metric, tags))
		}
	}

	meta := &scriptedMeta{out: MetaOutcome{Result: MetaData, TSUIDs: tsuids}}
	p := NewPlanner(st, reg, ecfg, meta)
	consumer := stest.NewCaptureConsumer()

	exec, err := p.Plan(context.Background(), consumer, &query.ScanConfig{
		Metric: "sys.cpu", Start: 0, End: 100000, Mode: query.ModeSingle,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer exec.Close()

	if _, ok := exec.(*multiGetExec); !ok {
		t.Fatalf("execution is %T, want *multiGetExec", exec)
	}

	snk := scan.NewResultSink(ecfg.Sink.MaxSeries, ecfg.Sink.MaxPoints)
	if err := exec.FetchNext(context.Background(), snk, query.NewTrace()); err != nil {
		t.Fatal(err)
	}
	if err := consumer.WaitDone(waitFor); err != nil {
		t.Fatal(err)
	}
	if err := consumer.Err(); err != nil {
		t.Fatalf("query failed: %v", err)
	}

	// Only the two resolved series come back; web02 is on disk but was not
	// in the resolved set.
	if got := consumer.SeriesTotal(); got != 2 {
		t.Errorf("series = %d, want 2", got)
	}
	if got := consumer.PointTotal(); got != 8 {
		t.Errorf("points = %d, want 8", got)
	}
	if got, want := consumer.TotalSequences(), int64(1); got != want {
		t.Errorf("total sequences = %d, want %d", got, want)
	}
}

func TestMultiGet_WindowTrim(t *testing.T) {
	ecfg := nodeConfig()
	st := memstore.New()
	defer st.Close()
	reg := stest.NewRegistry(t, []string{"sys.cpu"}, []string{"host"}, []string{"web00"})

	tier := types.RawTier(ecfg.Storage.RawTable, ecfg.Storage.RowSpan)
	metric := stest.MustResolve(t, reg, uid.Metric, "sys.cpu")
	tags := stest.Tags(t, reg, map[string]string{"host": "web00"})
	stest.SeedSeries(t, st, ecfg.Storage.RawTable, ecfg.Storage.SaltBuckets,
		tier, metric, tags, stest.Points(3600, 600, 1, 2, 3, 4, 5, 6))

	meta := &scriptedMeta{out: MetaOutcome{
		Result: MetaData,
		TSUIDs: [][]byte{types.TSUIDOf(metric, tags)},
	}}
	p := NewPlanner(st, reg, ecfg, meta)
	consumer := stest.NewCaptureConsumer()

	// [4200, 5400) keeps points 4200 and 4800 only.
	exec, err := p.Plan(context.Background(), consumer, &query.ScanConfig{
		Metric: "sys.cpu", Start: 4200, End: 5400, Mode: query.ModeSingle,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer exec.Close()

	snk := scan.NewResultSink(ecfg.Sink.MaxSeries, ecfg.Sink.MaxPoints)
	if err := exec.FetchNext(context.Background(), snk, query.NewTrace()); err != nil {
		t.Fatal(err)
	}
	if err := consumer.WaitDone(waitFor); err != nil {
		t.Fatal(err)
	}

	pts := consumer.AllPoints()
	if len(pts) != 2 {
		t.Fatalf("points = %d, want 2", len(pts))
	}
	for _, p := range pts {
		if p.Timestamp < 4200 || p.Timestamp >= 5400 {
			t.Errorf("point at %d outside [4200,5400)", p.Timestamp)
		}
	}
}

func TestMultiGet_RequiresSink(t *testing.T) {
	e := newMultiGetExec(nil, stest.NewCaptureConsumer(), &query.ScanConfig{}, &query.Options{}, nodeConfig(), nil)
	if err := e.FetchNext(context.Background(), nil, query.NewTrace()); !errors.IsInvariant(err) {
		t.Errorf("FetchNext(nil sink) = %v, want invariant violation", err)
	}
}
