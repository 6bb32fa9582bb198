// scanline is a command line query runner for scanline tier tables: it
// opens a DuckDB or Parquet backed store, resolves names through a UID
// manifest, and streams one query's results to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/scanline/internal/errors"
	"github.com/xtxerr/scanline/internal/logging"
	"github.com/xtxerr/scanline/internal/query"
	"github.com/xtxerr/scanline/internal/query/filter"
	"github.com/xtxerr/scanline/internal/query/node"
	"github.com/xtxerr/scanline/internal/query/scan"
	"github.com/xtxerr/scanline/internal/series"
	"github.com/xtxerr/scanline/internal/storage/duckstore"
	"github.com/xtxerr/scanline/internal/storage/parquetstore"
	"github.com/xtxerr/scanline/internal/storage/store"
	"github.com/xtxerr/scanline/internal/uid"
)

// Version is set at build time via ldflags.
var Version = "dev"

// tagFlags collects repeated -tag key=value filters.
type tagFlags map[string]string

func (t tagFlags) String() string { return fmt.Sprintf("%v", map[string]string(t)) }

func (t tagFlags) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("tag filter %q is not key=value", v)
	}
	if prev, dup := t[k]; dup {
		t[k] = prev + "|" + val
		return nil
	}
	t[k] = val
	return nil
}

// parquetFlags collects repeated -parquet table=file mappings.
type parquetFlags map[string]string

func (p parquetFlags) String() string { return fmt.Sprintf("%v", map[string]string(p)) }

func (p parquetFlags) Set(v string) error {
	table, file, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("parquet mapping %q is not table=file", v)
	}
	p[table] = file
	return nil
}

// manifest is the UID assignment file: names listed in the order their UIDs
// were assigned at write time.
type manifest struct {
	Metrics   []string `yaml:"metrics"`
	TagKeys   []string `yaml:"tag_keys"`
	TagValues []string `yaml:"tag_values"`
}

func loadRegistry(path string) (*uid.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read uid manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse uid manifest: %w", err)
	}

	reg := uid.NewRegistry(true)
	for _, name := range m.Metrics {
		if _, err := reg.GetOrAssign(uid.Metric, name); err != nil {
			return nil, err
		}
	}
	for _, name := range m.TagKeys {
		if _, err := reg.GetOrAssign(uid.TagKey, name); err != nil {
			return nil, err
		}
	}
	for _, name := range m.TagValues {
		if _, err := reg.GetOrAssign(uid.TagValue, name); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// printConsumer streams deliveries to stdout, signalling main after every
// delivery and on the terminal callback.
type printConsumer struct {
	reg  *uid.Registry
	next chan struct{}
	done chan error
}

func newPrintConsumer(reg *uid.Registry) *printConsumer {
	return &printConsumer{
		reg:  reg,
		next: make(chan struct{}, 1),
		done: make(chan error, 1),
	}
}

func (c *printConsumer) OnNext(result query.Result) {
	for _, p := range result.Series() {
		fmt.Printf("series %s seq=%d\n", c.describe(p), result.Sequence())
		for _, pt := range p.Points {
			fmt.Printf("  %d %g\n", pt.Timestamp, pt.Value)
		}
		for agg, pts := range p.Summaries {
			for _, pt := range pts {
				fmt.Printf("  %d %s=%g\n", pt.Timestamp, agg, pt.Value)
			}
		}
	}
	select {
	case c.next <- struct{}{}:
	default:
	}
}

func (c *printConsumer) OnError(err error) { c.done <- err }

func (c *printConsumer) OnComplete(finalSequence, totalSequences int64) {
	fmt.Printf("complete: %d deliveries\n", totalSequences)
	c.done <- nil
}

// describe renders a series as metric{k=v,...}, falling back to the raw
// hash when a UID is missing from the manifest.
func (c *printConsumer) describe(p *series.Partial) string {
	if len(p.TSUID) < uid.Width || (len(p.TSUID)-uid.Width)%(2*uid.Width) != 0 {
		return fmt.Sprintf("%016x", p.Hash)
	}

	ctx := context.Background()
	name, err := c.reg.ResolveUID(ctx, uid.Metric, uid.UID(p.TSUID[:uid.Width]))
	if err != nil {
		return fmt.Sprintf("%016x", p.Hash)
	}

	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('{')
	for at := uid.Width; at < len(p.TSUID); at += 2 * uid.Width {
		k, kerr := c.reg.ResolveUID(ctx, uid.TagKey, uid.UID(p.TSUID[at:at+uid.Width]))
		v, verr := c.reg.ResolveUID(ctx, uid.TagValue, uid.UID(p.TSUID[at+uid.Width:at+2*uid.Width]))
		if kerr != nil || verr != nil {
			return fmt.Sprintf("%016x", p.Hash)
		}
		if at > uid.Width {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(v)
	}
	sb.WriteByte('}')
	return sb.String()
}

func main() {
	cfgPath := flag.String("config", "", "engine config file (defaults when empty)")
	dbPath := flag.String("db", "", "DuckDB database path")
	uidPath := flag.String("uids", "uids.yaml", "UID manifest path")
	metric := flag.String("metric", "", "metric to query")
	start := flag.Int64("start", 0, "window start, epoch seconds (inclusive)")
	end := flag.Int64("end", 0, "window end, epoch seconds (exclusive)")
	mode := flag.String("mode", "single", "delivery mode: single, continuous, push")
	reverse := flag.Bool("reverse", false, "scan in descending time order")
	debug := flag.Bool("debug", false, "debug logging")
	jsonLogs := flag.Bool("json-logs", false, "JSON log output")
	version := flag.Bool("version", false, "print version and exit")

	tags := tagFlags{}
	flag.Var(tags, "tag", "tag filter key=value, repeatable; values may use | alternation")
	parquet := parquetFlags{}
	flag.Var(parquet, "parquet", "parquet table mapping table=file, repeatable")
	flag.Parse()

	if *version {
		fmt.Println("scanline", Version)
		return
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logging.Init(level, *jsonLogs)
	log := logging.Component("main")

	if *metric == "" || *end <= *start {
		fmt.Fprintln(os.Stderr, "usage: scanline -metric NAME -start S -end E (-db FILE | -parquet table=file)")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ecfg := query.DefaultConfig()
	if *cfgPath != "" {
		loaded, err := query.Load(*cfgPath)
		if err != nil {
			log.Error("load config", "error", err)
			os.Exit(1)
		}
		ecfg = loaded
	}

	reg, err := loadRegistry(*uidPath)
	if err != nil {
		log.Error("load uid manifest", "error", err)
		os.Exit(1)
	}

	var st store.Store
	switch {
	case *dbPath != "":
		db, err := duckstore.Open(*dbPath)
		if err != nil {
			log.Error("open duckdb store", "error", err, "path", *dbPath)
			os.Exit(1)
		}
		defer db.Close()
		st = db
	case len(parquet) > 0:
		ps, err := parquetstore.Open(context.Background(), parquet)
		if err != nil {
			log.Error("open parquet store", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		st = ps
	default:
		fmt.Fprintln(os.Stderr, "one of -db or -parquet is required")
		os.Exit(2)
	}

	var f filter.Filter
	if len(tags) > 0 {
		parts := make([]filter.Filter, 0, len(tags))
		for k, v := range tags {
			parts = append(parts, filter.NewTagLiteralOr(k, v))
		}
		f = filter.And(parts...)
	}

	var qmode query.Mode
	switch *mode {
	case "single":
		qmode = query.ModeSingle
	case "continuous":
		qmode = query.ModeContinuous
	case "push":
		qmode = query.ModePush
	default:
		log.Error("unknown mode", "mode", *mode)
		os.Exit(2)
	}

	overrides := map[string]string{}
	if *reverse {
		overrides["query.reverse_scan"] = "true"
	}

	consumer := newPrintConsumer(reg)
	planner := node.NewPlanner(st, reg, ecfg, nil)
	exec, err := planner.Plan(context.Background(), consumer, &query.ScanConfig{
		Metric:    *metric,
		Filter:    f,
		Start:     *start,
		End:       *end,
		Mode:      qmode,
		Overrides: overrides,
	})
	if err != nil {
		log.Error("plan query", "error", err)
		os.Exit(1)
	}
	defer exec.Close()

	started := time.Now()
	if err := run(exec, qmode, ecfg, consumer); err != nil {
		log.Error("query failed", "error", err)
		os.Exit(1)
	}
	log.Info("query done", "elapsed", time.Since(started))
}

// run drives the execution to its terminal callback: push mode needs one
// fetch, pull modes fetch until completion.
func run(exec node.Execution, mode query.Mode, ecfg *query.Config, consumer *printConsumer) error {
	trace := query.NewTrace()

	if mode != query.ModeContinuous {
		snk := scan.NewResultSink(ecfg.Sink.MaxSeries, ecfg.Sink.MaxPoints)
		if mode == query.ModePush {
			snk = nil
		}
		if err := exec.FetchNext(context.Background(), snk, trace); err != nil {
			return err
		}
		return <-consumer.done
	}

	for {
		snk := scan.NewResultSink(ecfg.Sink.MaxSeries, ecfg.Sink.MaxPoints)
		if err := exec.FetchNext(context.Background(), snk, trace); err != nil {
			if errors.Is(err, errors.ErrClosed) {
				// The final delivery raced the completion callback.
				return <-consumer.done
			}
			return err
		}
		select {
		case err := <-consumer.done:
			return err
		case <-consumer.next:
			// Delivery landed without completing; fetch the next cycle.
		}
	}
}
