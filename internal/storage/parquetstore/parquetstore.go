// Package parquetstore is a read-only store.Store over Parquet files, one
// file per tier table. Files are loaded up front, in parallel, into sorted
// in-memory tables; scans and gets never touch the filesystem afterwards.
package parquetstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/scanline/internal/errors"
	"github.com/xtxerr/scanline/internal/logging"
	"github.com/xtxerr/scanline/internal/storage/store"
	"github.com/xtxerr/scanline/internal/storage/types"
)

var log = logging.Component("parquetstore")

// CellRow is the Parquet record layout: one record per cell.
type CellRow struct {
	Key       []byte `parquet:"key,zstd"`
	Qualifier []byte `parquet:"qualifier,zstd"`
	Value     []byte `parquet:"value"`
}

// Store serves scans and gets over tables loaded from Parquet files.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	closed bool
}

type table struct {
	rows []types.Row
}

// Open loads every table file in parallel. files maps tier table names to
// Parquet file paths; a failed load fails the whole open.
func Open(ctx context.Context, files map[string]string) (*Store, error) {
	st := &Store{tables: make(map[string]*table, len(files))}

	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	for name, path := range files {
		name, path := name, path
		g.Go(func() error {
			t, err := loadTable(path)
			if err != nil {
				return fmt.Errorf("load table %s from %s: %w", name, path, err)
			}
			mu.Lock()
			st.tables[name] = t
			mu.Unlock()

			log.Debug("table loaded", "table", name, "rows", len(t.rows))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return st, nil
}

func loadTable(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[CellRow](f)
	defer reader.Close()

	cells := make([]CellRow, reader.NumRows())
	if len(cells) > 0 {
		if _, err := reader.Read(cells); err != nil {
			return nil, fmt.Errorf("read cells: %w", err)
		}
	}

	sort.Slice(cells, func(i, j int) bool {
		if c := bytes.Compare(cells[i].Key, cells[j].Key); c != 0 {
			return c < 0
		}
		return bytes.Compare(cells[i].Qualifier, cells[j].Qualifier) < 0
	})

	t := &table{}
	for _, c := range cells {
		n := len(t.rows)
		if n == 0 || !bytes.Equal(t.rows[n-1].Key, c.Key) {
			t.rows = append(t.rows, types.Row{Key: c.Key})
			n++
		}
		t.rows[n-1].Cells = append(t.rows[n-1].Cells,
			types.Cell{Qualifier: c.Qualifier, Value: c.Value})
	}
	return t, nil
}

// WriteFile writes rows out as one Parquet table file.
func WriteFile(path string, rows []types.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[CellRow](f)
	for _, row := range rows {
		records := make([]CellRow, len(row.Cells))
		for i, c := range row.Cells {
			records[i] = CellRow{Key: row.Key, Qualifier: c.Qualifier, Value: c.Value}
		}
		if _, err := writer.Write(records); err != nil {
			f.Close()
			return fmt.Errorf("write cells: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return f.Close()
}

// Close releases the loaded tables.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.tables = nil
	return nil
}

// RowCount returns the number of rows loaded for a table.
func (s *Store) RowCount(tableName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.tables[tableName]
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// NewScan implements store.Store.
func (s *Store) NewScan(tableName string, spec store.ScanSpec) (store.ScanHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.ErrStoreClosed
	}
	t, ok := s.tables[tableName]
	if !ok {
		return nil, errors.Wrapf(errors.ErrTableNotFound, "table %s", tableName)
	}

	batch := spec.RowsPerBatch
	if batch < 1 {
		batch = 1
	}
	return &scanHandle{rows: t.rows, spec: spec, batch: batch}, nil
}

// MultiGet implements store.Store.
func (s *Store) MultiGet(ctx context.Context, tableName string, keys [][]byte) ([]types.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.ErrStoreClosed
	}
	t, ok := s.tables[tableName]
	if !ok {
		return nil, errors.Wrapf(errors.ErrTableNotFound, "table %s", tableName)
	}

	sorted := make([][]byte, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })

	var out []types.Row
	for i, k := range sorted {
		if i > 0 && bytes.Equal(k, sorted[i-1]) {
			continue
		}
		j := sort.Search(len(t.rows), func(j int) bool {
			return bytes.Compare(t.rows[j].Key, k) >= 0
		})
		if j < len(t.rows) && bytes.Equal(t.rows[j].Key, k) {
			out = append(out, t.rows[j])
		}
	}
	return out, nil
}

// scanHandle walks an immutable sorted row slice.
type scanHandle struct {
	rows  []types.Row
	spec  store.ScanSpec
	batch int

	lastKey  []byte
	started  bool
	finished bool
}

// NextBatch implements store.ScanHandle.
func (h *scanHandle) NextBatch(ctx context.Context) ([]types.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.finished {
		return nil, nil
	}

	var out []types.Row
	if h.spec.Reverse {
		out = h.nextReverse()
	} else {
		out = h.nextForward()
	}

	if len(out) == 0 {
		h.finished = true
		return nil, nil
	}
	return out, nil
}

func (h *scanHandle) nextForward() []types.Row {
	from := h.spec.StartKey
	if h.started {
		from = h.lastKey
	}

	i := sort.Search(len(h.rows), func(i int) bool {
		if h.started {
			return bytes.Compare(h.rows[i].Key, from) > 0
		}
		return bytes.Compare(h.rows[i].Key, from) >= 0
	})

	var out []types.Row
	for ; i < len(h.rows) && len(out) < h.batch; i++ {
		row := h.rows[i]
		if len(h.spec.StopKey) > 0 && bytes.Compare(row.Key, h.spec.StopKey) >= 0 {
			break
		}
		h.started = true
		h.lastKey = row.Key
		if filtered, ok := store.ApplyFilters(h.spec.Filters, row); ok {
			out = append(out, filtered)
		}
	}
	return out
}

func (h *scanHandle) nextReverse() []types.Row {
	// Reverse scans walk from just below StopKey down to StartKey.
	i := sort.Search(len(h.rows), func(i int) bool {
		if h.started {
			return bytes.Compare(h.rows[i].Key, h.lastKey) >= 0
		}
		if len(h.spec.StopKey) == 0 {
			return false
		}
		return bytes.Compare(h.rows[i].Key, h.spec.StopKey) >= 0
	}) - 1
	if !h.started && len(h.spec.StopKey) == 0 {
		i = len(h.rows) - 1
	}

	var out []types.Row
	for ; i >= 0 && len(out) < h.batch; i-- {
		row := h.rows[i]
		if bytes.Compare(row.Key, h.spec.StartKey) < 0 {
			break
		}
		h.started = true
		h.lastKey = row.Key
		if filtered, ok := store.ApplyFilters(h.spec.Filters, row); ok {
			out = append(out, filtered)
		}
	}
	return out
}

// Close implements store.ScanHandle.
func (h *scanHandle) Close() error {
	h.finished = true
	return nil
}
