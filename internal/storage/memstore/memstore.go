// Package memstore provides an in-memory ordered-key store implementing the
// store client contract. It backs tests and embedded deployments; the
// durable backends live in duckstore and parquetstore.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xtxerr/scanline/internal/errors"
	"github.com/xtxerr/scanline/internal/storage/store"
	"github.com/xtxerr/scanline/internal/storage/types"
)

// Store is an in-memory multi-table ordered store.
//
// Store is safe for concurrent use. Scans see writes made after the scan
// was opened, matching the column store's loose snapshot semantics.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	closed bool

	// faults maps table -> scripted scan fault, for tests.
	faults map[string]*scanFault
}

type table struct {
	rows []types.Row // sorted by key
}

type scanFault struct {
	afterBatches int
	err          error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		tables: make(map[string]*table),
		faults: make(map[string]*scanFault),
	}
}

// Close marks the store closed; further operations fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Put merges cells into the row at key, creating table and row as needed.
// Cells are kept sorted by qualifier; an existing qualifier is overwritten.
func (s *Store) Put(tableName string, key []byte, cells ...types.Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tables[tableName]
	if t == nil {
		t = &table{}
		s.tables[tableName] = t
	}

	i := sort.Search(len(t.rows), func(i int) bool {
		return bytes.Compare(t.rows[i].Key, key) >= 0
	})

	if i == len(t.rows) || !bytes.Equal(t.rows[i].Key, key) {
		k := append([]byte(nil), key...)
		t.rows = append(t.rows, types.Row{})
		copy(t.rows[i+1:], t.rows[i:])
		t.rows[i] = types.Row{Key: k}
	}

	for _, c := range cells {
		t.rows[i].Cells = mergeCell(t.rows[i].Cells, c)
	}
}

func mergeCell(cells []types.Cell, c types.Cell) []types.Cell {
	i := sort.Search(len(cells), func(i int) bool {
		return bytes.Compare(cells[i].Qualifier, c.Qualifier) >= 0
	})
	if i < len(cells) && bytes.Equal(cells[i].Qualifier, c.Qualifier) {
		cells[i].Value = append([]byte(nil), c.Value...)
		return cells
	}
	cells = append(cells, types.Cell{})
	copy(cells[i+1:], cells[i:])
	cells[i] = types.Cell{
		Qualifier: append([]byte(nil), c.Qualifier...),
		Value:     append([]byte(nil), c.Value...),
	}
	return cells
}

// FailScans scripts a scan fault: every scan opened on the table afterwards
// returns err once it has produced afterBatches successful batches.
func (s *Store) FailScans(tableName string, afterBatches int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[tableName] = &scanFault{afterBatches: afterBatches, err: err}
}

// RowCount returns the number of rows in a table.
func (s *Store) RowCount(tableName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.tables[tableName]; t != nil {
		return len(t.rows)
	}
	return 0
}

// =============================================================================
// Scanning
// =============================================================================

// NewScan implements store.Store.
func (s *Store) NewScan(tableName string, spec store.ScanSpec) (store.ScanHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	batch := spec.RowsPerBatch
	if batch <= 0 {
		batch = 128
	}

	h := &scanHandle{
		store:    s,
		table:    tableName,
		spec:     spec,
		batch:    batch,
		fault:    s.faults[tableName],
		lastKey:  nil,
		started:  false,
		finished: false,
	}
	return h, nil
}

type scanHandle struct {
	store *Store
	table string
	spec  store.ScanSpec
	batch int

	fault        *scanFault
	batchesDone  int
	lastKey      []byte
	started      bool
	finished     bool
	closedHandle bool
}

// NextBatch implements store.ScanHandle.
func (h *scanHandle) NextBatch(ctx context.Context) ([]types.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.closedHandle {
		return nil, fmt.Errorf("scan on %s: %w", h.table, errors.ErrStoreClosed)
	}
	if h.finished {
		return nil, nil
	}

	if h.fault != nil && h.batchesDone >= h.fault.afterBatches {
		return nil, h.fault.err
	}

	h.store.mu.RLock()
	defer h.store.mu.RUnlock()

	t := h.store.tables[h.table]
	if t == nil {
		h.finished = true
		return nil, nil
	}

	var out []types.Row
	var visited int
	if h.spec.Reverse {
		out, visited = h.nextReverse(t)
	} else {
		out, visited = h.nextForward(t)
	}

	if visited == 0 {
		h.finished = true
		return nil, nil
	}

	h.batchesDone++
	if out == nil {
		// Every visited row was filtered out. An empty non-nil batch keeps
		// the scan alive; nil signals exhaustion.
		out = []types.Row{}
	}
	return out, nil
}

func (h *scanHandle) nextForward(t *table) ([]types.Row, int) {
	from := h.spec.StartKey
	if h.started {
		from = h.lastKey
	}

	i := sort.Search(len(t.rows), func(i int) bool {
		if h.started {
			return bytes.Compare(t.rows[i].Key, from) > 0
		}
		return bytes.Compare(t.rows[i].Key, from) >= 0
	})

	var out []types.Row
	var visited int
	for ; i < len(t.rows) && visited < h.batch; i++ {
		row := t.rows[i]
		if len(h.spec.StopKey) > 0 && bytes.Compare(row.Key, h.spec.StopKey) >= 0 {
			break
		}
		h.started = true
		h.lastKey = row.Key
		visited++
		if filtered, ok := store.ApplyFilters(h.spec.Filters, copyRow(row)); ok {
			out = append(out, filtered)
		}
	}
	return out, visited
}

func (h *scanHandle) nextReverse(t *table) ([]types.Row, int) {
	// Reverse scans walk from just below StopKey down to StartKey.
	i := sort.Search(len(t.rows), func(i int) bool {
		if h.started {
			return bytes.Compare(t.rows[i].Key, h.lastKey) >= 0
		}
		if len(h.spec.StopKey) == 0 {
			return false
		}
		return bytes.Compare(t.rows[i].Key, h.spec.StopKey) >= 0
	}) - 1
	if !h.started && len(h.spec.StopKey) == 0 {
		i = len(t.rows) - 1
	}

	var out []types.Row
	var visited int
	for ; i >= 0 && visited < h.batch; i-- {
		row := t.rows[i]
		if bytes.Compare(row.Key, h.spec.StartKey) < 0 {
			break
		}
		h.started = true
		h.lastKey = row.Key
		visited++
		if filtered, ok := store.ApplyFilters(h.spec.Filters, copyRow(row)); ok {
			out = append(out, filtered)
		}
	}
	return out, visited
}

// Close implements store.ScanHandle.
func (h *scanHandle) Close() error {
	h.closedHandle = true
	return nil
}

// =============================================================================
// MultiGet
// =============================================================================

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

	t := s.tables[tableName]
	if t == nil {
		return nil, nil
	}

	sorted := make([][]byte, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	})

	var out []types.Row
	for _, key := range sorted {
		i := sort.Search(len(t.rows), func(i int) bool {
			return bytes.Compare(t.rows[i].Key, key) >= 0
		})
		if i < len(t.rows) && bytes.Equal(t.rows[i].Key, key) {
			out = append(out, copyRow(t.rows[i]))
		}
	}
	return out, nil
}

func copyRow(r types.Row) types.Row {
	out := types.Row{Key: r.Key, Cells: make([]types.Cell, len(r.Cells))}
	copy(out.Cells, r.Cells)
	return out
}
