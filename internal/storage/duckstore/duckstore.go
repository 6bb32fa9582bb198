// Package duckstore is a DuckDB-backed column store. Cells live in one
// relation per tier table, keyed by (row key, qualifier), and range scans
// stream key-ordered cells that are reassembled into rows on the way out.
package duckstore

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/scanline/internal/errors"
	"github.com/xtxerr/scanline/internal/logging"
	"github.com/xtxerr/scanline/internal/storage/store"
	"github.com/xtxerr/scanline/internal/storage/types"
)

var log = logging.Component("duckstore")

// Table names are interpolated into SQL; restrict them hard.
var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store is a DuckDB-backed store.Store.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// Open opens a DuckDB database at path; an empty path opens an in-memory
// database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database. Open scan handles fail afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// CreateTable creates a tier table if it does not exist.
func (s *Store) CreateTable(ctx context.Context, table string) error {
	if err := validateTable(table); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			key BLOB NOT NULL,
			qualifier BLOB NOT NULL,
			value BLOB NOT NULL,
			PRIMARY KEY (key, qualifier)
		)`, table))
	if err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// Put upserts one row's cells.
func (s *Store) Put(ctx context.Context, table string, key []byte, cells ...types.Cell) error {
	if err := validateTable(table); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrStoreClosed
	}

	stmt := fmt.Sprintf(
		`INSERT OR REPLACE INTO %s (key, qualifier, value) VALUES (?, ?, ?)`, table)
	for _, c := range cells {
		if _, err := s.db.ExecContext(ctx, stmt, key, c.Qualifier, c.Value); err != nil {
			return fmt.Errorf("put %s: %w", table, err)
		}
	}
	return nil
}

// NewScan implements store.Store. The underlying query is issued lazily on
// the first NextBatch, which carries the caller's context.
func (s *Store) NewScan(table string, spec store.ScanSpec) (store.ScanHandle, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	return &scanHandle{st: s, table: table, spec: spec}, nil
}

// MultiGet implements store.Store.
func (s *Store) MultiGet(ctx context.Context, table string, keys [][]byte) ([]types.Row, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT key, qualifier, value FROM %s WHERE key IN (%s) ORDER BY key, qualifier`,
		table, placeholders), args...)
	if err != nil {
		return nil, errors.NewScanFailure(err)
	}
	defer rows.Close()

	out, _, err := assemble(rows, nil, nil, 0)
	return out, err
}

func validateTable(table string) error {
	if !tableName.MatchString(table) {
		return errors.Wrapf(errors.ErrTableNotFound, "invalid table name %q", table)
	}
	return nil
}

// scanHandle streams one key range, reassembling cells into rows.
type scanHandle struct {
	st    *Store
	table string
	spec  store.ScanSpec

	rows    *sql.Rows
	pending *types.Row
	done    bool
}

// NextBatch implements store.ScanHandle.
func (h *scanHandle) NextBatch(ctx context.Context) ([]types.Row, error) {
	if h.done {
		return nil, nil
	}

	if h.rows == nil {
		if err := h.open(ctx); err != nil {
			return nil, err
		}
	}

	limit := h.spec.RowsPerBatch
	if limit < 1 {
		limit = 1
	}

	out, pending, err := assemble(h.rows, h.pending, h.spec.Filters, limit)
	h.pending = pending
	if err != nil {
		h.done = true
		return nil, errors.NewScanFailure(err)
	}
	if pending == nil && len(out) == 0 {
		h.done = true
		return nil, nil
	}
	if len(out) == 0 {
		// Every assembled row was filtered out; report an empty batch
		// rather than exhaustion.
		return []types.Row{}, nil
	}
	return out, nil
}

func (h *scanHandle) open(ctx context.Context) error {
	h.st.mu.RLock()
	defer h.st.mu.RUnlock()
	if h.st.closed {
		return errors.ErrStoreClosed
	}

	order := "ORDER BY key, qualifier"
	if h.spec.Reverse {
		order = "ORDER BY key DESC, qualifier"
	}

	rows, err := h.st.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT key, qualifier, value FROM %s WHERE key >= ? AND key < ? %s`,
		h.table, order), h.spec.StartKey, h.spec.StopKey)
	if err != nil {
		return errors.NewScanFailure(err)
	}

	h.rows = rows
	return nil
}

// Close implements store.ScanHandle.
func (h *scanHandle) Close() error {
	h.done = true
	h.pending = nil
	if h.rows != nil {
		err := h.rows.Close()
		h.rows = nil
		if err != nil {
			log.Warn("close scan cursor", "table", h.table, "error", err)
			return err
		}
	}
	return nil
}

// assemble groups key-ordered cells into rows, applying filters per row.
// With limit > 0 it stops after emitting limit rows and returns the row
// under assembly for the next call; limit 0 drains the cursor.
func assemble(rows *sql.Rows, pending *types.Row, filters []store.Filter, limit int) ([]types.Row, *types.Row, error) {
	var out []types.Row

	emit := func(r *types.Row) {
		row, keep := store.ApplyFilters(filters, *r)
		if keep {
			out = append(out, row)
		}
	}

	for rows.Next() {
		var key, qualifier, value []byte
		if err := rows.Scan(&key, &qualifier, &value); err != nil {
			return nil, nil, err
		}

		if pending != nil && !bytes.Equal(pending.Key, key) {
			emit(pending)
			pending = nil
			if limit > 0 && len(out) >= limit {
				pending = newRow(key, qualifier, value)
				return out, pending, nil
			}
		}
		if pending == nil {
			pending = newRow(key, qualifier, value)
			continue
		}
		pending.Cells = append(pending.Cells, types.Cell{Qualifier: qualifier, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if pending != nil {
		emit(pending)
	}
	return out, nil, nil
}

func newRow(key, qualifier, value []byte) *types.Row {
	return &types.Row{
		Key:   append([]byte(nil), key...),
		Cells: []types.Cell{{Qualifier: qualifier, Value: value}},
	}
}
