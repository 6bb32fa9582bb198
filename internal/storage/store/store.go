// Package store defines the column-store client contract the scan engine
// drives. Backends (memstore, duckstore, parquetstore) implement ordered
// key-range scans with optional server-side row filters and batched point
// gets.
package store

import (
	"context"

	"github.com/xtxerr/scanline/internal/storage/types"
)

// ScanSpec describes one ordered range scan.
type ScanSpec struct {
	// StartKey is the inclusive scan start.
	StartKey []byte

	// StopKey is the exclusive scan stop.
	StopKey []byte

	// Reverse scans from StopKey down to StartKey when set.
	Reverse bool

	// RowsPerBatch caps the rows returned by one NextBatch call.
	RowsPerBatch int

	// Filters are applied server-side, in order, before rows are returned.
	Filters []Filter
}

// ScanHandle is one open scan. NextBatch returns the next batch of rows in
// key order, or (nil, nil) once the scan is exhausted. Handles are not safe
// for concurrent use; each scan worker owns its handle exclusively.
type ScanHandle interface {
	NextBatch(ctx context.Context) ([]types.Row, error)
	Close() error
}

// Store is the column-store client.
type Store interface {
	// NewScan opens an ordered range scan over one table.
	NewScan(table string, spec ScanSpec) (ScanHandle, error)

	// MultiGet fetches the rows for exact keys, omitting missing ones.
	// Returned rows are in key order.
	MultiGet(ctx context.Context, table string, keys [][]byte) ([]types.Row, error)
}
