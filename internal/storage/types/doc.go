// Package types defines the core data types shared by the store backends
// and the scan engine.
//
// Key types:
//   - Row/Cell: One storage row with its ordered column cells
//   - Tier: One resolution level (raw or a rollup interval)
//   - Point: A decoded timestamp/value pair
//
// Row keys follow the salted column-store layout:
//
//	[salt:1][metric:3][base_ts:4][tagk:3 tagv:3]...
//
// where base_ts is the row's interval-aligned epoch-second timestamp and
// the tag pairs are sorted by tag key UID.
package types
