// Package uid defines the unique-identifier contract between the query
// engine and the external UID service.
//
// Every metric name, tag key and tag value is assigned a fixed-width binary
// UID. Row keys are built from UIDs, never from names; the engine resolves
// names to UIDs at query setup and UIDs back to names during client-side
// filter evaluation.
//
// The allocation algorithm itself lives outside this repo. The Registry in
// registry.go is a complete in-memory implementation of the contract for
// embedded use and tests.
package uid

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xtxerr/scanline/internal/errors"
)

// Width is the fixed byte width of every UID.
const Width = 3

// Type identifies the UID namespace an identifier belongs to.
type Type int

const (
	// Metric is the metric-name namespace.
	Metric Type = iota
	// TagKey is the tag-key namespace.
	TagKey
	// TagValue is the tag-value namespace.
	TagValue
)

// String returns the string representation of the type.
func (t Type) String() string {
	switch t {
	case Metric:
		return "metric"
	case TagKey:
		return "tagk"
	case TagValue:
		return "tagv"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// UID is a fixed-width binary identifier.
type UID []byte

// String returns the hex representation of the UID.
func (u UID) String() string {
	return fmt.Sprintf("%x", []byte(u))
}

// Equal reports whether two UIDs are byte-equal.
func (u UID) Equal(other UID) bool {
	return bytes.Equal(u, other)
}

// Validate checks the UID width.
func (u UID) Validate() error {
	if len(u) != Width {
		return fmt.Errorf("got %d bytes: %w", len(u), errors.ErrUIDWidth)
	}
	return nil
}

// Resolver resolves names to UIDs and UIDs back to names.
//
// Both directions return errors.ErrUnresolved-category errors when the
// identifier is unknown; callers decide whether that is fatal based on the
// configured skip flags.
type Resolver interface {
	// ResolveName returns the UID assigned to name in the given namespace.
	ResolveName(ctx context.Context, t Type, name string) (UID, error)

	// ResolveUID returns the name assigned to id in the given namespace.
	ResolveUID(ctx context.Context, t Type, id UID) (string, error)
}

// NotFoundError returns the sentinel matching the namespace, used to build
// resolution failures that carry the identifier type.
func NotFoundError(t Type) error {
	switch t {
	case Metric:
		return errors.ErrMetricNotFound
	case TagKey:
		return errors.ErrTagKeyNotFound
	case TagValue:
		return errors.ErrTagValueNotFound
	default:
		return errors.ErrUnresolved
	}
}
