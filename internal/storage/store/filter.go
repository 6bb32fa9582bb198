package store

import (
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/xtxerr/scanline/internal/storage/types"
)

// Filter is a server-side row filter. FilterRow may drop the row entirely
// (ok=false) or return it with cells pruned.
type Filter interface {
	FilterRow(row types.Row) (types.Row, bool)
	String() string
}

// ApplyFilters runs a filter chain over one row.
func ApplyFilters(filters []Filter, row types.Row) (types.Row, bool) {
	for _, f := range filters {
		var ok bool
		row, ok = f.FilterRow(row)
		if !ok {
			return types.Row{}, false
		}
	}
	return row, true
}

// =============================================================================
// Key Regexp Filter
// =============================================================================

// KeyRegexpFilter matches the hex encoding of the row key against an RE2
// pattern. Patterns are built over hex rather than raw bytes because RE2
// escapes are rune-oriented and would not match raw high bytes literally.
// The scan coordinator compiles literal tag-value UID alternations into
// these patterns when the expansion stays under the configured limit.
type KeyRegexpFilter struct {
	re *regexp.Regexp
}

// NewKeyRegexpFilter compiles a hex key pattern.
func NewKeyRegexpFilter(pattern string) (*KeyRegexpFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile key regexp: %w", err)
	}
	return &KeyRegexpFilter{re: re}, nil
}

// FilterRow implements Filter.
func (f *KeyRegexpFilter) FilterRow(row types.Row) (types.Row, bool) {
	if !f.re.MatchString(hex.EncodeToString(row.Key)) {
		return types.Row{}, false
	}
	return row, true
}

// String implements Filter.
func (f *KeyRegexpFilter) String() string {
	return fmt.Sprintf("KeyRegexp(%s)", f.re.String())
}

// =============================================================================
// Fuzzy Row Filter
// =============================================================================

// FuzzyPair is one fuzzy key template: mask bytes with value 1 are wildcards,
// bytes with value 0 must equal the corresponding template byte.
type FuzzyPair struct {
	Template []byte
	Mask     []byte
}

// FuzzyRowFilter matches a row key against any of its fuzzy templates. Keys
// shorter or longer than a template never match it.
type FuzzyRowFilter struct {
	Pairs []FuzzyPair
}

// FilterRow implements Filter.
func (f *FuzzyRowFilter) FilterRow(row types.Row) (types.Row, bool) {
	for _, p := range f.Pairs {
		if matchFuzzy(row.Key, p) {
			return row, true
		}
	}
	return types.Row{}, false
}

func matchFuzzy(key []byte, p FuzzyPair) bool {
	if len(key) != len(p.Template) || len(p.Mask) != len(p.Template) {
		return false
	}
	for i := range key {
		if p.Mask[i] == 0 && key[i] != p.Template[i] {
			return false
		}
	}
	return true
}

// String implements Filter.
func (f *FuzzyRowFilter) String() string {
	return fmt.Sprintf("FuzzyRow(%d pairs)", len(f.Pairs))
}

// =============================================================================
// Qualifier Prefix Filter
// =============================================================================

// QualifierPrefixFilter prunes cells whose qualifier does not start with one
// of the aggregator prefixes. Rollup scans use it to fetch only the
// aggregates the query asked for. Rows left with no cells are dropped.
type QualifierPrefixFilter struct {
	Prefixes [][]byte
}

// NewQualifierPrefixFilter builds a filter for aggregator names.
func NewQualifierPrefixFilter(aggregators ...string) *QualifierPrefixFilter {
	f := &QualifierPrefixFilter{}
	for _, a := range aggregators {
		f.Prefixes = append(f.Prefixes, []byte(a+":"))
	}
	return f
}

// FilterRow implements Filter.
func (f *QualifierPrefixFilter) FilterRow(row types.Row) (types.Row, bool) {
	kept := row.Cells[:0:0]
	for _, c := range row.Cells {
		if f.matches(c.Qualifier) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return types.Row{}, false
	}
	return types.Row{Key: row.Key, Cells: kept}, true
}

func (f *QualifierPrefixFilter) matches(q []byte) bool {
	for _, p := range f.Prefixes {
		if len(q) >= len(p) && string(q[:len(p)]) == string(p) {
			return true
		}
	}
	return false
}

// String implements Filter.
func (f *QualifierPrefixFilter) String() string {
	return fmt.Sprintf("QualifierPrefix(%d aggregators)", len(f.Prefixes))
}
