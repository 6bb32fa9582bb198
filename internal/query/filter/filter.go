// Package filter implements the tag filter tree the scan engine evaluates
// against series, and the planner that decides which parts of the tree can
// be pushed down to the store as row-key filters.
//
// Pushdown rules:
//   - Literal tag-value filters push down as a row-key regex while their
//     total expansion stays under the configured limit.
//   - Regex and wildcard filters are evaluated client-side, except when
//     they are known to match everything, in which case they contribute
//     no filter at all.
//   - Anything beneath a logical NOT is always evaluated client-side.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter is one node of the tag filter tree. Matches evaluates the node
// against the decoded tags of a series.
type Filter interface {
	Matches(tags map[string]string) bool
	String() string
}

// =============================================================================
// Literal OR
// =============================================================================

// TagLiteralOr matches when the series carries the tag key with one of the
// listed values.
type TagLiteralOr struct {
	TagKey string
	Values []string

	set map[string]struct{}
}

// NewTagLiteralOr builds a literal filter from a pipe-separated value list.
func NewTagLiteralOr(tagKey, values string) *TagLiteralOr {
	f := &TagLiteralOr{TagKey: tagKey, set: make(map[string]struct{})}
	for _, v := range strings.Split(values, "|") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		f.Values = append(f.Values, v)
		f.set[v] = struct{}{}
	}
	return f
}

// Matches implements Filter.
func (f *TagLiteralOr) Matches(tags map[string]string) bool {
	v, ok := tags[f.TagKey]
	if !ok {
		return false
	}
	_, ok = f.set[v]
	return ok
}

// String implements Filter.
func (f *TagLiteralOr) String() string {
	return fmt.Sprintf("%s=literal_or(%s)", f.TagKey, strings.Join(f.Values, "|"))
}

// =============================================================================
// Regex
// =============================================================================

// TagRegex matches the tag value against an RE2 pattern.
type TagRegex struct {
	TagKey  string
	Pattern string

	re *regexp.Regexp
}

// NewTagRegex compiles a regex filter.
func NewTagRegex(tagKey, pattern string) (*TagRegex, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("tag %s: compile %q: %w", tagKey, pattern, err)
	}
	return &TagRegex{TagKey: tagKey, Pattern: pattern, re: re}, nil
}

// Matches implements Filter.
func (f *TagRegex) Matches(tags map[string]string) bool {
	v, ok := tags[f.TagKey]
	if !ok {
		return false
	}
	return f.re.MatchString(v)
}

// MatchesAll reports whether the pattern is a known match-everything form.
func (f *TagRegex) MatchesAll() bool {
	switch f.Pattern {
	case ".*", "^.*", ".*$", "^.*$":
		return true
	}
	return false
}

// String implements Filter.
func (f *TagRegex) String() string {
	return fmt.Sprintf("%s=regexp(%s)", f.TagKey, f.Pattern)
}

// =============================================================================
// Wildcard
// =============================================================================

// TagWildcard matches the tag value against a '*' glob.
type TagWildcard struct {
	TagKey  string
	Pattern string

	segments   []string
	hasPrefix  bool
	hasSuffix  bool
	matchesAll bool
}

// NewTagWildcard builds a wildcard filter.
func NewTagWildcard(tagKey, pattern string) *TagWildcard {
	f := &TagWildcard{TagKey: tagKey, Pattern: pattern}

	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" || strings.Trim(trimmed, "*") == "" {
		f.matchesAll = true
		return f
	}

	f.hasPrefix = !strings.HasPrefix(trimmed, "*")
	f.hasSuffix = !strings.HasSuffix(trimmed, "*")
	for _, s := range strings.Split(trimmed, "*") {
		if s != "" {
			f.segments = append(f.segments, s)
		}
	}
	return f
}

// Matches implements Filter.
func (f *TagWildcard) Matches(tags map[string]string) bool {
	v, ok := tags[f.TagKey]
	if !ok {
		return false
	}
	if f.matchesAll {
		return true
	}

	rest := v
	for i, seg := range f.segments {
		idx := strings.Index(rest, seg)
		if idx < 0 {
			return false
		}
		if i == 0 && f.hasPrefix && idx != 0 {
			return false
		}
		rest = rest[idx+len(seg):]
	}
	if f.hasSuffix && !strings.HasSuffix(v, f.segments[len(f.segments)-1]) {
		return false
	}
	return true
}

// MatchesAll reports whether the glob matches everything.
func (f *TagWildcard) MatchesAll() bool {
	return f.matchesAll
}

// String implements Filter.
func (f *TagWildcard) String() string {
	return fmt.Sprintf("%s=wildcard(%s)", f.TagKey, f.Pattern)
}

// =============================================================================
// NOT
// =============================================================================

// Not inverts its child. Children of a NOT are never pushed down.
type Not struct {
	Filter Filter
}

// Matches implements Filter.
func (f *Not) Matches(tags map[string]string) bool {
	return !f.Filter.Matches(tags)
}

// String implements Filter.
func (f *Not) String() string {
	return fmt.Sprintf("not(%s)", f.Filter)
}

// =============================================================================
// Chain
// =============================================================================

// ChainOp is the combining operator of a Chain.
type ChainOp int

const (
	// OpAnd requires every child to match.
	OpAnd ChainOp = iota
	// OpOr requires at least one child to match.
	OpOr
)

// Chain combines child filters with AND or OR.
type Chain struct {
	Op      ChainOp
	Filters []Filter
}

// And builds an AND chain.
func And(filters ...Filter) *Chain {
	return &Chain{Op: OpAnd, Filters: filters}
}

// Or builds an OR chain.
func Or(filters ...Filter) *Chain {
	return &Chain{Op: OpOr, Filters: filters}
}

// Matches implements Filter.
func (f *Chain) Matches(tags map[string]string) bool {
	if f.Op == OpOr {
		for _, c := range f.Filters {
			if c.Matches(tags) {
				return true
			}
		}
		return len(f.Filters) == 0
	}

	for _, c := range f.Filters {
		if !c.Matches(tags) {
			return false
		}
	}
	return true
}

// String implements Filter.
func (f *Chain) String() string {
	op := "and"
	if f.Op == OpOr {
		op = "or"
	}
	parts := make([]string, len(f.Filters))
	for i, c := range f.Filters {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%s(%s)", op, strings.Join(parts, ","))
}
