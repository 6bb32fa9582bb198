package filter

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/xtxerr/scanline/internal/errors"
	"github.com/xtxerr/scanline/internal/logging"
	"github.com/xtxerr/scanline/internal/storage/store"
	"github.com/xtxerr/scanline/internal/storage/types"
	"github.com/xtxerr/scanline/internal/uid"
)

var log = logging.Component("filter")

// PlanOptions configures the pushdown planner.
type PlanOptions struct {
	// Metric is the resolved metric UID the scan targets.
	Metric uid.UID

	// ExpansionLimit caps the total literal tag values a key regex may
	// expand to. Exceeding it defers the offending key to client side.
	ExpansionLimit int

	// EnableFuzzy additionally builds fuzzy row-key templates when the
	// filter is explicit about the tags matching series carry.
	EnableFuzzy bool

	// ExplicitTags asserts the filter names every tag of matching series,
	// which is what makes fixed-length fuzzy templates sound.
	ExplicitTags bool

	// SkipUnresolvedTagKeys defers a key instead of failing when its UID
	// cannot be resolved.
	SkipUnresolvedTagKeys bool

	// SkipUnresolvedTagValues drops a literal value instead of failing
	// when its UID cannot be resolved.
	SkipUnresolvedTagValues bool
}

// Plan is the planner's verdict for one filter tree.
type Plan struct {
	// KeyRegex is the server-side hex row-key pattern, empty when nothing
	// could be pushed down.
	KeyRegex string

	// Fuzzy holds the fuzzy row-key templates, if enabled and sound.
	Fuzzy []store.FuzzyPair

	// FilterDuringScan is set when any part of the tree must be evaluated
	// client-side against resolved tags.
	FilterDuringScan bool

	// Expansion is the literal value count the key regex expanded to.
	Expansion int
}

// ServerFilters materializes the plan's pushdown as store filters.
func (p *Plan) ServerFilters() ([]store.Filter, error) {
	var filters []store.Filter
	if p.KeyRegex != "" {
		f, err := store.NewKeyRegexpFilter(p.KeyRegex)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	if len(p.Fuzzy) > 0 {
		filters = append(filters, &store.FuzzyRowFilter{Pairs: p.Fuzzy})
	}
	return filters, nil
}

type pushKey struct {
	key    uid.UID
	values []uid.UID
}

type planner struct {
	opts     PlanOptions
	resolver uid.Resolver

	keys      []pushKey
	seen      map[string]bool
	expansion int
	deferred  bool
}

// Build walks the filter tree and decides, per tag key, between server-side
// pushdown and client-side resolution.
func Build(ctx context.Context, f Filter, opts PlanOptions, resolver uid.Resolver) (*Plan, error) {
	p := &planner{opts: opts, resolver: resolver, seen: make(map[string]bool)}

	if f != nil {
		if err := p.walk(ctx, f); err != nil {
			return nil, err
		}
	}

	plan := &Plan{
		FilterDuringScan: p.deferred,
		Expansion:        p.expansion,
	}

	if len(p.keys) > 0 {
		sort.Slice(p.keys, func(i, j int) bool {
			return bytes.Compare(p.keys[i].key, p.keys[j].key) < 0
		})
		plan.KeyRegex = p.buildRegex()

		if opts.EnableFuzzy && opts.ExplicitTags && !p.deferred {
			plan.Fuzzy = p.buildFuzzy()
		}
	}

	log.Debug("filter planned",
		"pushed_keys", len(p.keys),
		"expansion", p.expansion,
		"filter_during_scan", p.deferred)

	return plan, nil
}

func (p *planner) walk(ctx context.Context, f Filter) error {
	switch n := f.(type) {
	case *Not:
		// Never push anything beneath a NOT.
		p.deferred = true
		return nil

	case *Chain:
		if n.Op == OpOr {
			// OR semantics cannot be expressed as per-key alternations.
			p.deferred = true
			return nil
		}
		for _, c := range n.Filters {
			if err := p.walk(ctx, c); err != nil {
				return err
			}
		}
		return nil

	case *TagLiteralOr:
		return p.walkLiteral(ctx, n)

	case *TagRegex:
		if !n.MatchesAll() {
			p.deferred = true
		}
		return nil

	case *TagWildcard:
		if !n.MatchesAll() {
			p.deferred = true
		}
		return nil

	default:
		p.deferred = true
		return nil
	}
}

func (p *planner) walkLiteral(ctx context.Context, n *TagLiteralOr) error {
	if p.seen[n.TagKey] {
		// A second filter on the same key keeps only the first pushdown.
		p.deferred = true
		return nil
	}
	p.seen[n.TagKey] = true

	key, err := p.resolver.ResolveName(ctx, uid.TagKey, n.TagKey)
	if err != nil {
		if errors.IsUnresolved(err) && p.opts.SkipUnresolvedTagKeys {
			p.deferred = true
			return nil
		}
		return err
	}

	values := make([]uid.UID, 0, len(n.Values))
	for _, v := range n.Values {
		id, err := p.resolver.ResolveName(ctx, uid.TagValue, v)
		if err != nil {
			if errors.IsUnresolved(err) && p.opts.SkipUnresolvedTagValues {
				continue
			}
			return err
		}
		values = append(values, id)
	}

	if len(values) == 0 {
		p.deferred = true
		return nil
	}

	if p.expansion+len(values) > p.opts.ExpansionLimit {
		log.Debug("expansion limit reached, deferring key",
			"tagk", n.TagKey, "values", len(values), "limit", p.opts.ExpansionLimit)
		p.deferred = true
		return nil
	}

	p.expansion += len(values)
	p.keys = append(p.keys, pushKey{key: key, values: values})
	return nil
}

// buildRegex assembles the hex row-key pattern:
//
//	(?s)^.{prefix}(?:.{pair})*<tagk>(?:<v1>|<v2>)...(?:.{pair})*$
//
// with all widths doubled for hex encoding.
func (p *planner) buildRegex() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "(?s)^.{%d}", 2*types.PrefixWidth)

	for _, k := range p.keys {
		fmt.Fprintf(&b, "(?:.{%d})*", 2*types.TagPairWidth)
		b.WriteString(hex.EncodeToString(k.key))
		b.WriteString("(?:")
		for i, v := range k.values {
			if i > 0 {
				b.WriteByte('|')
			}
			b.WriteString(hex.EncodeToString(v))
		}
		b.WriteString(")")
	}

	fmt.Fprintf(&b, "(?:.{%d})*$", 2*types.TagPairWidth)
	return b.String()
}

// buildFuzzy builds one fixed-length template: salt and base timestamp are
// wildcards, the metric and tag key UIDs are fixed, and a tag value is fixed
// only when the key has a single literal value.
func (p *planner) buildFuzzy() []store.FuzzyPair {
	length := types.PrefixWidth + len(p.keys)*types.TagPairWidth
	template := make([]byte, length)
	mask := make([]byte, length)

	// Salt is a wildcard: one template serves every bucket's scanner.
	mask[0] = 1
	copy(template[types.SaltWidth:], p.opts.Metric)
	for i := types.SaltWidth + uid.Width; i < types.PrefixWidth; i++ {
		mask[i] = 1
	}

	off := types.PrefixWidth
	for _, k := range p.keys {
		copy(template[off:], k.key)
		off += uid.Width

		if len(k.values) == 1 {
			copy(template[off:], k.values[0])
		} else {
			for i := 0; i < uid.Width; i++ {
				mask[off+i] = 1
			}
		}
		off += uid.Width
	}

	return []store.FuzzyPair{{Template: template, Mask: mask}}
}
