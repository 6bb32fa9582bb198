package scan

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/scanline/internal/errors"
	"github.com/xtxerr/scanline/internal/query/filter"
	"github.com/xtxerr/scanline/internal/storage/types"
	"github.com/xtxerr/scanline/internal/uid"
)

// IdentityCache maps a series' canonical hash to its resolved filter
// outcome. Each distinct hash is decoded and evaluated exactly once;
// concurrent rows sharing a hash, regardless of arrival order, join the
// single in-flight resolution and observe the same final outcome.
//
// One cache is scoped to one salt bucket and shared by that bucket's
// scanners across tiers. The scoping is sound because a canonical series
// key maps to exactly one bucket.
type IdentityCache struct {
	resolver uid.Resolver
	filter   filter.Filter

	skipUnresolvedTagKeys   bool
	skipUnresolvedTagValues bool

	group    singleflight.Group
	outcomes sync.Map // uint64 -> bool (kept/skipped)

	resolutions atomic.Int64
}

// NewIdentityCache creates a cache evaluating rows against the filter tree.
func NewIdentityCache(resolver uid.Resolver, f filter.Filter, skipTagKeys, skipTagValues bool) *IdentityCache {
	return &IdentityCache{
		resolver:                resolver,
		filter:                  f,
		skipUnresolvedTagKeys:   skipTagKeys,
		skipUnresolvedTagValues: skipTagValues,
	}
}

// ResolveAndFilter resolves the row's tag identity and evaluates it against
// the filter tree, returning whether the row's series is kept. The boolean
// outcome is terminal and cached for the query lifetime.
//
// Unresolvable tag UIDs skip the series when the corresponding skip flag is
// set, and fail the query otherwise.
func (c *IdentityCache) ResolveAndFilter(ctx context.Context, key []byte) (bool, error) {
	hash := types.HashTSUID(types.TSUID(key))

	if v, ok := c.outcomes.Load(hash); ok {
		return v.(bool), nil
	}

	v, err, _ := c.group.Do(strconv.FormatUint(hash, 16), func() (interface{}, error) {
		// A resolution may have landed between the fast path and Do.
		if v, ok := c.outcomes.Load(hash); ok {
			return v.(bool), nil
		}

		c.resolutions.Add(1)

		tags, keep, err := c.decodeTags(ctx, key)
		if err != nil {
			return false, err
		}
		if keep {
			keep = c.filter == nil || c.filter.Matches(tags)
		}

		c.outcomes.Store(hash, keep)
		return keep, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// decodeTags resolves the row key's tag UID pairs to names. keep=false with
// a nil error means the series is skipped under the skip flags.
func (c *IdentityCache) decodeTags(ctx context.Context, key []byte) (map[string]string, bool, error) {
	pairs, err := types.ParseTags(key)
	if err != nil {
		return nil, false, err
	}

	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, err := c.resolver.ResolveUID(ctx, uid.TagKey, p.Key)
		if err != nil {
			if errors.IsUnresolved(err) && c.skipUnresolvedTagKeys {
				return nil, false, nil
			}
			return nil, false, err
		}

		v, err := c.resolver.ResolveUID(ctx, uid.TagValue, p.Value)
		if err != nil {
			if errors.IsUnresolved(err) && c.skipUnresolvedTagValues {
				return nil, false, nil
			}
			return nil, false, err
		}

		tags[k] = v
	}
	return tags, true, nil
}

// Resolutions returns how many distinct hashes have been resolved.
func (c *IdentityCache) Resolutions() int64 {
	return c.resolutions.Load()
}

// Release drops all cached outcomes.
func (c *IdentityCache) Release() {
	c.outcomes.Range(func(k, _ any) bool {
		c.outcomes.Delete(k)
		return true
	})
}
