package scan

import (
	"context"
	"sync"
	"testing"

	"github.com/xtxerr/scanline/internal/errors"
	"github.com/xtxerr/scanline/internal/query/filter"
	"github.com/xtxerr/scanline/internal/storage/types"
	"github.com/xtxerr/scanline/internal/uid"
)

func identityRegistry(t *testing.T) *uid.Registry {
	t.Helper()

	reg := uid.NewRegistry(true)
	for _, name := range []string{"sys.cpu"} {
		if _, err := reg.GetOrAssign(uid.Metric, name); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"host", "dc"} {
		if _, err := reg.GetOrAssign(uid.TagKey, name); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"web01", "web02", "east"} {
		if _, err := reg.GetOrAssign(uid.TagValue, name); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func identityKey(t *testing.T, reg *uid.Registry, tags map[string]string) []byte {
	t.Helper()

	metric, err := reg.ResolveName(context.Background(), uid.Metric, "sys.cpu")
	if err != nil {
		t.Fatal(err)
	}

	var pairs []types.TagPair
	for k, v := range tags {
		ku, err := reg.ResolveName(context.Background(), uid.TagKey, k)
		if err != nil {
			t.Fatal(err)
		}
		vu, err := reg.ResolveName(context.Background(), uid.TagValue, v)
		if err != nil {
			t.Fatal(err)
		}
		pairs = append(pairs, types.TagPair{Key: ku, Value: vu})
	}
	types.SortTagPairs(pairs)
	return types.RowKey(20, metric, 3600, pairs)
}

func TestIdentityCache_KeepAndSkip(t *testing.T) {
	reg := identityRegistry(t)
	c := NewIdentityCache(reg, filter.NewTagLiteralOr("host", "web01"), false, false)
	defer c.Release()

	keep, err := c.ResolveAndFilter(context.Background(), identityKey(t, reg, map[string]string{"host": "web01"}))
	if err != nil {
		t.Fatalf("ResolveAndFilter() error = %v", err)
	}
	if !keep {
		t.Error("matching series skipped")
	}

	keep, err = c.ResolveAndFilter(context.Background(), identityKey(t, reg, map[string]string{"host": "web02"}))
	if err != nil {
		t.Fatalf("ResolveAndFilter() error = %v", err)
	}
	if keep {
		t.Error("non-matching series kept")
	}
}

func TestIdentityCache_ResolvesEachHashOnce(t *testing.T) {
	reg := identityRegistry(t)
	c := NewIdentityCache(reg, nil, false, false)
	defer c.Release()

	key := identityKey(t, reg, map[string]string{"host": "web01", "dc": "east"})
	for i := 0; i < 50; i++ {
		if _, err := c.ResolveAndFilter(context.Background(), key); err != nil {
			t.Fatal(err)
		}
	}
	if got := c.Resolutions(); got != 1 {
		t.Errorf("Resolutions() = %d, want 1", got)
	}
}

func TestIdentityCache_ConcurrentSameOutcome(t *testing.T) {
	reg := identityRegistry(t)
	c := NewIdentityCache(reg, filter.NewTagLiteralOr("host", "web01"), false, false)
	defer c.Release()

	key := identityKey(t, reg, map[string]string{"host": "web01"})

	var wg sync.WaitGroup
	results := make([]bool, 32)
	errs := make([]error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.ResolveAndFilter(context.Background(), key)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 32; i++ {
		if errs[i] != nil {
			t.Fatalf("goroutine %d: %v", i, errs[i])
		}
		if !results[i] {
			t.Fatalf("goroutine %d: outcome = false, want true", i)
		}
	}
	if got := c.Resolutions(); got != 1 {
		t.Errorf("Resolutions() = %d, want 1 across concurrent callers", got)
	}
}

func TestIdentityCache_UnresolvedTagValue(t *testing.T) {
	reg := identityRegistry(t)
	key := identityKey(t, reg, map[string]string{"host": "web01"})

	// A fresh readonly registry knows the tag key but not the value.
	stale := uid.NewRegistry(true)
	hostUID, err := reg.ResolveName(context.Background(), uid.TagKey, "host")
	if err != nil {
		t.Fatal(err)
	}
	if err := stale.Assign(uid.TagKey, "host", hostUID); err != nil {
		t.Fatal(err)
	}

	strict := NewIdentityCache(stale, nil, false, false)
	if _, err := strict.ResolveAndFilter(context.Background(), key); !errors.IsUnresolved(err) {
		t.Errorf("strict cache error = %v, want unresolved", err)
	}

	lenient := NewIdentityCache(stale, nil, false, true)
	keep, err := lenient.ResolveAndFilter(context.Background(), key)
	if err != nil {
		t.Fatalf("lenient cache error = %v", err)
	}
	if keep {
		t.Error("series with unresolved tag value kept under skip flag")
	}
}

func TestIdentityCache_MalformedKey(t *testing.T) {
	reg := identityRegistry(t)
	c := NewIdentityCache(reg, nil, false, false)

	// Prefix plus half a tag pair.
	key := make([]byte, types.PrefixWidth+types.TagPairWidth/2)
	if _, err := c.ResolveAndFilter(context.Background(), key); err == nil {
		t.Error("malformed key resolved without error")
	}
}
