package types

import (
	"bytes"
	"testing"
	"time"

	"github.com/xtxerr/scanline/internal/errors"
	"github.com/xtxerr/scanline/internal/uid"
)

func pair(k, v byte) TagPair {
	return TagPair{
		Key:   uid.UID{0, 0, k},
		Value: uid.UID{0, 0, v},
	}
}

func TestRowKey_Roundtrip(t *testing.T) {
	metric := uid.UID{0, 0, 1}
	tags := []TagPair{pair(1, 10), pair(2, 20)}
	base := int64(7200)

	key := RowKey(8, metric, base, tags)
	if err := ValidateKey(key); err != nil {
		t.Fatalf("ValidateKey() = %v, want nil", err)
	}

	if got := ParseMetric(key); !got.Equal(metric) {
		t.Errorf("ParseMetric() = %s, want %s", got, metric)
	}
	if got := ParseBaseTime(key); got != base {
		t.Errorf("ParseBaseTime() = %d, want %d", got, base)
	}

	parsed, err := ParseTags(key)
	if err != nil {
		t.Fatalf("ParseTags() error = %v", err)
	}
	if len(parsed) != len(tags) {
		t.Fatalf("ParseTags() returned %d pairs, want %d", len(parsed), len(tags))
	}
	for i := range tags {
		if !parsed[i].Key.Equal(tags[i].Key) || !parsed[i].Value.Equal(tags[i].Value) {
			t.Errorf("tag %d = %s=%s, want %s=%s",
				i, parsed[i].Key, parsed[i].Value, tags[i].Key, tags[i].Value)
		}
	}
}

func TestRowKey_SaltConsistentAcrossBases(t *testing.T) {
	metric := uid.UID{0, 0, 1}
	tags := []TagPair{pair(1, 10)}

	k1 := RowKey(8, metric, 0, tags)
	k2 := RowKey(8, metric, 3600, tags)
	if ParseSalt(k1) != ParseSalt(k2) {
		t.Errorf("salt differs across bases: %d vs %d", ParseSalt(k1), ParseSalt(k2))
	}

	tsuid := TSUIDOf(metric, tags)
	if got := SaltFor(tsuid, 8); got != ParseSalt(k1) {
		t.Errorf("SaltFor() = %d, want %d", got, ParseSalt(k1))
	}
}

func TestRowKey_SingleBucketIsZero(t *testing.T) {
	key := RowKey(1, uid.UID{0, 0, 1}, 0, []TagPair{pair(1, 10)})
	if got := ParseSalt(key); got != 0 {
		t.Errorf("ParseSalt() = %d, want 0 with one bucket", got)
	}
}

func TestTSUID_StripsSaltAndTime(t *testing.T) {
	metric := uid.UID{0, 0, 1}
	tags := []TagPair{pair(1, 10), pair(2, 20)}
	tsuid := TSUIDOf(metric, tags)

	k1 := RowKey(8, metric, 0, tags)
	k2 := RowKey(8, metric, 7200, tags)

	if !bytes.Equal(TSUID(k1), tsuid) {
		t.Errorf("TSUID(k1) = %x, want %x", TSUID(k1), tsuid)
	}
	if !bytes.Equal(TSUID(k1), TSUID(k2)) {
		t.Errorf("TSUID differs across bases: %x vs %x", TSUID(k1), TSUID(k2))
	}
}

func TestRowKeyFromTSUID_MatchesRowKey(t *testing.T) {
	metric := uid.UID{0, 0, 5}
	tags := []TagPair{pair(3, 30)}

	want := RowKey(8, metric, 3600, tags)
	got := RowKeyFromTSUID(8, TSUIDOf(metric, tags), 3600)
	if !bytes.Equal(got, want) {
		t.Errorf("RowKeyFromTSUID() = %x, want %x", got, want)
	}
}

func TestSortTagPairs_ByKeyUID(t *testing.T) {
	tags := []TagPair{pair(9, 1), pair(2, 1), pair(5, 1)}
	SortTagPairs(tags)

	for i := 1; i < len(tags); i++ {
		if bytes.Compare(tags[i-1].Key, tags[i].Key) >= 0 {
			t.Fatalf("tags not sorted at %d: %s >= %s", i, tags[i-1].Key, tags[i].Key)
		}
	}
}

func TestKeyPrefix_ClampsNegativeBase(t *testing.T) {
	metric := uid.UID{0, 0, 1}
	got := KeyPrefix(3, metric, -100)
	want := KeyPrefix(3, metric, 0)
	if !bytes.Equal(got, want) {
		t.Errorf("KeyPrefix(-100) = %x, want %x", got, want)
	}
	if len(got) != PrefixWidth {
		t.Errorf("prefix length = %d, want %d", len(got), PrefixWidth)
	}
}

func TestValidateKey_Malformed(t *testing.T) {
	short := make([]byte, PrefixWidth-1)
	if err := ValidateKey(short); !errors.Is(err, errors.ErrMalformedRow) {
		t.Errorf("ValidateKey(short) = %v, want ErrMalformedRow", err)
	}

	partial := make([]byte, PrefixWidth+TagPairWidth-2)
	if err := ValidateKey(partial); !errors.Is(err, errors.ErrMalformedRow) {
		t.Errorf("ValidateKey(partial pair) = %v, want ErrMalformedRow", err)
	}
}

func TestHashTSUID_Deterministic(t *testing.T) {
	tsuid := TSUIDOf(uid.UID{0, 0, 1}, []TagPair{pair(1, 10)})
	if HashTSUID(tsuid) != HashTSUID(append([]byte(nil), tsuid...)) {
		t.Error("HashTSUID not deterministic over equal bytes")
	}
}

// =============================================================================
// Tier Tests
// =============================================================================

func TestTier_Alignment(t *testing.T) {
	raw := RawTier("data", time.Hour)

	if got := raw.AlignToRow(3700); got != 3600 {
		t.Errorf("AlignToRow(3700) = %d, want 3600", got)
	}
	if got := raw.RowEnd(3700); got != 7200 {
		t.Errorf("RowEnd(3700) = %d, want 7200", got)
	}
	if got := raw.AlignToRow(-5); got != 0 {
		t.Errorf("AlignToRow(-5) = %d, want 0", got)
	}
	if raw.IsRollup() {
		t.Error("raw tier reports rollup")
	}
}

func TestRollupTier_SpanAndInterval(t *testing.T) {
	tier := RollupTier("rollup_1m", time.Minute, 60, "sum", "count")

	if !tier.IsRollup() {
		t.Fatal("rollup tier does not report rollup")
	}
	if got := tier.SpanSeconds(); got != 3600 {
		t.Errorf("SpanSeconds() = %d, want 3600", got)
	}
	if got := tier.AlignToRow(5400); got != 3600 {
		t.Errorf("AlignToRow(5400) = %d, want 3600", got)
	}
}
