package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/xtxerr/scanline/internal/errors"
	"github.com/xtxerr/scanline/internal/uid"
)

// Row key geometry.
const (
	// SaltWidth is the byte width of the salt bucket prefix.
	SaltWidth = 1

	// TimestampWidth is the byte width of the base timestamp.
	TimestampWidth = 4

	// PrefixWidth is the width of salt + metric + base timestamp.
	PrefixWidth = SaltWidth + uid.Width + TimestampWidth

	// TagPairWidth is the width of one tagk/tagv UID pair.
	TagPairWidth = 2 * uid.Width
)

// TagPair is one resolved tag key/value UID pair.
type TagPair struct {
	Key   uid.UID
	Value uid.UID
}

// SortTagPairs orders tag pairs by tag key UID, the canonical row-key order.
func SortTagPairs(tags []TagPair) {
	sort.Slice(tags, func(i, j int) bool {
		return bytes.Compare(tags[i].Key, tags[j].Key) < 0
	})
}

// TSUIDOf builds the canonical series identity: metric UID followed by the
// sorted tag pairs. The salt and base timestamp are excluded so every row of
// a series shares the TSUID.
func TSUIDOf(metric uid.UID, tags []TagPair) []byte {
	tsuid := make([]byte, 0, uid.Width+len(tags)*TagPairWidth)
	tsuid = append(tsuid, metric...)
	for _, t := range tags {
		tsuid = append(tsuid, t.Key...)
		tsuid = append(tsuid, t.Value...)
	}
	return tsuid
}

// SaltFor returns the salt bucket a series belongs to. A canonical series
// identity maps to exactly one bucket; the per-bucket scoping of the
// identity cache depends on this.
func SaltFor(tsuid []byte, buckets int) byte {
	if buckets <= 1 {
		return 0
	}
	return byte(xxhash.Sum64(tsuid) % uint64(buckets))
}

// HashTSUID returns the 64-bit series hash used to key filter-outcome and
// accumulator state.
func HashTSUID(tsuid []byte) uint64 {
	return xxhash.Sum64(tsuid)
}

// RowKey assembles a full row key for a series row at the given aligned base
// timestamp. Tags must already be sorted.
func RowKey(buckets int, metric uid.UID, base int64, tags []TagPair) []byte {
	tsuid := TSUIDOf(metric, tags)
	key := make([]byte, 0, PrefixWidth+len(tags)*TagPairWidth)
	key = append(key, SaltFor(tsuid, buckets))
	key = append(key, metric...)

	var ts [TimestampWidth]byte
	binary.BigEndian.PutUint32(ts[:], uint32(base))
	key = append(key, ts[:]...)

	for _, t := range tags {
		key = append(key, t.Key...)
		key = append(key, t.Value...)
	}
	return key
}

// RowKeyFromTSUID assembles a row key from a canonical series identity.
func RowKeyFromTSUID(buckets int, tsuid []byte, base int64) []byte {
	key := make([]byte, 0, SaltWidth+TimestampWidth+len(tsuid))
	key = append(key, SaltFor(tsuid, buckets))
	key = append(key, tsuid[:uid.Width]...)

	var ts [TimestampWidth]byte
	binary.BigEndian.PutUint32(ts[:], uint32(base))
	key = append(key, ts[:]...)
	key = append(key, tsuid[uid.Width:]...)
	return key
}

// KeyPrefix builds the salt+metric+timestamp prefix used for scan start and
// stop keys. Negative timestamps clamp to zero.
func KeyPrefix(salt byte, metric uid.UID, base int64) []byte {
	if base < 0 {
		base = 0
	}
	key := make([]byte, 0, PrefixWidth)
	key = append(key, salt)
	key = append(key, metric...)

	var ts [TimestampWidth]byte
	binary.BigEndian.PutUint32(ts[:], uint32(base))
	return append(key, ts[:]...)
}

// ParseSalt returns the salt bucket of a row key.
func ParseSalt(key []byte) byte {
	return key[0]
}

// ParseMetric returns the metric UID of a row key.
func ParseMetric(key []byte) uid.UID {
	return uid.UID(key[SaltWidth : SaltWidth+uid.Width])
}

// ParseBaseTime returns the interval-aligned base timestamp of a row key.
func ParseBaseTime(key []byte) int64 {
	return int64(binary.BigEndian.Uint32(key[SaltWidth+uid.Width : PrefixWidth]))
}

// ParseTags returns the tag UID pairs of a row key.
func ParseTags(key []byte) ([]TagPair, error) {
	rest := key[PrefixWidth:]
	if len(rest)%TagPairWidth != 0 {
		return nil, fmt.Errorf("key %x has %d trailing tag bytes: %w",
			key, len(rest)%TagPairWidth, errors.ErrMalformedRow)
	}

	tags := make([]TagPair, 0, len(rest)/TagPairWidth)
	for i := 0; i < len(rest); i += TagPairWidth {
		tags = append(tags, TagPair{
			Key:   uid.UID(rest[i : i+uid.Width]),
			Value: uid.UID(rest[i+uid.Width : i+TagPairWidth]),
		})
	}
	return tags, nil
}

// TSUID strips the salt and base timestamp out of a row key, yielding the
// canonical series identity.
func TSUID(key []byte) []byte {
	tsuid := make([]byte, 0, len(key)-SaltWidth-TimestampWidth)
	tsuid = append(tsuid, key[SaltWidth:SaltWidth+uid.Width]...)
	return append(tsuid, key[PrefixWidth:]...)
}

// ValidateKey checks the minimum geometry of a row key.
func ValidateKey(key []byte) error {
	if len(key) < PrefixWidth {
		return fmt.Errorf("key %x shorter than prefix: %w", key, errors.ErrMalformedRow)
	}
	if (len(key)-PrefixWidth)%TagPairWidth != 0 {
		return fmt.Errorf("key %x has partial tag pair: %w", key, errors.ErrMalformedRow)
	}
	return nil
}
