package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/xtxerr/scanline/internal/errors"
)

// Cell is one column of a storage row: a qualifier encoding type and time
// offset, and the encoded value.
type Cell struct {
	Qualifier []byte
	Value     []byte
}

// Row is one storage row: a key and its ordered cells.
type Row struct {
	Key   []byte
	Cells []Cell
}

// Point is a decoded timestamp/value pair. Timestamps are epoch seconds.
type Point struct {
	Timestamp int64
	Value     float64
}

// Qualifier layout: big-endian uint16, offset<<4 | flags. The offset counts
// seconds from the row base for raw cells and whole intervals for rollup
// cells. Flag 0x8 marks a float value; the low 3 bits are value length - 1.
const (
	qualifierWidth = 2
	flagFloat      = 0x8
	flagLengthMask = 0x7
	offsetShift    = 4
	maxOffset      = 1<<12 - 1
)

// EncodeQualifier builds a raw-cell qualifier for a second offset.
func EncodeQualifier(offset int64, isFloat bool) ([]byte, error) {
	if offset < 0 || offset > maxOffset {
		return nil, fmt.Errorf("offset %d out of range: %w", offset, errors.ErrBadQualifier)
	}

	flags := uint16(7) // 8-byte values throughout
	if isFloat {
		flags |= flagFloat
	}

	q := make([]byte, qualifierWidth)
	binary.BigEndian.PutUint16(q, uint16(offset)<<offsetShift|flags)
	return q, nil
}

// EncodeRollupQualifier builds a rollup-cell qualifier: the aggregator name,
// a colon, then a raw qualifier whose offset counts intervals.
func EncodeRollupQualifier(aggregator string, intervalOffset int64, isFloat bool) ([]byte, error) {
	q, err := EncodeQualifier(intervalOffset, isFloat)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(aggregator)+1+qualifierWidth)
	out = append(out, aggregator...)
	out = append(out, ':')
	return append(out, q...), nil
}

// EncodeValue encodes a float64 cell value.
func EncodeValue(v float64) []byte {
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, math.Float64bits(v))
	return val
}

// SplitRollupQualifier splits a rollup qualifier into its aggregator name
// and the trailing raw qualifier. ok is false for raw qualifiers.
func SplitRollupQualifier(q []byte) (aggregator string, rest []byte, ok bool) {
	if len(q) <= qualifierWidth {
		return "", q, false
	}
	i := bytes.IndexByte(q[:len(q)-qualifierWidth], ':')
	if i < 0 {
		return "", q, false
	}
	return string(q[:i]), q[i+1:], true
}

// DecodeCell decodes one cell of a row in the given tier. For rollup tiers
// it also returns the aggregator the cell belongs to; raw cells return an
// empty aggregator.
func DecodeCell(tier Tier, base int64, c Cell) (Point, string, error) {
	aggregator := ""
	q := c.Qualifier

	if agg, rest, ok := SplitRollupQualifier(q); ok {
		aggregator = agg
		q = rest
	}
	if len(q) != qualifierWidth {
		return Point{}, "", fmt.Errorf("qualifier %x: %w", c.Qualifier, errors.ErrBadQualifier)
	}

	raw := binary.BigEndian.Uint16(q)
	offset := int64(raw >> offsetShift)
	flags := raw & flagLengthMask
	isFloat := raw&flagFloat != 0

	if int(flags)+1 != len(c.Value) {
		return Point{}, "", fmt.Errorf("value length %d does not match flags %x: %w",
			len(c.Value), flags, errors.ErrBadQualifier)
	}

	ts := base + offset
	if tier.IsRollup() {
		ts = base + offset*int64(tier.Interval/time.Second)
	}

	value, err := decodeValue(c.Value, isFloat)
	if err != nil {
		return Point{}, "", err
	}

	return Point{Timestamp: ts, Value: value}, aggregator, nil
}

// decodeValue decodes a cell value at its encoded width. Integers may be
// 1, 2, 4, or 8 bytes; floats 4 or 8. The writer always emits 8 bytes but
// foreign tables may carry the shorter widths the qualifier format allows.
func decodeValue(val []byte, isFloat bool) (float64, error) {
	switch len(val) {
	case 8:
		bits := binary.BigEndian.Uint64(val)
		if isFloat {
			return math.Float64frombits(bits), nil
		}
		return float64(int64(bits)), nil
	case 4:
		bits := binary.BigEndian.Uint32(val)
		if isFloat {
			return float64(math.Float32frombits(bits)), nil
		}
		return float64(int32(bits)), nil
	case 2:
		if isFloat {
			break
		}
		return float64(int16(binary.BigEndian.Uint16(val))), nil
	case 1:
		if isFloat {
			break
		}
		return float64(int8(val[0])), nil
	}
	return 0, fmt.Errorf("value length %d invalid for float=%v: %w",
		len(val), isFloat, errors.ErrBadQualifier)
}

// CellCount returns the total cell count of a row batch.
func CellCount(rows []Row) int {
	n := 0
	for _, r := range rows {
		n += len(r.Cells)
	}
	return n
}
