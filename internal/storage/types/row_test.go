package types

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/xtxerr/scanline/internal/errors"
)

func TestDecodeCell_RawFloat(t *testing.T) {
	tier := RawTier("data", time.Hour)

	q, err := EncodeQualifier(125, true)
	if err != nil {
		t.Fatalf("EncodeQualifier() error = %v", err)
	}
	cell := Cell{Qualifier: q, Value: EncodeValue(42.5)}

	p, aggregator, err := DecodeCell(tier, 3600, cell)
	if err != nil {
		t.Fatalf("DecodeCell() error = %v", err)
	}
	if aggregator != "" {
		t.Errorf("aggregator = %q, want empty for raw cell", aggregator)
	}
	if p.Timestamp != 3725 {
		t.Errorf("Timestamp = %d, want 3725", p.Timestamp)
	}
	if p.Value != 42.5 {
		t.Errorf("Value = %v, want 42.5", p.Value)
	}
}

func TestDecodeCell_RollupIntervalOffset(t *testing.T) {
	tier := RollupTier("rollup_1m", time.Minute, 60, "sum")

	// Offset 3 counts intervals: 3 minutes past the row base.
	q, err := EncodeRollupQualifier("sum", 3, true)
	if err != nil {
		t.Fatalf("EncodeRollupQualifier() error = %v", err)
	}
	cell := Cell{Qualifier: q, Value: EncodeValue(9)}

	p, aggregator, err := DecodeCell(tier, 7200, cell)
	if err != nil {
		t.Fatalf("DecodeCell() error = %v", err)
	}
	if aggregator != "sum" {
		t.Errorf("aggregator = %q, want sum", aggregator)
	}
	if want := int64(7200 + 3*60); p.Timestamp != want {
		t.Errorf("Timestamp = %d, want %d", p.Timestamp, want)
	}
}

func TestEncodeQualifier_OffsetBounds(t *testing.T) {
	if _, err := EncodeQualifier(-1, true); !errors.Is(err, errors.ErrBadQualifier) {
		t.Errorf("EncodeQualifier(-1) = %v, want ErrBadQualifier", err)
	}
	if _, err := EncodeQualifier(4096, true); !errors.Is(err, errors.ErrBadQualifier) {
		t.Errorf("EncodeQualifier(4096) = %v, want ErrBadQualifier", err)
	}
	if _, err := EncodeQualifier(4095, true); err != nil {
		t.Errorf("EncodeQualifier(4095) = %v, want nil", err)
	}
}

func TestSplitRollupQualifier(t *testing.T) {
	q, _ := EncodeRollupQualifier("count", 1, false)
	aggregator, rest, ok := SplitRollupQualifier(q)
	if !ok {
		t.Fatal("SplitRollupQualifier() ok = false for rollup qualifier")
	}
	if aggregator != "count" {
		t.Errorf("aggregator = %q, want count", aggregator)
	}
	if len(rest) != 2 {
		t.Errorf("rest length = %d, want 2", len(rest))
	}

	raw, _ := EncodeQualifier(5, true)
	if _, _, ok := SplitRollupQualifier(raw); ok {
		t.Error("SplitRollupQualifier() ok = true for raw qualifier")
	}
}

func TestDecodeCell_ValueLengthMismatch(t *testing.T) {
	tier := RawTier("data", time.Hour)
	q, _ := EncodeQualifier(0, true)
	cell := Cell{Qualifier: q, Value: []byte{1, 2, 3}}

	if _, _, err := DecodeCell(tier, 0, cell); !errors.Is(err, errors.ErrBadQualifier) {
		t.Errorf("DecodeCell(bad value) = %v, want ErrBadQualifier", err)
	}
}

// qualifier builds a raw qualifier with explicit flag bits, bypassing the
// encoder's fixed 8-byte length.
func qualifier(offset uint16, flags uint16) []byte {
	q := make([]byte, 2)
	binary.BigEndian.PutUint16(q, offset<<4|flags)
	return q
}

func TestDecodeCell_ShortIntegerWidths(t *testing.T) {
	tier := RawTier("data", time.Hour)

	tests := []struct {
		name  string
		flags uint16
		value []byte
		want  float64
	}{
		{"one byte", 0x0, []byte{0xFE}, -2},
		{"two bytes", 0x1, []byte{0x01, 0x00}, 256},
		{"four bytes", 0x3, []byte{0x00, 0x00, 0x00, 0x09}, 9},
	}
	for _, tt := range tests {
		cell := Cell{Qualifier: qualifier(10, tt.flags), Value: tt.value}
		p, _, err := DecodeCell(tier, 0, cell)
		if err != nil {
			t.Errorf("%s: DecodeCell() error = %v", tt.name, err)
			continue
		}
		if p.Value != tt.want {
			t.Errorf("%s: Value = %v, want %v", tt.name, p.Value, tt.want)
		}
		if p.Timestamp != 10 {
			t.Errorf("%s: Timestamp = %d, want 10", tt.name, p.Timestamp)
		}
	}
}

func TestDecodeCell_Float32Value(t *testing.T) {
	tier := RawTier("data", time.Hour)

	val := make([]byte, 4)
	binary.BigEndian.PutUint32(val, math.Float32bits(2.5))
	cell := Cell{Qualifier: qualifier(0, flagFloat|0x3), Value: val}

	p, _, err := DecodeCell(tier, 0, cell)
	if err != nil {
		t.Fatalf("DecodeCell() error = %v", err)
	}
	if p.Value != 2.5 {
		t.Errorf("Value = %v, want 2.5", p.Value)
	}
}

func TestDecodeCell_UnsupportedValueWidths(t *testing.T) {
	tier := RawTier("data", time.Hour)

	tests := []struct {
		name  string
		flags uint16
		value []byte
	}{
		{"three byte integer", 0x2, []byte{1, 2, 3}},
		{"one byte float", flagFloat | 0x0, []byte{1}},
		{"two byte float", flagFloat | 0x1, []byte{1, 2}},
	}
	for _, tt := range tests {
		cell := Cell{Qualifier: qualifier(0, tt.flags), Value: tt.value}
		if _, _, err := DecodeCell(tier, 0, cell); !errors.Is(err, errors.ErrBadQualifier) {
			t.Errorf("%s: DecodeCell() = %v, want ErrBadQualifier", tt.name, err)
		}
	}
}

func TestDecodeCell_IntegerValue(t *testing.T) {
	tier := RawTier("data", time.Hour)
	q, _ := EncodeQualifier(0, false)

	val := make([]byte, 8)
	val[7] = 17
	p, _, err := DecodeCell(tier, 0, Cell{Qualifier: q, Value: val})
	if err != nil {
		t.Fatalf("DecodeCell() error = %v", err)
	}
	if p.Value != 17 {
		t.Errorf("Value = %v, want 17", p.Value)
	}
}
