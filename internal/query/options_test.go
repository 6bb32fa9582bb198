package query

import (
	"testing"
	"time"

	"github.com/xtxerr/scanline/config"
	"github.com/xtxerr/scanline/internal/errors"
)

func TestResolveOptions_Defaults(t *testing.T) {
	cfg := DefaultConfig()

	opts, err := cfg.ResolveOptions(nil)
	if err != nil {
		t.Fatalf("ResolveOptions() error = %v", err)
	}

	if opts.RowsPerScan != cfg.Query.RowsPerScan {
		t.Errorf("RowsPerScan = %d, want %d", opts.RowsPerScan, cfg.Query.RowsPerScan)
	}
	if opts.RollupUsage != RollupRaw {
		t.Errorf("RollupUsage = %s, want raw", opts.RollupUsage)
	}
	if opts.Reverse {
		t.Error("Reverse = true by default")
	}
}

func TestResolveOptions_Overrides(t *testing.T) {
	cfg := DefaultConfig()

	opts, err := cfg.ResolveOptions(map[string]string{
		config.OverrideRowsPerScan:   "17",
		config.OverrideReverse:       "true",
		config.OverrideSequenceSpan:  "90m",
		config.OverrideRollupUsage:   "fallback",
		config.OverrideMultiGetLimit: "5",
	})
	if err != nil {
		t.Fatalf("ResolveOptions() error = %v", err)
	}

	if opts.RowsPerScan != 17 {
		t.Errorf("RowsPerScan = %d, want 17", opts.RowsPerScan)
	}
	if !opts.Reverse {
		t.Error("Reverse override lost")
	}
	if opts.SequenceSpan != 90*time.Minute {
		t.Errorf("SequenceSpan = %s, want 90m", opts.SequenceSpan)
	}
	if opts.RollupUsage != RollupFallback {
		t.Errorf("RollupUsage = %s, want fallback", opts.RollupUsage)
	}
	if opts.MultiGetLimit != 5 {
		t.Errorf("MultiGetLimit = %d, want 5", opts.MultiGetLimit)
	}
}

func TestResolveOptions_UnknownKeysIgnored(t *testing.T) {
	opts, err := DefaultConfig().ResolveOptions(map[string]string{
		"downsample": "1m-avg",
		"arbitrary":  "value",
	})
	if err != nil {
		t.Fatalf("ResolveOptions() error = %v", err)
	}
	if opts == nil {
		t.Fatal("ResolveOptions() = nil options")
	}
}

func TestResolveOptions_BadValues(t *testing.T) {
	bad := []map[string]string{
		{config.OverrideRowsPerScan: "zero"},
		{config.OverrideRowsPerScan: "0"},
		{config.OverrideRowsPerScan: "-4"},
		{config.OverrideReverse: "yep"},
		{config.OverrideSequenceSpan: "fortnight"},
		{config.OverrideSequenceSpan: "-1h"},
		{config.OverrideRollupUsage: "sometimes"},
		{config.OverrideExpansionLimit: "1e4"},
	}

	for _, overrides := range bad {
		if _, err := DefaultConfig().ResolveOptions(overrides); !errors.Is(err, errors.ErrBadOverride) {
			t.Errorf("ResolveOptions(%v) = %v, want ErrBadOverride", overrides, err)
		}
	}
}

func TestParseRollupUsage(t *testing.T) {
	tests := []struct {
		in      string
		want    RollupUsage
		wantErr bool
	}{
		{"raw", RollupRaw, false},
		{"", RollupRaw, false},
		{"fallback", RollupFallback, false},
		{"nofallback", RollupNoFallback, false},
		{"never", RollupRaw, true},
	}

	for _, tt := range tests {
		got, err := ParseRollupUsage(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRollupUsage(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseRollupUsage(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
