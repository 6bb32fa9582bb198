package query

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "scanline.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  salt_buckets: 16
  row_span: 2h
query:
  rows_per_scan: 64
  sequence_span: 6h
  rollup_usage: fallback
sink:
  max_points: 5000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.SaltBuckets != 16 {
		t.Errorf("salt_buckets = %d, want 16", cfg.Storage.SaltBuckets)
	}
	if cfg.Storage.RowSpan != 2*time.Hour {
		t.Errorf("row_span = %s, want 2h", cfg.Storage.RowSpan)
	}
	if cfg.Query.RowsPerScan != 64 {
		t.Errorf("rows_per_scan = %d, want 64", cfg.Query.RowsPerScan)
	}
	if cfg.Query.SequenceSpan != 6*time.Hour {
		t.Errorf("sequence_span = %s, want 6h", cfg.Query.SequenceSpan)
	}
	if cfg.Sink.MaxPoints != 5000 {
		t.Errorf("max_points = %d, want 5000", cfg.Sink.MaxPoints)
	}

	// Unset values keep their defaults.
	if cfg.Storage.RawTable == "" {
		t.Error("raw_table default lost")
	}
	if cfg.Query.ExpansionLimit < 1 {
		t.Error("expansion_limit default lost")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load(missing file) = nil error")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "storage: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Error("Load(malformed yaml) = nil error")
	}
}

func TestValidate_Rejections(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero salt buckets", func(c *Config) { c.Storage.SaltBuckets = 0 }},
		{"too many salt buckets", func(c *Config) { c.Storage.SaltBuckets = 300 }},
		{"zero row span", func(c *Config) { c.Storage.RowSpan = 0 }},
		{"empty raw table", func(c *Config) { c.Storage.RawTable = "" }},
		{"zero expansion limit", func(c *Config) { c.Query.ExpansionLimit = 0 }},
		{"zero rows per scan", func(c *Config) { c.Query.RowsPerScan = 0 }},
		{"negative multiget limit", func(c *Config) { c.Query.MultiGetLimit = -1 }},
		{"zero multiget batch", func(c *Config) { c.Query.MultiGetBatch = 0 }},
		{"bad rollup usage", func(c *Config) { c.Query.RollupUsage = "sometimes" }},
		{"zero sink series", func(c *Config) { c.Sink.MaxSeries = 0 }},
		{"zero sink points", func(c *Config) { c.Sink.MaxPoints = 0 }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
