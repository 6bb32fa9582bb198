package filter

import "testing"

func TestTagLiteralOr_Matches(t *testing.T) {
	f := NewTagLiteralOr("host", "web01|web02")

	tests := []struct {
		name string
		tags map[string]string
		want bool
	}{
		{"first value", map[string]string{"host": "web01"}, true},
		{"second value", map[string]string{"host": "web02"}, true},
		{"other value", map[string]string{"host": "db01"}, false},
		{"missing key", map[string]string{"dc": "east"}, false},
	}
	for _, tt := range tests {
		if got := f.Matches(tt.tags); got != tt.want {
			t.Errorf("%s: Matches() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTagLiteralOr_TrimsValues(t *testing.T) {
	f := NewTagLiteralOr("host", " web01 | web02 |")
	if len(f.Values) != 2 {
		t.Fatalf("Values = %v, want 2 trimmed entries", f.Values)
	}
	if !f.Matches(map[string]string{"host": "web01"}) {
		t.Error("trimmed value does not match")
	}
}

func TestTagRegex_Matches(t *testing.T) {
	f, err := NewTagRegex("host", "^web[0-9]+$")
	if err != nil {
		t.Fatalf("NewTagRegex() error = %v", err)
	}

	if !f.Matches(map[string]string{"host": "web42"}) {
		t.Error("web42 should match")
	}
	if f.Matches(map[string]string{"host": "db42"}) {
		t.Error("db42 should not match")
	}
	if f.Matches(map[string]string{"dc": "east"}) {
		t.Error("missing key should not match")
	}
}

func TestTagRegex_MatchesAll(t *testing.T) {
	for _, pattern := range []string{".*", "^.*$"} {
		f, err := NewTagRegex("host", pattern)
		if err != nil {
			t.Fatalf("NewTagRegex(%s) error = %v", pattern, err)
		}
		if !f.MatchesAll() {
			t.Errorf("MatchesAll(%s) = false, want true", pattern)
		}
	}

	f, _ := NewTagRegex("host", "web.*")
	if f.MatchesAll() {
		t.Error("MatchesAll(web.*) = true, want false")
	}
}

func TestTagWildcard_Matches(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"web*", "web01", true},
		{"web*", "db01", false},
		{"*01", "web01", true},
		{"*01", "web02", false},
		{"web*01", "web-rack-01", true},
		{"web*01", "web-rack-02", false},
		{"*rack*", "web-rack-01", true},
		{"*", "anything", true},
	}
	for _, tt := range tests {
		f := NewTagWildcard("host", tt.pattern)
		got := f.Matches(map[string]string{"host": tt.value})
		if got != tt.want {
			t.Errorf("wildcard(%s).Matches(%s) = %v, want %v", tt.pattern, tt.value, got, tt.want)
		}
	}
}

func TestNot_Inverts(t *testing.T) {
	f := &Not{Filter: NewTagLiteralOr("host", "web01")}

	if f.Matches(map[string]string{"host": "web01"}) {
		t.Error("NOT should reject the matching value")
	}
	if !f.Matches(map[string]string{"host": "db01"}) {
		t.Error("NOT should accept a non-matching value")
	}
}

func TestChain_AndOr(t *testing.T) {
	host := NewTagLiteralOr("host", "web01")
	dc := NewTagLiteralOr("dc", "east")

	and := And(host, dc)
	if !and.Matches(map[string]string{"host": "web01", "dc": "east"}) {
		t.Error("AND should match when both children match")
	}
	if and.Matches(map[string]string{"host": "web01", "dc": "west"}) {
		t.Error("AND should reject when one child fails")
	}

	or := Or(host, dc)
	if !or.Matches(map[string]string{"host": "db01", "dc": "east"}) {
		t.Error("OR should match when one child matches")
	}
	if or.Matches(map[string]string{"host": "db01", "dc": "west"}) {
		t.Error("OR should reject when no child matches")
	}
}
