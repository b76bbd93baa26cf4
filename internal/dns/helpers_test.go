package dns

import "testing"

func TestFullAndRelativeName(t *testing.T) {
	tests := []struct {
		name         string
		wantFull     string
		wantRelative string
	}{
		{"foo", "foo.example.com.", "foo"},
		{"Foo.Example.com", "foo.example.com.", "foo"},
		{"foo.example.com.", "foo.example.com.", "foo"},
		{"a.b", "a.b.example.com.", "a.b"},
		{"@", "example.com.", "@"},
		{"", "example.com.", "@"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FullName(tt.name, "example.com"); got != tt.wantFull {
				t.Errorf("FullName(%q) = %q, want %q", tt.name, got, tt.wantFull)
			}
			if got := RelativeName(tt.name, "example.com."); got != tt.wantRelative {
				t.Errorf("RelativeName(%q) = %q, want %q", tt.name, got, tt.wantRelative)
			}
		})
	}
}

func TestValidType(t *testing.T) {
	for _, typ := range []string{"A", "aaaa", "TXT", "CNAME"} {
		if !ValidType(typ) {
			t.Errorf("expected %q to be valid", typ)
		}
	}
	if ValidType("BOGUS") {
		t.Error("expected BOGUS to be invalid")
	}
}

func TestFilterMatch(t *testing.T) {
	r := Record{ID: "1", Name: "foo.example.com.", Type: "TXT", Content: "bar1"}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"type", Filter{Type: "txt"}, true},
		{"other type", Filter{Type: "A"}, false},
		{"relative name", Filter{Name: "foo"}, true},
		{"fqdn name", Filter{Name: "foo.example.com"}, true},
		{"other name", Filter{Name: "bar"}, false},
		{"content", Filter{Type: "TXT", Name: "foo", Content: "bar1"}, true},
		{"other content", Filter{Content: "bar2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(r, "example.com"); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}
