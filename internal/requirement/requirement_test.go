package requirement_test

import (
	"testing"

	"github.com/aboutcode-org/pyresolve/internal/requirement"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantName   string
		wantExtras []string
		wantMarker bool
	}{
		{"bare", "flask", "flask", nil, false},
		{"specifier", "flask>=3.0", "flask", nil, false},
		{"extras", "requests[socks,security]", "requests", []string{"security", "socks"}, false},
		{"marker", `importlib-metadata>=3.6.0; python_version < "3.10"`, "importlib-metadata", nil, true},
		{"normalizes name", "Flask_Login", "flask-login", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := requirement.Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}

			if r.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", r.Name, tt.wantName)
			}

			if len(r.Extras) != len(tt.wantExtras) {
				t.Fatalf("Extras = %v, want %v", r.Extras, tt.wantExtras)
			}

			for i, e := range tt.wantExtras {
				if r.Extras[i] != e {
					t.Errorf("Extras[%d] = %q, want %q", i, r.Extras[i], e)
				}
			}

			if (r.Marker != nil) != tt.wantMarker {
				t.Errorf("Marker present = %v, want %v", r.Marker != nil, tt.wantMarker)
			}
		})
	}
}

func TestIdentifier(t *testing.T) {
	r, err := requirement.Parse("requests[socks,security]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := "requests[security,socks]"
	if got := r.Identifier(); got != want {
		t.Errorf("Identifier() = %q, want %q", got, want)
	}
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"Flask":       "flask",
		"flask_login": "flask-login",
		"flask..login": "flask-login",
		"A___B":       "a-b",
	}

	for in, want := range tests {
		if got := requirement.NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSkipFlags(t *testing.T) {
	f := requirement.SkipFlags{}
	if f.Skipped() {
		t.Errorf("zero-value SkipFlags should not be skipped")
	}

	f.IsVCS = true
	if !f.Skipped() {
		t.Errorf("expected SkipFlags with IsVCS set to be skipped")
	}
}
