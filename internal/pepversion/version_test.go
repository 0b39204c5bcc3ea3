package pepversion_test

import (
	"testing"

	"github.com/aboutcode-org/pyresolve/internal/pepversion"
)

func TestSpecifierSetContains(t *testing.T) {
	tests := []struct {
		name    string
		version string
		spec    string
		want    bool
	}{
		{"no specifier", "1.0.0", "", true},
		{"single match", "1.5.0", ">=1.0", true},
		{"single no match", "0.9.0", ">=1.0", false},
		{"range match", "1.5.0", ">=1.0,<2.0", true},
		{"range no match", "2.1.0", ">=1.0,<2.0", false},
		{"exact match", "1.5.0", "==1.5.0", true},
		{"not equal match", "1.6.0", "!=1.5.0", true},
		{"multiple constraints", "1.26.0", ">=1.25,<2.0,>=1.26", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ss, err := pepversion.ParseSpecifierSet(tt.spec)
			if err != nil {
				t.Fatalf("ParseSpecifierSet(%q): %v", tt.spec, err)
			}

			v := pepversion.Parse(tt.version)
			if got := ss.Contains(v); got != tt.want {
				t.Errorf("Contains(%q) with spec %q = %v, want %v", tt.version, tt.spec, got, tt.want)
			}
		})
	}
}

func TestSortDesc(t *testing.T) {
	raw := []string{"1.0", "3.0", "2.0", "1.5", "2.0.1"}

	versions := make([]pepversion.Version, len(raw))
	for i, r := range raw {
		versions[i] = pepversion.Parse(r)
	}

	sorted := pepversion.SortDesc(versions)

	want := []string{"3.0", "2.0.1", "2.0", "1.5", "1.0"}
	for i, w := range want {
		if sorted[i].String() != w {
			t.Errorf("position %d: got %q, want %q", i, sorted[i].String(), w)
		}
	}
}

func TestLegacySortsBelowPEP440(t *testing.T) {
	legacy := pepversion.Parse("1.3.linux-x86_64")
	if !legacy.Legacy {
		t.Fatalf("expected legacy version to be detected as legacy")
	}

	normal := pepversion.Parse("0.0.1")
	if !normal.GreaterThan(legacy) {
		t.Errorf("expected PEP 440 version to sort above legacy version")
	}
}

func TestPreReleaseDetection(t *testing.T) {
	if !pepversion.Parse("3.0.0a1").IsPreRelease() {
		t.Errorf("expected 3.0.0a1 to be a pre-release")
	}

	if pepversion.Parse("3.0.0").IsPreRelease() {
		t.Errorf("expected 3.0.0 to not be a pre-release")
	}
}
