package resolve_test

import (
	"context"
	"testing"

	"github.com/aboutcode-org/pyresolve/internal/marker"
	"github.com/aboutcode-org/pyresolve/internal/pepversion"
	"github.com/aboutcode-org/pyresolve/internal/provider"
	"github.com/aboutcode-org/pyresolve/internal/requirement"
	"github.com/aboutcode-org/pyresolve/internal/resolve"
)

// fakeCatalog is an in-memory provider.VersionSource + DependencySource
// for exercising the resolution engine without any network or index.
type fakeCatalog struct {
	versions map[string][]string
	deps     map[string][]string // "name==version" -> requirement strings
}

func (f *fakeCatalog) VersionsFor(_ context.Context, name string) ([]pepversion.Version, error) {
	var out []pepversion.Version

	for _, v := range f.versions[name] {
		out = append(out, pepversion.Parse(v))
	}

	return out, nil
}

func (f *fakeCatalog) DependenciesFor(_ context.Context, name string, version pepversion.Version) ([]requirement.DependentPackage, error) {
	key := name + "==" + version.String()

	var out []requirement.DependentPackage

	for _, r := range f.deps[key] {
		out = append(out, requirement.DependentPackage{
			ExtractedRequirement: r,
			Scope:                requirement.ScopeInstall,
			IsRuntime:            true,
		})
	}

	return out, nil
}

func mustParseAll(t *testing.T, specs ...string) []requirement.Requirement {
	t.Helper()

	out := make([]requirement.Requirement, len(specs))

	for i, s := range specs {
		r, err := requirement.Parse(s)
		if err != nil {
			t.Fatalf("requirement.Parse(%q) error: %v", s, err)
		}

		out[i] = r
	}

	return out
}

func TestResolveDiamondDependency(t *testing.T) {
	cat := &fakeCatalog{
		versions: map[string][]string{
			"flask":        {"2.1.2"},
			"click":        {"8.1.3"},
			"jinja2":       {"3.1.2"},
			"markupsafe":   {"2.1.1"},
			"itsdangerous": {"2.1.2"},
			"werkzeug":     {"2.1.2"},
		},
		deps: map[string][]string{
			"flask==2.1.2":      {"click>=8.1.3", "jinja2>=3.0", "itsdangerous>=2.0", "werkzeug>=2.1"},
			"jinja2==3.1.2":     {"markupsafe>=2.0"},
			"werkzeug==2.1.2":   {"markupsafe>=2.1.1"},
			"click==8.1.3":      {},
			"markupsafe==2.1.1": {},
			"itsdangerous==2.1.2": {},
		},
	}

	ctx := marker.NewContext("310", "linux", "")
	p := provider.New(cat, cat, ctx, false)
	engine := resolve.New(p, 0)

	result, err := engine.Resolve(context.Background(), mustParseAll(t, "flask==2.1.2"))
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	want := []string{"flask", "click", "jinja2", "markupsafe", "itsdangerous", "werkzeug"}
	for _, name := range want {
		if _, ok := result.Mapping[name]; !ok {
			t.Errorf("expected %q in resolved mapping, not found", name)
		}
	}

	if len(result.Mapping) != len(want) {
		t.Errorf("got %d pinned packages, want %d", len(result.Mapping), len(want))
	}

	ms := result.Mapping["markupsafe"]
	if ms.Version.String() != "2.1.1" {
		t.Errorf("markupsafe version = %q, want 2.1.1 (shared between jinja2 and werkzeug)", ms.Version.String())
	}
}

func TestResolveImpossibleConflict(t *testing.T) {
	cat := &fakeCatalog{
		versions: map[string][]string{
			"a": {"1.0"},
			"b": {"1.0"},
			"c": {"1.0", "2.0"},
		},
		deps: map[string][]string{
			"a==1.0": {"c==1.0"},
			"b==1.0": {"c==2.0"},
		},
	}

	ctx := marker.NewContext("310", "linux", "")
	p := provider.New(cat, cat, ctx, false)
	engine := resolve.New(p, 0)

	_, err := engine.Resolve(context.Background(), mustParseAll(t, "a==1.0", "b==1.0"))
	if err == nil {
		t.Fatal("expected resolution to fail on an unsatisfiable pin, got nil error")
	}
}
