package output_test

import (
	"context"
	"testing"

	"github.com/aboutcode-org/pyresolve/internal/marker"
	"github.com/aboutcode-org/pyresolve/internal/output"
	"github.com/aboutcode-org/pyresolve/internal/pepversion"
	"github.com/aboutcode-org/pyresolve/internal/provider"
	"github.com/aboutcode-org/pyresolve/internal/requirement"
	"github.com/aboutcode-org/pyresolve/internal/resolve"
)

type fakeCatalog struct {
	versions map[string][]string
	deps     map[string][]string
}

func (f *fakeCatalog) VersionsFor(_ context.Context, name string) ([]pepversion.Version, error) {
	var out []pepversion.Version
	for _, v := range f.versions[name] {
		out = append(out, pepversion.Parse(v))
	}

	return out, nil
}

func (f *fakeCatalog) DependenciesFor(_ context.Context, name string, version pepversion.Version) ([]requirement.DependentPackage, error) {
	var out []requirement.DependentPackage

	for _, r := range f.deps[name+"=="+version.String()] {
		out = append(out, requirement.DependentPackage{ExtractedRequirement: r, Scope: requirement.ScopeInstall, IsRuntime: true})
	}

	return out, nil
}

func resolveFixture(t *testing.T) *resolve.Result {
	t.Helper()

	cat := &fakeCatalog{
		versions: map[string][]string{
			"flask": {"2.1.2"}, "click": {"8.1.3"},
		},
		deps: map[string][]string{
			"flask==2.1.2": {"click>=8.1.3"},
		},
	}

	ctx := marker.NewContext("310", "linux", "")
	p := provider.New(cat, cat, ctx, false)
	engine := resolve.New(p, 0)

	req, err := requirement.Parse("flask==2.1.2")
	if err != nil {
		t.Fatalf("requirement.Parse() error: %v", err)
	}

	result, err := engine.Resolve(context.Background(), []requirement.Requirement{req})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	return result
}

func TestFlat(t *testing.T) {
	result := resolveFixture(t)
	entries := output.Flat(result)

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	if entries[1].Package != "pkg:pypi/flask@2.1.2" {
		t.Errorf("package = %q, want pkg:pypi/flask@2.1.2", entries[1].Package)
	}

	if len(entries[1].Dependencies) != 1 || entries[1].Dependencies[0] != "pkg:pypi/click@8.1.3" {
		t.Errorf("dependencies = %v, want [pkg:pypi/click@8.1.3]", entries[1].Dependencies)
	}
}

func TestTree(t *testing.T) {
	result := resolveFixture(t)
	tree := output.Tree(result)

	if len(tree) != 1 {
		t.Fatalf("got %d roots, want 1", len(tree))
	}

	if tree[0].Package != "pkg:pypi/flask@2.1.2" {
		t.Errorf("root = %q, want pkg:pypi/flask@2.1.2", tree[0].Package)
	}

	if len(tree[0].Dependencies) != 1 || tree[0].Dependencies[0].Package != "pkg:pypi/click@8.1.3" {
		t.Errorf("children = %+v, want single click dependency", tree[0].Dependencies)
	}
}

func TestAllPURLs(t *testing.T) {
	result := resolveFixture(t)
	purls := output.AllPURLs(result)

	want := []string{"pkg:pypi/click@8.1.3", "pkg:pypi/flask@2.1.2"}
	if len(purls) != len(want) {
		t.Fatalf("got %v, want %v", purls, want)
	}

	for i := range want {
		if purls[i] != want[i] {
			t.Errorf("purls[%d] = %q, want %q", i, purls[i], want[i])
		}
	}
}
