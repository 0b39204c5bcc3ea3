package reqfile_test

import (
	"strings"
	"testing"

	"github.com/aboutcode-org/pyresolve/internal/reqfile"
)

func TestParseRequirementsTxt(t *testing.T) {
	input := `# comment
flask==2.1.2
click >=8.1.3 \
    ; python_version >= "3.6"
-e git+https://example.org/pkg.git#egg=pkg
https://example.org/foo-1.0.tar.gz
-r other.txt
`

	deps, err := reqfile.ParseRequirementsTxt(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseRequirementsTxt() error: %v", err)
	}

	if len(deps) != 5 {
		t.Fatalf("got %d entries, want 5: %+v", len(deps), deps)
	}

	if deps[0].ExtractedRequirement != "flask==2.1.2" {
		t.Errorf("deps[0] = %q", deps[0].ExtractedRequirement)
	}

	if !strings.Contains(deps[1].ExtractedRequirement, "click") {
		t.Errorf("deps[1] = %q, want continuation line joined", deps[1].ExtractedRequirement)
	}

	if !deps[2].Skip.IsEditable {
		t.Errorf("deps[2] should be flagged editable: %+v", deps[2])
	}

	if !deps[3].Skip.IsURL {
		t.Errorf("deps[3] should be flagged as a URL requirement: %+v", deps[3])
	}
}

func TestParseSetupCfg(t *testing.T) {
	input := `
[metadata]
name = example

[options]
install_requires =
    requests>=2.0
    click>=8.0

[options.extras_require]
test =
    pytest>=7.0
`

	deps, err := reqfile.ParseSetupCfg(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseSetupCfg() error: %v", err)
	}

	var runtime, optional int

	for _, d := range deps {
		if d.IsRuntime {
			runtime++
		}

		if d.IsOptional {
			optional++
		}
	}

	if runtime != 2 {
		t.Errorf("got %d runtime deps, want 2", runtime)
	}

	if optional != 1 {
		t.Errorf("got %d optional deps, want 1", optional)
	}
}

func TestParseSetupPyInstallRequiresLiteral(t *testing.T) {
	content := `
setup(
    name="example",
    install_requires=["requests>=2.0", "click>=8.0"],
)
`

	reqs, literal, ok := reqfile.ParseSetupPyInstallRequires(content)
	if !ok || !literal {
		t.Fatalf("ok=%v literal=%v, want true/true", ok, literal)
	}

	if len(reqs) != 2 {
		t.Fatalf("got %d reqs, want 2: %v", len(reqs), reqs)
	}

	if reqfile.HasUnresolvedInstallRequires(content) {
		t.Error("a clean literal list should not be flagged unresolved")
	}
}

func TestParseSetupPyInstallRequiresDynamic(t *testing.T) {
	content := `
REQUIRES = ["requests>=2.0"]
setup(
    name="example",
    install_requires=REQUIRES + extra_requires,
)
`

	_, literal, ok := reqfile.ParseSetupPyInstallRequires(content)
	if ok || literal {
		t.Fatalf("ok=%v literal=%v, want false/false for an expression that is not a bracketed list", ok, literal)
	}

	if !reqfile.HasUnresolvedInstallRequires(content) {
		t.Error("a non-literal install_requires should be flagged unresolved")
	}
}

func TestHasUnresolvedInstallRequiresAbsent(t *testing.T) {
	content := `setup(name="example")`

	if reqfile.HasUnresolvedInstallRequires(content) {
		t.Error("setup.py with no install_requires should not be flagged")
	}
}
