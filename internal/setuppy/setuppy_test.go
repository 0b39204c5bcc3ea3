package setuppy_test

import (
	"context"
	"testing"

	"github.com/aboutcode-org/pyresolve/internal/marker"
	"github.com/aboutcode-org/pyresolve/internal/setuppy"
)

func fakeRunner(stdout string, err error) setuppy.CommandRunner {
	return func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte(stdout), err
	}
}

func TestEvaluateInstallRequires(t *testing.T) {
	ev := setuppy.New(setuppy.WithCommandRunner(fakeRunner(
		`{"install_requires": ["click>=8.0", "flask>=2.0"], "extras_require": {}, "test_requires": [], "setup_requires": []}`,
		nil,
	)))

	env := marker.NewContext("310", "linux", "")

	reqs, err := ev.Evaluate(context.Background(), "setup.py", nil, setuppy.LevelExact, env)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	if len(reqs) != 2 {
		t.Fatalf("got %d requirements, want 2: %v", len(reqs), reqs)
	}
}

func TestEvaluateFoldsExtras(t *testing.T) {
	ev := setuppy.New(setuppy.WithCommandRunner(fakeRunner(
		`{"install_requires": ["click>=8.0"], "extras_require": {"test": ["pytest>=7.0"]}, "test_requires": [], "setup_requires": []}`,
		nil,
	)))

	env := marker.NewContext("310", "linux", "")

	reqs, err := ev.Evaluate(context.Background(), "setup.py", []string{"test"}, setuppy.LevelExact, env)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	if len(reqs) != 2 {
		t.Fatalf("got %d requirements, want 2 (install + extra): %v", len(reqs), reqs)
	}
}

func TestEvaluateHarnessError(t *testing.T) {
	ev := setuppy.New(setuppy.WithCommandRunner(fakeRunner(
		`{"error": "ModuleNotFoundError: no module named 'foo'"}`,
		nil,
	)))

	env := marker.NewContext("310", "linux", "")

	_, err := ev.Evaluate(context.Background(), "setup.py", nil, setuppy.LevelExact, env)
	if err == nil {
		t.Fatal("expected an error from a setup.py that raised during evaluation")
	}

	var evalErr *setuppy.EvaluationError
	if !asEvaluationError(err, &evalErr) {
		t.Fatalf("error = %v, want *setuppy.EvaluationError", err)
	}
}

func TestEvaluateLevelMinRewritesLowerBound(t *testing.T) {
	ev := setuppy.New(setuppy.WithCommandRunner(fakeRunner(
		`{"install_requires": ["click>=8.0"], "extras_require": {}, "test_requires": [], "setup_requires": []}`,
		nil,
	)))

	env := marker.NewContext("310", "linux", "")

	reqs, err := ev.Evaluate(context.Background(), "setup.py", nil, setuppy.LevelMin, env)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	if len(reqs) != 1 || reqs[0] != "click==8.0" {
		t.Errorf("reqs = %v, want [click==8.0]", reqs)
	}
}

func asEvaluationError(err error, target **setuppy.EvaluationError) bool {
	e, ok := err.(*setuppy.EvaluationError)
	if ok {
		*target = e
	}

	return ok
}
