package marker_test

import (
	"testing"

	"github.com/aboutcode-org/pyresolve/internal/marker"
)

func eval(t *testing.T, expr string, ctx marker.Context) bool {
	t.Helper()

	m, err := marker.Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expr, err)
	}

	ok, err := m.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", expr, err)
	}

	return ok
}

func TestEmptyMarkerAlwaysTrue(t *testing.T) {
	if !eval(t, "", marker.Context{}) {
		t.Errorf("empty marker should evaluate to true")
	}
}

func TestSimpleComparison(t *testing.T) {
	ctx := marker.NewContext("3.10", "windows", "")

	if !eval(t, `sys_platform == "win32"`, ctx) {
		t.Errorf(`expected sys_platform == "win32" to be true on windows`)
	}

	if eval(t, `sys_platform == "win32"`, marker.NewContext("3.10", "linux", "")) {
		t.Errorf(`expected sys_platform == "win32" to be false on linux`)
	}
}

func TestVersionComparison(t *testing.T) {
	ctx := marker.NewContext("3.6", "linux", "")

	if !eval(t, `python_version < "3.10"`, ctx) {
		t.Errorf("expected python_version < 3.10 to hold for 3.6")
	}
}

func TestAndOr(t *testing.T) {
	ctx := marker.NewContext("3.10", "linux", "")

	if !eval(t, `python_version >= "3.8" and sys_platform == "linux"`, ctx) {
		t.Errorf("expected and-expression to be true")
	}

	if !eval(t, `sys_platform == "win32" or sys_platform == "linux"`, ctx) {
		t.Errorf("expected or-expression to be true")
	}
}

func TestExtraKey(t *testing.T) {
	ctx := marker.NewContext("3.10", "linux", "socks")
	if !eval(t, `extra == "socks"`, ctx) {
		t.Errorf(`expected extra == "socks" to be true when extra is "socks"`)
	}

	ctxNone := marker.NewContext("3.10", "linux", "")
	if eval(t, `extra == "socks"`, ctxNone) {
		t.Errorf(`expected extra == "socks" to be false when no extras requested`)
	}
}

func TestUnknownKeyIsError(t *testing.T) {
	m, err := marker.Parse(`platform_machine == "x86_64"`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if _, err := m.Evaluate(marker.Context{}); err == nil {
		t.Errorf("expected error for missing context key")
	}
}
