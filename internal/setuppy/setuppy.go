// Package setuppy implements the insecure setup.py evaluation contract
// (§4.6.1): since Go cannot safely execute arbitrary Python in-process,
// this runs the target file as a subprocess that intercepts
// setuptools.setup/distutils.core.setup and reports the kwargs it was
// called with as JSON on stdout. It must only be invoked when the caller
// has explicitly opted in (analyze_setup_py_insecurely).
//
// The CommandRunner injection point is grounded on internal/python's
// Detector/CommandRunner pattern (exec.CommandContext by default,
// swappable in tests).
package setuppy

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/aboutcode-org/pyresolve/internal/marker"
	"github.com/aboutcode-org/pyresolve/internal/requirement"
)

// harness is run as `python3 -c harness <path>`. It patches both
// setup.py entry points to capture the kwargs the script calls them
// with, then executes the target file as __main__, printing the
// captured kwargs (or an error) as a single JSON object.
const harness = `
import json, runpy, sys

captured = {}

def _capture(**kwargs):
    captured.update(kwargs)

import setuptools
import distutils.core
setuptools.setup = _capture
distutils.core.setup = _capture

path = sys.argv[1]

try:
    runpy.run_path(path, run_name="__main__")
    print(json.dumps({
        "install_requires": captured.get("install_requires") or [],
        "extras_require": captured.get("extras_require") or {},
        "test_requires": captured.get("test_requires") or [],
        "setup_requires": captured.get("setup_requires") or [],
    }))
except BaseException as e:
    print(json.dumps({"error": str(e)}))
`

// CommandRunner executes a command and returns its combined stdout,
// matching internal/python.CommandRunner's shape so the same injection
// point can be reused in tests.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Level controls requirement-loosening for min/max install scenarios, per
// §4.6.1.
type Level string

const (
	LevelExact Level = ""
	LevelMin   Level = "min"
)

// setupOutput is the harness's JSON stdout shape.
type setupOutput struct {
	InstallRequires []string            `json:"install_requires"`
	ExtrasRequire   map[string][]string `json:"extras_require"`
	TestRequires    []string            `json:"test_requires"`
	SetupRequires   []string            `json:"setup_requires"`
	Error           string              `json:"error"`
}

// EvaluationError wraps an error the target setup.py raised while running,
// as opposed to a failure of the subprocess itself.
type EvaluationError struct {
	Path   string
	Reason string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("setuppy: %s raised while evaluating: %s", e.Path, e.Reason)
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithPythonBin sets the python binary path. Defaults to "python3".
func WithPythonBin(bin string) Option {
	return func(e *Evaluator) {
		if bin != "" {
			e.pythonBin = bin
		}
	}
}

// WithCommandRunner overrides how the subprocess is invoked. Defaults to
// exec.CommandContext.
func WithCommandRunner(fn CommandRunner) Option {
	return func(e *Evaluator) {
		if fn != nil {
			e.runCmd = fn
		}
	}
}

// Evaluator runs the insecure setup.py evaluation contract.
type Evaluator struct {
	pythonBin string
	runCmd    CommandRunner
}

// New builds an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{pythonBin: "python3", runCmd: defaultRunCmd}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Evaluate runs path as __main__ under the capturing harness and returns
// the requirement strings that apply: install_requires always; the named
// extras folded in when present in extras; test/setup requires folded in
// when "test"/"setup" is present in extras. Each requirement's
// environment marker is evaluated against env and dropped if it does not
// apply. At level LevelMin, open-ended lower bounds are rewritten to exact
// pins per §4.6.1.
func (e *Evaluator) Evaluate(ctx context.Context, path string, extras []string, level Level, env marker.Context) ([]string, error) {
	output, err := e.runCmd(ctx, e.pythonBin, "-c", harness, path)
	if err != nil {
		return nil, fmt.Errorf("setuppy: running harness against %s: %w", path, err)
	}

	var parsed setupOutput
	if err := json.Unmarshal(trimToJSON(output), &parsed); err != nil {
		return nil, fmt.Errorf("setuppy: parsing harness output for %s: %w", path, err)
	}

	if parsed.Error != "" {
		return nil, &EvaluationError{Path: path, Reason: parsed.Error}
	}

	want := map[string]bool{}
	for _, x := range extras {
		want[x] = true
	}

	raw := append([]string{}, parsed.InstallRequires...)

	for extra, reqs := range parsed.ExtrasRequire {
		if want[extra] {
			raw = append(raw, reqs...)
		}
	}

	if want["test"] {
		raw = append(raw, parsed.TestRequires...)
	}

	if want["setup"] {
		raw = append(raw, parsed.SetupRequires...)
	}

	return filterAndLevel(raw, level, env)
}

func filterAndLevel(raw []string, level Level, env marker.Context) ([]string, error) {
	var out []string

	for _, r := range raw {
		req, err := requirement.Parse(r)
		if err != nil {
			continue
		}

		applies, err := req.EvaluateMarker(env)
		if err != nil || !applies {
			continue
		}

		spec := req.Specifier.String()

		if level == LevelMin {
			var levelErr error

			spec, levelErr = loosenToMin(spec)
			if levelErr != nil {
				return nil, levelErr
			}
		}

		out = append(out, req.Name+spec)
	}

	return out, nil
}

// loosenToMin rewrites a specifier to its minimum-satisfying pin per
// §4.6.1: ">=X" / "~=X" becomes "==X"; "~=X.Y" becomes ">=X.Y,==X.*"; a
// bare "> X" with no floor is rejected since there is no minimum to pin.
func loosenToMin(spec string) (string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", nil
	}

	switch {
	case strings.HasPrefix(spec, ">="):
		return "==" + strings.TrimPrefix(spec, ">="), nil
	case strings.HasPrefix(spec, "~="):
		v := strings.TrimPrefix(spec, "~=")
		if strings.Count(v, ".") != 1 {
			return "==" + v, nil
		}

		major, _, _ := strings.Cut(v, ".")

		return ">=" + v + ",==" + major + ".*", nil
	case strings.HasPrefix(spec, ">"):
		return "", fmt.Errorf("setuppy: cannot rewrite open-ended specifier %q to a minimum pin", spec)
	default:
		return spec, nil
	}
}

func trimToJSON(output []byte) []byte {
	idx := strings.IndexByte(string(output), '{')
	if idx < 0 {
		return output
	}

	return output[idx:]
}

func defaultRunCmd(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
