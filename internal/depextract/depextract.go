// Package depextract implements the C6 dependency extractor: given a
// resolved candidate distribution, walk the extraction ladder described in
// SPEC_FULL.md §4.6 until a nested requirement list is found, memoizing by
// candidate purl.
//
// The ladder prefers the cheapest and safest source first: a wheel's
// METADATA, then an sdist's PKG-INFO, then increasingly unsafe fallbacks
// against setup.py/setup.cfg/requirements.txt, refusing outright rather
// than silently under-resolving when only live code execution could
// answer (unless the caller opted into that explicitly).
package depextract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/aboutcode-org/pyresolve/internal/cache"
	"github.com/aboutcode-org/pyresolve/internal/catalog"
	"github.com/aboutcode-org/pyresolve/internal/dist"
	"github.com/aboutcode-org/pyresolve/internal/marker"
	"github.com/aboutcode-org/pyresolve/internal/pypi"
	"github.com/aboutcode-org/pyresolve/internal/reqfile"
	"github.com/aboutcode-org/pyresolve/internal/requirement"
	"github.com/aboutcode-org/pyresolve/internal/setuppy"
	"github.com/aboutcode-org/pyresolve/internal/simpleindex"
)

// InsecureSetupRefusedError reports that the only place a package's
// dependencies could be found was a setup.py that assigns install_requires
// from something other than a literal string list, and the caller did not
// opt into live evaluation via analyze_setup_py_insecurely.
type InsecureSetupRefusedError struct {
	Name    string
	Version string
}

func (e *InsecureSetupRefusedError) Error() string {
	return fmt.Sprintf("depextract: %s %s declares install_requires that can only be read by executing setup.py; "+
		"pass --analyze-setup-py-insecurely to allow this", e.Name, e.Version)
}

// Fetcher retrieves the raw bytes of a candidate's distribution file.
type Fetcher interface {
	FetchFile(ctx context.Context, link simpleindex.Link) ([]byte, error)
}

// SetupEvaluator runs the insecure setup.py evaluation contract.
type SetupEvaluator interface {
	Evaluate(ctx context.Context, path string, extras []string, level setuppy.Level, env marker.Context) ([]string, error)
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithAnalyzeSetupPyInsecurely enables step (i) of the ladder.
func WithAnalyzeSetupPyInsecurely(enabled bool) Option {
	return func(e *Extractor) { e.analyzeInsecurely = enabled }
}

// WithPyPIClient sets the JSON API fallback used when no repositories were
// configured for a candidate at all.
func WithPyPIClient(c pypi.Client) Option {
	return func(e *Extractor) { e.pypi = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// Extractor walks the extraction ladder for resolved candidates.
type Extractor struct {
	cache             *cache.Manager
	fetcher           Fetcher
	setup             SetupEvaluator
	pypi              pypi.Client
	analyzeInsecurely bool
	logger            *slog.Logger

	mu   sync.Mutex
	memo map[string][]requirement.DependentPackage
}

// New builds an Extractor. fetcher downloads distribution files (an
// internal/simpleindex.Client in production); c caches them and hosts
// extracted sdist trees; setup runs insecure live evaluation.
func New(c *cache.Manager, fetcher Fetcher, setup SetupEvaluator, opts ...Option) *Extractor {
	e := &Extractor{
		cache:   c,
		fetcher: fetcher,
		setup:   setup,
		logger:  slog.Default(),
		memo:    map[string][]requirement.DependentPackage{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Extract returns the nested requirement list for cand, memoized by purl.
// env is the target runtime's marker context, used only if the ladder
// reaches live setup.py evaluation.
func (e *Extractor) Extract(ctx context.Context, cand catalog.Candidate, purl string, env marker.Context) ([]requirement.DependentPackage, error) {
	e.mu.Lock()
	if cached, ok := e.memo[purl]; ok {
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	deps, err := e.extract(ctx, cand, env)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.memo[purl] = deps
	e.mu.Unlock()

	return deps, nil
}

func (e *Extractor) extract(ctx context.Context, cand catalog.Candidate, env marker.Context) ([]requirement.DependentPackage, error) {
	if cand.IsWheel() {
		return e.extractWheel(ctx, cand)
	}

	return e.extractSdist(ctx, cand, env)
}

func (e *Extractor) extractWheel(ctx context.Context, cand catalog.Candidate) ([]requirement.DependentPackage, error) {
	content, err := e.fetcher.FetchFile(ctx, cand.Link)
	if err != nil {
		return nil, fmt.Errorf("depextract: fetching wheel %s: %w", cand.Wheel.Filename, err)
	}

	md, err := dist.WheelMetadata(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("depextract: reading wheel metadata for %s: %w", cand.Wheel.Filename, err)
	}

	return requiresDistToDependents(md.RequiresDist), nil
}

func (e *Extractor) extractSdist(ctx context.Context, cand catalog.Candidate, env marker.Context) ([]requirement.DependentPackage, error) {
	content, err := e.fetcher.FetchFile(ctx, cand.Link)
	if err != nil {
		return nil, fmt.Errorf("depextract: fetching sdist %s: %w", cand.Sdist.Filename, err)
	}

	md, err := dist.SdistMetadata(cand.Sdist.Filename, bytes.NewReader(content))

	var outside dist.ErrDependenciesOutsidePkgInfo
	if err == nil {
		return requiresDistToDependents(md.RequiresDist), nil
	}

	if !errors.As(err, &outside) {
		return nil, fmt.Errorf("depextract: reading PKG-INFO for %s: %w", cand.Sdist.Filename, err)
	}

	return e.extractFromManifest(ctx, cand, content, env)
}

// extractFromManifest runs steps (i)-(iv) of the ladder against an sdist
// that declares its dependencies outside PKG-INFO.
func (e *Extractor) extractFromManifest(ctx context.Context, cand catalog.Candidate, archive []byte, env marker.Context) ([]requirement.DependentPackage, error) {
	destDir := filepath.Dir(dist.ExtractedSdistPath(e.cache.Root(), cand.Sdist.Filename))

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("depextract: preparing extraction directory: %w", err)
	}

	if err := dist.Extract(cand.Sdist.Filename, bytes.NewReader(archive), destDir); err != nil {
		return nil, fmt.Errorf("depextract: extracting %s: %w", cand.Sdist.Filename, err)
	}

	root, err := sdistRoot(destDir)
	if err != nil {
		return nil, err
	}

	setupPyPath := filepath.Join(root, "setup.py")
	setupCfgPath := filepath.Join(root, "setup.cfg")
	reqTxtPath := filepath.Join(root, "requirements.txt")

	setupPy, _ := os.ReadFile(setupPyPath)
	setupCfg, _ := os.ReadFile(setupCfgPath)

	if e.analyzeInsecurely && len(setupPy) > 0 {
		reqs, err := e.setup.Evaluate(ctx, setupPyPath, nil, setuppy.LevelExact, env)
		if err != nil {
			return nil, fmt.Errorf("depextract: evaluating %s: %w", setupPyPath, err)
		}

		return stringsToDependents(reqs), nil
	}

	var deps []requirement.DependentPackage

	if len(setupCfg) > 0 {
		cfgDeps, err := reqfile.ParseSetupCfg(bytes.NewReader(setupCfg))
		if err == nil {
			deps = append(deps, cfgDeps...)
		}
	}

	if len(setupPy) > 0 {
		if reqs, literal, ok := reqfile.ParseSetupPyInstallRequires(string(setupPy)); ok && literal {
			deps = append(deps, stringsToDependents(reqs)...)
		}
	}

	if len(deps) > 0 {
		return deps, nil
	}

	if referencesRequirementsTxt(setupPy, setupCfg) {
		if reqTxt, err := os.ReadFile(reqTxtPath); err == nil {
			return reqfile.ParseRequirementsTxt(bytes.NewReader(reqTxt))
		}
	}

	if len(setupPy) > 0 && reqfile.HasUnresolvedInstallRequires(string(setupPy)) {
		return nil, &InsecureSetupRefusedError{Name: cand.Sdist.Name, Version: cand.Sdist.Version.String()}
	}

	return nil, nil
}

// FromPyPIJSON queries the PyPI JSON API fallback (used when the
// orchestrator has no configured index repositories for a package at
// all).
func (e *Extractor) FromPyPIJSON(ctx context.Context, name, version string) ([]requirement.DependentPackage, error) {
	if e.pypi == nil {
		return nil, fmt.Errorf("depextract: no PyPI JSON API client configured")
	}

	info, err := e.pypi.GetPackageVersion(ctx, name, version)
	if err != nil {
		return nil, fmt.Errorf("depextract: querying PyPI JSON API for %s==%s: %w", name, version, err)
	}

	return requiresDistToDependents(info.Info.RequiresDist), nil
}

func requiresDistToDependents(raw []string) []requirement.DependentPackage {
	sort.Strings(raw)

	out := make([]requirement.DependentPackage, 0, len(raw))

	for _, r := range raw {
		out = append(out, requirement.DependentPackage{
			ExtractedRequirement: r,
			Scope:                requirement.ScopeInstall,
			IsRuntime:            true,
			IsResolved:           true,
		})
	}

	return out
}

func stringsToDependents(raw []string) []requirement.DependentPackage {
	out := make([]requirement.DependentPackage, 0, len(raw))

	for _, r := range raw {
		out = append(out, requirement.DependentPackage{
			ExtractedRequirement: r,
			Scope:                requirement.ScopeInstall,
			IsRuntime:            true,
		})
	}

	return out
}

func referencesRequirementsTxt(setupPy, setupCfg []byte) bool {
	return bytes.Contains(setupPy, []byte("requirements.txt")) || bytes.Contains(setupCfg, []byte("requirements.txt"))
}

// sdistRoot returns the single top-level directory an sdist archive
// extracted into beneath destDir (sdists are conventionally a single
// {name}-{version}/ directory).
func sdistRoot(destDir string) (string, error) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", fmt.Errorf("depextract: reading extracted sdist directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			return filepath.Join(destDir, entry.Name()), nil
		}
	}

	return destDir, nil
}
