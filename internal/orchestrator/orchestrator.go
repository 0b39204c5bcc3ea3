// Package orchestrator implements C11: it accepts the three requirement
// surface forms (specifier strings, requirements files, a setup.py),
// validates the target runtime, builds the repository set and the
// resolver-facing Provider, drives the Resolution Engine, and assembles
// per-package metadata for every pinned candidate.
//
// Grounded on original_source's python_inspector/resolve_cli.py and
// api.py (the request/response shape and the seven-step pipeline they
// implement) and python_inspector/dependencies.py (get_dependency, for
// parsing a bare specifier string into a pinned requirement).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aboutcode-org/pyresolve/internal/cache"
	"github.com/aboutcode-org/pyresolve/internal/catalog"
	"github.com/aboutcode-org/pyresolve/internal/depextract"
	"github.com/aboutcode-org/pyresolve/internal/marker"
	"github.com/aboutcode-org/pyresolve/internal/output"
	"github.com/aboutcode-org/pyresolve/internal/pepversion"
	"github.com/aboutcode-org/pyresolve/internal/provider"
	"github.com/aboutcode-org/pyresolve/internal/pypi"
	"github.com/aboutcode-org/pyresolve/internal/reqfile"
	"github.com/aboutcode-org/pyresolve/internal/requirement"
	"github.com/aboutcode-org/pyresolve/internal/resolve"
	"github.com/aboutcode-org/pyresolve/internal/setuppy"
	"github.com/aboutcode-org/pyresolve/internal/simpleindex"
	"github.com/aboutcode-org/pyresolve/internal/tags"
)

// InvalidInputError reports a request that fails validation before any
// network access is attempted: an unknown python_version/operating_system,
// an unreadable input file, or a setup.py whose python_requires rejects the
// target interpreter.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("orchestrator: invalid input: %s", e.Reason)
}

// RemoteNotFetchedError reports that a repository or the PyPI JSON API
// could not be reached for a package the resolution otherwise needs.
type RemoteNotFetchedError struct {
	Name string
	Err  error
}

func (e *RemoteNotFetchedError) Error() string {
	return fmt.Sprintf("orchestrator: could not fetch remote data for %s: %v", e.Name, e.Err)
}

func (e *RemoteNotFetchedError) Unwrap() error { return e.Err }

// ExtractionFailedError reports that C6 could not produce a dependency list
// for a pinned candidate for a reason other than InsecureSetupRefused (that
// has its own typed error, depextract.InsecureSetupRefusedError).
type ExtractionFailedError struct {
	Name    string
	Version string
	Err     error
}

func (e *ExtractionFailedError) Error() string {
	return fmt.Sprintf("orchestrator: extracting dependencies for %s==%s: %v", e.Name, e.Version, e.Err)
}

func (e *ExtractionFailedError) Unwrap() error { return e.Err }

// Request is one resolution request, gathering every input surface form
// and policy knob the CLI exposes (SPEC_FULL.md §6).
type Request struct {
	RequirementsFiles []string // requirements.txt or setup.cfg paths
	SetupPyPath       string
	Specifiers        []string // bare PEP 508 specifier strings

	PythonVersion string
	OperatingSystem string

	IndexURLs []string
	// UseOnlyConfiguredIndexURLs is honored by the caller when building
	// IndexURLs (internal/config.Config.IndexURLs); the orchestrator never
	// discovers additional index URLs of its own, so this field exists only
	// for callers that want to record the policy they applied.
	UseOnlyConfiguredIndexURLs bool
	NetrcFile                  string

	MaxRounds                int
	UsePyPIJSONAPI           bool
	AnalyzeSetupPyInsecurely bool
	PreferSource             bool
	IgnoreErrors             bool
}

// PackageData is the per-package metadata block assembled in step 6 of the
// pipeline, fetched from the PyPI JSON API for every pinned purl.
type PackageData struct {
	PURL            string
	Name            string
	Version         string
	Summary         string
	License         string
	Author          string
	AuthorEmail     string
	Maintainer      string
	MaintainerEmail string
	Keywords        []string
	HomepageURL     string
	ProjectURLs     map[string]string
	DownloadURL     string
	Size            int64
	MD5             string
	SHA256          string
	ReleaseDate     string
}

// Result is the {files, packages, resolution} triple the pipeline emits.
type Result struct {
	Files      []string
	Packages   []PackageData
	Resolution *resolve.Result
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCacheDir overrides the persistent cache directory.
func WithCacheDir(dir string) Option {
	return func(o *Orchestrator) { o.cacheDir = dir }
}

// WithHTTPClient overrides the HTTP client used for every network call.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithNetrcFile sets the default netrc path used when a Request does not
// specify its own.
func WithNetrcFile(path string) Option {
	return func(o *Orchestrator) { o.netrcFile = path }
}

// WithPythonBin sets the interpreter used for insecure setup.py evaluation.
func WithPythonBin(bin string) Option {
	return func(o *Orchestrator) {
		if bin != "" {
			o.pythonBin = bin
		}
	}
}

// prefetchConcurrency bounds Phase A/C bounded-parallel batches, following
// internal/downloader's default worker count convention.
const prefetchConcurrency = 8

// Orchestrator builds and drives one resolution pipeline per Request. A
// single instance may run many Requests; the pieces that depend on a
// Request's own flags (preferred source, insecure setup.py evaluation, the
// index URL set) are built fresh inside Run.
type Orchestrator struct {
	logger     *slog.Logger
	cacheDir   string
	netrcFile  string
	httpClient *http.Client
	pythonBin  string

	cache      *cache.Manager
	pypiClient pypi.Client
	evaluator  *setuppy.Evaluator
}

// New builds an Orchestrator, constructing the shared cache, PyPI client,
// and setup.py evaluator once; the simple-index client is built per Run.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		logger:     slog.Default(),
		httpClient: &http.Client{},
		pythonBin:  "python3",
	}

	for _, opt := range opts {
		opt(o)
	}

	c, err := cache.New(cache.WithDir(o.cacheDir), cache.WithLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: building cache: %w", err)
	}

	o.cache = c
	o.pypiClient = pypi.New(pypi.WithHTTPClient(o.httpClient), pypi.WithLogger(o.logger))
	o.evaluator = setuppy.New(setuppy.WithPythonBin(o.pythonBin))

	return o, nil
}

// Run executes the seven-step pipeline against req.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	env, err := tags.NewEnvironment(req.PythonVersion, req.OperatingSystem)
	if err != nil {
		return nil, &InvalidInputError{Reason: err.Error()}
	}

	pyVersion, err := pepversion.MustParsePEP440(env.DottedPythonVersion())
	if err != nil {
		return nil, &InvalidInputError{Reason: err.Error()}
	}

	markerCtx := marker.NewContext(env.PythonVersion, req.OperatingSystem, "")

	var roots []requirement.Requirement

	fileRoots, err := o.collectFileRequirements(req.RequirementsFiles)
	if err != nil {
		return nil, err
	}

	roots = append(roots, fileRoots...)

	specRoots, err := collectSpecifiers(req.Specifiers)
	if err != nil {
		return nil, err
	}

	roots = append(roots, specRoots...)

	if req.SetupPyPath != "" {
		setupRoots, err := o.collectSetupPy(ctx, req.SetupPyPath, req.AnalyzeSetupPyInsecurely, pyVersion, markerCtx)
		if err != nil {
			return nil, err
		}

		roots = append(roots, setupRoots...)
	}

	if len(roots) == 0 {
		return nil, &InvalidInputError{Reason: "no requirements given: pass specifiers, -r, or --setup-py"}
	}

	netrcFile := req.NetrcFile
	if netrcFile == "" {
		netrcFile = o.netrcFile
	}

	simpleClient := simpleindex.New(
		simpleindex.WithHTTPClient(o.httpClient),
		simpleindex.WithCache(o.cache),
		simpleindex.WithNetrc(netrcFile),
		simpleindex.WithLogger(o.logger),
	)

	extractor := depextract.New(o.cache, simpleClient, o.evaluator,
		depextract.WithAnalyzeSetupPyInsecurely(req.AnalyzeSetupPyInsecurely),
		depextract.WithPyPIClient(o.pypiClient),
		depextract.WithLogger(o.logger),
	)

	var src catalogSource

	if req.UsePyPIJSONAPI {
		src = &pypiCatalog{
			client:       o.pypiClient,
			extractor:    extractor,
			env:          env,
			pyVersion:    pyVersion,
			preferSource: req.PreferSource,
		}
	} else {
		src = &indexCatalog{
			client:       simpleClient,
			extractor:    extractor,
			indexURLs:    req.IndexURLs,
			env:          env,
			pyVersion:    pyVersion,
			preferSource: req.PreferSource,
			packages:     map[string]catalog.Package{},
			logger:       o.logger,
		}
	}

	o.prefetchVersions(ctx, src, roots)

	p := provider.New(src, src, markerCtx, req.IgnoreErrors)
	engine := resolve.New(p, req.MaxRounds)

	resolution, err := engine.Resolve(ctx, roots)
	if err != nil {
		return nil, err
	}

	packages, err := o.fetchPackageData(ctx, resolution, req)
	if err != nil {
		return nil, err
	}

	return &Result{
		Files:      req.RequirementsFiles,
		Packages:   packages,
		Resolution: resolution,
	}, nil
}

// catalogSource is the pair of interfaces internal/provider needs, backed
// either by simple-index repositories or the PyPI JSON API.
type catalogSource interface {
	provider.VersionSource
	provider.DependencySource
}

func (o *Orchestrator) collectFileRequirements(paths []string) ([]requirement.Requirement, error) {
	var out []requirement.Requirement

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, &InvalidInputError{Reason: fmt.Sprintf("opening %s: %v", path, err)}
		}

		var deps []requirement.DependentPackage

		if strings.HasSuffix(path, ".cfg") {
			deps, err = reqfile.ParseSetupCfg(f)
		} else {
			deps, err = reqfile.ParseRequirementsTxt(f)
		}

		_ = f.Close()

		if err != nil {
			return nil, &InvalidInputError{Reason: fmt.Sprintf("parsing %s: %v", path, err)}
		}

		for _, dep := range deps {
			if dep.Scope != requirement.ScopeInstall || dep.Skip.Skipped() {
				continue
			}

			r, err := requirement.Parse(dep.ExtractedRequirement)
			if err != nil {
				o.logger.Warn("skipping unparseable requirement",
					slog.String("file", path), slog.String("entry", dep.ExtractedRequirement))

				continue
			}

			out = append(out, r)
		}
	}

	return out, nil
}

// normalizeSpecifier mirrors get_dependency's specifier normalization:
// lowercase the whole string, then drop every whitespace run, so
// "Flask >= 2.0" and "flask>=2.0" parse identically.
func normalizeSpecifier(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}

func collectSpecifiers(specifiers []string) ([]requirement.Requirement, error) {
	out := make([]requirement.Requirement, 0, len(specifiers))

	for _, s := range specifiers {
		r, err := requirement.Parse(normalizeSpecifier(s))
		if err != nil {
			return nil, &InvalidInputError{Reason: fmt.Sprintf("parsing specifier %q: %v", s, err)}
		}

		out = append(out, r)
	}

	return out, nil
}

var pythonRequiresPattern = regexp.MustCompile(`python_requires\s*=\s*['"]([^'"]+)['"]`)

// extractPythonRequires best-effort reads a setup.py's python_requires
// kwarg via regex, the same static-scan approach internal/reqfile uses for
// install_requires.
func extractPythonRequires(content string) string {
	m := pythonRequiresPattern.FindStringSubmatch(content)
	if m == nil {
		return ""
	}

	return m[1]
}

func (o *Orchestrator) collectSetupPy(ctx context.Context, path string, insecure bool, pyVersion pepversion.Version, env marker.Context) ([]requirement.Requirement, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &InvalidInputError{Reason: fmt.Sprintf("reading %s: %v", path, err)}
	}

	if raw := extractPythonRequires(string(content)); raw != "" {
		ss, err := pepversion.ParseSpecifierSet(raw)
		if err == nil && !ss.Contains(pyVersion) {
			return nil, &InvalidInputError{
				Reason: fmt.Sprintf("%s requires python %s, target is %s", path, raw, pyVersion.String()),
			}
		}
	}

	var raw []string

	if insecure {
		raw, err = o.evaluator.Evaluate(ctx, path, nil, setuppy.LevelExact, env)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: evaluating %s: %w", path, err)
		}
	} else {
		reqs, literal, ok := reqfile.ParseSetupPyInstallRequires(string(content))
		if ok && literal {
			raw = reqs
		} else if reqfile.HasUnresolvedInstallRequires(string(content)) {
			return nil, &depextract.InsecureSetupRefusedError{Name: path, Version: ""}
		}
	}

	out := make([]requirement.Requirement, 0, len(raw))

	for _, r := range raw {
		req, err := requirement.Parse(r)
		if err != nil {
			continue
		}

		out = append(out, req)
	}

	return out, nil
}

// prefetchVersions implements Phase A (§5): warm the version cache for
// every direct requirement concurrently, bounded to prefetchConcurrency.
// Failures are logged and otherwise ignored here; a real failure surfaces
// again, synchronously, the first time the resolver actually needs that
// identifier.
func (o *Orchestrator) prefetchVersions(ctx context.Context, src catalogSource, roots []requirement.Requirement) {
	seen := map[string]bool{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)

	for _, r := range roots {
		if seen[r.Name] {
			continue
		}

		seen[r.Name] = true
		name := r.Name

		g.Go(func() error {
			if _, err := src.VersionsFor(ctx, name); err != nil {
				o.logger.Debug("prefetch failed", slog.String("package", name), slog.String("error", err.Error()))
			}

			return nil
		})
	}

	_ = g.Wait()
}

// fetchPackageData implements Phase C (§5): fetch PyPI JSON metadata for
// every pinned purl concurrently, bounded to prefetchConcurrency.
func (o *Orchestrator) fetchPackageData(ctx context.Context, resolution *resolve.Result, req Request) ([]PackageData, error) {
	names := make([]string, 0, len(resolution.Mapping))
	for id := range resolution.Mapping {
		names = append(names, id)
	}

	sort.Strings(names)

	results := make([]PackageData, len(names))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)

	var mu sync.Mutex

	for i, id := range names {
		i, cand := i, resolution.Mapping[id]

		g.Go(func() error {
			info, err := o.pypiClient.GetPackageVersion(ctx, cand.Name, cand.Version.String())
			if err != nil {
				if req.IgnoreErrors {
					o.logger.Warn("could not fetch package metadata",
						slog.String("package", cand.Name), slog.String("error", err.Error()))

					mu.Lock()
					results[i] = PackageData{PURL: cand.PURL(), Name: cand.Name, Version: cand.Version.String()}
					mu.Unlock()

					return nil
				}

				return &RemoteNotFetchedError{Name: cand.Name, Err: err}
			}

			data := buildPackageData(info, cand.PURL(), req.PreferSource)

			mu.Lock()
			results[i] = data
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func buildPackageData(info *pypi.PackageInfo, purl string, preferSource bool) PackageData {
	data := PackageData{
		PURL:            purl,
		Name:            info.Info.Name,
		Version:         info.Info.Version,
		Summary:         info.Info.Summary,
		License:         info.Info.License,
		Author:          info.Info.Author,
		AuthorEmail:     info.Info.AuthorEmail,
		Maintainer:      info.Info.Maintainer,
		MaintainerEmail: info.Info.MaintainerEmail,
		Keywords:        splitKeywords(info.Info.Keywords),
		HomepageURL:     info.Info.ProjectURL,
		ProjectURLs:     info.Info.ProjectURLs,
	}

	if u, ok := bestURL(info.URLs, preferSource); ok {
		data.DownloadURL = u.URL
		data.Size = u.Size
		data.MD5 = u.Digests.MD5
		data.SHA256 = u.Digests.SHA256
		data.ReleaseDate = u.UploadTimeISO8601
	}

	return data
}

// bestURL picks the archive record matching the caller's source
// preference, falling back to whatever is first when no candidate matches
// (e.g. an sdist-only package when preferSource is false).
func bestURL(urls []pypi.URL, preferSource bool) (pypi.URL, bool) {
	want := "bdist_wheel"
	if preferSource {
		want = "sdist"
	}

	for _, u := range urls {
		if u.PackageType == want {
			return u, true
		}
	}

	if len(urls) > 0 {
		return urls[0], true
	}

	return pypi.URL{}, false
}

func splitKeywords(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	sep := ","
	if !strings.Contains(raw, ",") {
		sep = " "
	}

	var out []string

	for _, k := range strings.Split(raw, sep) {
		k = strings.TrimSpace(k)
		if k != "" {
			out = append(out, k)
		}
	}

	return out
}

// indexCatalog implements catalogSource over one or more PEP 503 simple
// indexes, memoizing each package's catalog.Package by canonical name.
type indexCatalog struct {
	client       *simpleindex.Client
	extractor    *depextract.Extractor
	indexURLs    []string
	env          tags.Environment
	pyVersion    pepversion.Version
	preferSource bool
	logger       *slog.Logger

	mu       sync.Mutex
	packages map[string]catalog.Package
}

func (c *indexCatalog) packageFor(ctx context.Context, name string) (catalog.Package, error) {
	canon := requirement.NormalizeName(name)

	c.mu.Lock()
	if pkg, ok := c.packages[canon]; ok {
		c.mu.Unlock()
		return pkg, nil
	}
	c.mu.Unlock()

	bySource := map[string][]simpleindex.Link{}

	var lastErr error

	for _, base := range c.indexURLs {
		links, err := c.client.ListPackageFiles(ctx, base, name)
		if err != nil {
			lastErr = err
			c.logger.Debug("index lookup failed", slog.String("package", name), slog.String("index", base), slog.String("error", err.Error()))

			continue
		}

		bySource[base] = links
	}

	if len(bySource) == 0 {
		return catalog.Package{}, &RemoteNotFetchedError{Name: name, Err: lastErr}
	}

	pkg := catalog.Build(canon, bySource)

	c.mu.Lock()
	c.packages[canon] = pkg
	c.mu.Unlock()

	return pkg, nil
}

func (c *indexCatalog) VersionsFor(ctx context.Context, name string) ([]pepversion.Version, error) {
	pkg, err := c.packageFor(ctx, name)
	if err != nil {
		return nil, err
	}

	supported := pkg.SupportedCandidates(c.env, c.pyVersion, c.preferSource)

	seen := map[string]bool{}

	var out []pepversion.Version

	for _, cand := range supported {
		v := cand.Version()
		if seen[v.String()] {
			continue
		}

		seen[v.String()] = true

		out = append(out, v)
	}

	return pepversion.SortDesc(out), nil
}

func (c *indexCatalog) DependenciesFor(ctx context.Context, name string, version pepversion.Version) ([]requirement.DependentPackage, error) {
	pkg, err := c.packageFor(ctx, name)
	if err != nil {
		return nil, err
	}

	cand, ok := c.chooseCandidate(pkg, version)
	if !ok {
		return nil, &RemoteNotFetchedError{Name: name, Err: fmt.Errorf("no usable distribution for %s==%s", name, version.String())}
	}

	purl := output.PackagePURL(name, version.String())

	deps, err := c.extractor.Extract(ctx, cand, purl, marker.NewContext(c.env.PythonVersion, c.env.OperatingSystem, ""))
	if err != nil {
		return nil, &ExtractionFailedError{Name: name, Version: version.String(), Err: err}
	}

	return deps, nil
}

// chooseCandidate picks the candidate matching the source preference among
// those actually usable under the environment, falling back to any usable
// candidate when none matches the preference (e.g. a wheel-only package
// when preferSource is set).
func (c *indexCatalog) chooseCandidate(pkg catalog.Package, version pepversion.Version) (catalog.Candidate, bool) {
	var fallback *catalog.Candidate

	for _, cand := range pkg.CandidatesForVersion(version) {
		if !cand.RequiresPython().IsEmpty() && !cand.RequiresPython().Contains(c.pyVersion) {
			continue
		}

		if cand.IsWheel() && !c.env.Supports(cand.Wheel.Tags) {
			continue
		}

		if fallback == nil {
			cc := cand
			fallback = &cc
		}

		if c.preferSource == !cand.IsWheel() {
			return cand, true
		}
	}

	if fallback != nil {
		return *fallback, true
	}

	return catalog.Candidate{}, false
}

// pypiCatalog implements catalogSource entirely over the PyPI JSON API,
// used when the caller opts into use_pypi_json_api.
type pypiCatalog struct {
	client       pypi.Client
	extractor    *depextract.Extractor
	env          tags.Environment
	pyVersion    pepversion.Version
	preferSource bool
}

func (p *pypiCatalog) VersionsFor(ctx context.Context, name string) ([]pepversion.Version, error) {
	info, err := p.client.GetPackage(ctx, name)
	if err != nil {
		return nil, &RemoteNotFetchedError{Name: name, Err: err}
	}

	bySource := map[string][]simpleindex.Link{}

	for _, urls := range info.Releases {
		for _, u := range urls {
			bySource["pypi-json"] = append(bySource["pypi-json"], simpleindex.Link{
				HRef:      u.URL,
				DataAttrs: map[string]string{"data-requires-python": u.RequiresPython},
			})
		}
	}

	pkg := catalog.Build(requirement.NormalizeName(name), bySource)
	supported := pkg.SupportedCandidates(p.env, p.pyVersion, p.preferSource)

	seen := map[string]bool{}

	var out []pepversion.Version

	for _, cand := range supported {
		v := cand.Version()
		if seen[v.String()] {
			continue
		}

		seen[v.String()] = true

		out = append(out, v)
	}

	return pepversion.SortDesc(out), nil
}

func (p *pypiCatalog) DependenciesFor(ctx context.Context, name string, version pepversion.Version) ([]requirement.DependentPackage, error) {
	deps, err := p.extractor.FromPyPIJSON(ctx, name, version.String())
	if err != nil {
		return nil, &ExtractionFailedError{Name: name, Version: version.String(), Err: err}
	}

	return deps, nil
}
