// Package provider implements the resolver-facing input provider (C7): the
// interface the backtracking engine in internal/resolve consumes to
// identify packages, rank them for search order, list candidate versions,
// check satisfaction, and list a candidate's own dependencies.
//
// This is a close structural port of original_source's
// python_inspector/resolution.py PythonInputProvider, rewritten in Go
// idiom: explicit errors instead of exceptions, context.Context threaded
// through every network-touching call, and no hidden package-level
// caches — callers own the VersionSource/DependencySource they pass in.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/package-url/packageurl-go"

	"github.com/aboutcode-org/pyresolve/internal/marker"
	"github.com/aboutcode-org/pyresolve/internal/pepversion"
	"github.com/aboutcode-org/pyresolve/internal/requirement"
)

// Candidate is one pinnable (name, version, extras) triple.
type Candidate struct {
	Name      string
	Version   pepversion.Version
	Extras    []string
	Synthetic bool // true for the ignore_errors placeholder candidate
}

// Identifier returns the canonical name, suffixed with sorted extras, the
// same key used throughout criteria/mapping/graph.
func (c Candidate) Identifier() string {
	return identifierFor(c.Name, c.Extras)
}

// PURL returns the candidate's pkg:pypi/ purl.
func (c Candidate) PURL() string {
	p := packageurl.NewPackageURL(packageurl.TypePyPi, "", c.Name, c.Version.String(), nil, "")
	return p.String()
}

func identifierFor(name string, extras []string) string {
	name = requirement.NormalizeName(name)

	if len(extras) == 0 {
		return name
	}

	sorted := append([]string(nil), extras...)
	sort.Strings(sorted)

	return fmt.Sprintf("%s[%s]", name, strings.Join(sorted, ","))
}

// splitIdentifier recovers the bare name and extras from an identifier
// produced by Identifier/identifierFor.
func splitIdentifier(identifier string) (name string, extras []string) {
	name, rest, ok := strings.Cut(identifier, "[")
	if !ok {
		return identifier, nil
	}

	rest = strings.TrimSuffix(rest, "]")
	if rest == "" {
		return name, nil
	}

	return name, strings.Split(rest, ",")
}

// VersionSource resolves the set of versions available for a package name,
// across every configured repository (or the PyPI JSON API when there are
// none), already filtered to what the target environment can install.
type VersionSource interface {
	VersionsFor(ctx context.Context, name string) ([]pepversion.Version, error)
}

// DependencySource resolves a candidate's declared dependencies, following
// the C6 extraction ladder.
type DependencySource interface {
	DependenciesFor(ctx context.Context, name string, version pepversion.Version) ([]requirement.DependentPackage, error)
}

// Provider implements the operations internal/resolve's engine drives the
// search with.
type Provider struct {
	Versions     VersionSource
	Dependencies DependencySource
	Env          marker.Context
	IgnoreErrors bool
}

// New builds a Provider.
func New(versions VersionSource, dependencies DependencySource, env marker.Context, ignoreErrors bool) *Provider {
	return &Provider{Versions: versions, Dependencies: dependencies, Env: env, IgnoreErrors: ignoreErrors}
}

// Identify canonicalizes a (name, extras) pair into the engine's
// identifier space.
func (p *Provider) Identify(name string, extras []string) string {
	return identifierFor(name, extras)
}

// GetPreference ranks identifiers for search order, smallest first:
// identifiers with a direct root requirement (transitive=false) are
// searched before purely transitive ones, so direct constraints surface
// (and fail, if they must) earliest. Ties break lexicographically on the
// identifier itself.
func (p *Provider) GetPreference(identifier string, transitive bool) (bool, string) {
	return transitive, identifier
}

// NoVersionsFoundError reports that FindMatches found nothing usable for
// an identifier and ignore_errors is off.
type NoVersionsFoundError struct {
	Identifier string
}

func (e *NoVersionsFoundError) Error() string {
	return fmt.Sprintf("provider: no usable versions found for %s", e.Identifier)
}

// IsValidVersion reports whether v satisfies every requirement in reqs and
// is not in bad.
func IsValidVersion(v pepversion.Version, reqs []requirement.Requirement, bad map[string]bool) bool {
	if bad[v.String()] {
		return false
	}

	for _, r := range reqs {
		if !r.Specifier.Contains(v) {
			return false
		}
	}

	return true
}

// FindMatches returns every candidate for identifier, newest first,
// filtered by the accumulated requirements and incompatibilities.
func (p *Provider) FindMatches(ctx context.Context, identifier string, requirements []requirement.Requirement, incompatibilities []Candidate) ([]Candidate, error) {
	name, _ := splitIdentifier(identifier)

	bad := map[string]bool{}
	for _, c := range incompatibilities {
		bad[c.Version.String()] = true
	}

	extraSet := map[string]bool{}

	for _, r := range requirements {
		for _, e := range r.Extras {
			extraSet[e] = true
		}
	}

	extras := make([]string, 0, len(extraSet))
	for e := range extraSet {
		extras = append(extras, e)
	}

	sort.Strings(extras)

	versions, err := p.Versions.VersionsFor(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("provider: listing versions for %s: %w", name, err)
	}

	var valid []pepversion.Version

	for _, v := range versions {
		if IsValidVersion(v, requirements, bad) {
			valid = append(valid, v)
		}
	}

	valid = dropPreReleasesUnlessAllAre(valid)

	if len(valid) == 0 {
		if p.IgnoreErrors {
			return []Candidate{{Name: "nonexistent", Version: pepversion.Parse("0.0.0"), Synthetic: true}}, nil
		}

		return nil, &NoVersionsFoundError{Identifier: identifier}
	}

	candidates := make([]Candidate, len(valid))
	for i, v := range valid {
		candidates[i] = Candidate{Name: name, Version: v, Extras: extras}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Version.GreaterThan(candidates[j].Version) })

	return candidates, nil
}

// dropPreReleasesUnlessAllAre implements: if every surviving version is a
// pre-release, keep them all (a pre-release-only package is still
// installable); otherwise drop the pre-releases so a final release is
// always preferred when one exists.
func dropPreReleasesUnlessAllAre(versions []pepversion.Version) []pepversion.Version {
	if len(versions) == 0 {
		return versions
	}

	allPre := true

	for _, v := range versions {
		if !v.IsPreRelease() {
			allPre = false
			break
		}
	}

	if allPre {
		return versions
	}

	out := versions[:0:0]

	for _, v := range versions {
		if !v.IsPreRelease() {
			out = append(out, v)
		}
	}

	return out
}

// IsSatisfiedBy reports whether candidate satisfies requirement's
// specifier (an empty specifier is satisfied by anything).
func (p *Provider) IsSatisfiedBy(req requirement.Requirement, candidate Candidate) bool {
	return req.Specifier.IsEmpty() || req.Specifier.Contains(candidate.Version)
}

// GetDependencies returns candidate's dependencies: one synthetic
// name==version self-requirement per requested extra (tying pkg[extra] to
// the same pinned version of pkg), followed by every C6-extracted
// dependency whose marker evaluates true against the environment with
// extra="" — matching python_inspector's own marker-evaluation convention,
// which does not vary `extra` per activated extra. Dependencies gated on an
// `extra == "..."` marker are therefore not returned.
func (p *Provider) GetDependencies(ctx context.Context, candidate Candidate) ([]requirement.Requirement, error) {
	var out []requirement.Requirement

	for range candidate.Extras {
		selfReq, err := requirement.Parse(fmt.Sprintf("%s==%s", candidate.Name, candidate.Version.String()))
		if err != nil {
			return nil, fmt.Errorf("provider: building self-requirement for %s: %w", candidate.Name, err)
		}

		out = append(out, selfReq)
	}

	deps, err := p.Dependencies.DependenciesFor(ctx, candidate.Name, candidate.Version)
	if err != nil {
		return nil, fmt.Errorf("provider: fetching dependencies for %s==%s: %w", candidate.Name, candidate.Version.String(), err)
	}

	ctx2 := cloneContext(p.Env)
	ctx2["extra"] = ""

	for _, dep := range deps {
		if dep.Scope != requirement.ScopeInstall || dep.Skip.Skipped() {
			continue
		}

		r, err := requirement.Parse(dep.ExtractedRequirement)
		if err != nil {
			continue
		}

		ok, err := r.EvaluateMarker(ctx2)
		if err != nil || !ok {
			continue
		}

		out = append(out, r)
	}

	return out, nil
}

func cloneContext(c marker.Context) marker.Context {
	out := make(marker.Context, len(c)+1)
	for k, v := range c {
		out[k] = v
	}

	return out
}
