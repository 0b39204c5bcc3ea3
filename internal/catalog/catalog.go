// Package catalog assembles the set of candidate distributions (wheels and
// sdists) a package advertises on an index, and filters them down to what
// is usable under a target runtime environment (C5).
package catalog

import (
	"sort"
	"strings"

	"github.com/aboutcode-org/pyresolve/internal/dist"
	"github.com/aboutcode-org/pyresolve/internal/pepversion"
	"github.com/aboutcode-org/pyresolve/internal/requirement"
	"github.com/aboutcode-org/pyresolve/internal/simpleindex"
	"github.com/aboutcode-org/pyresolve/internal/tags"
)

// Candidate is a single installable distribution of one version of a
// package, with the link it was discovered from.
type Candidate struct {
	Wheel  *dist.Wheel
	Sdist  *dist.Sdist
	Link   simpleindex.Link
	Source string // index base URL this candidate was found on
}

// Version returns the candidate's parsed version, regardless of whether it
// is a wheel or sdist.
func (c Candidate) Version() pepversion.Version {
	if c.Wheel != nil {
		return c.Wheel.Version
	}

	return c.Sdist.Version
}

// IsWheel reports whether this candidate is a prebuilt wheel.
func (c Candidate) IsWheel() bool { return c.Wheel != nil }

// Package is the catalog of all candidates discovered for one normalized
// package name, across every configured index.
type Package struct {
	Name       string
	Candidates []Candidate
}

// Build parses every link returned for a package name into wheel/sdist
// candidates, skipping files whose filename does not parse against
// canonName or whose extension is neither .whl nor a supported sdist
// extension.
func Build(canonName string, bySource map[string][]simpleindex.Link) Package {
	pkg := Package{Name: canonName}

	for source, links := range bySource {
		for _, link := range links {
			filename := filenameFromHRef(link.HRef)

			if strings.HasSuffix(filename, ".whl") {
				w, err := dist.ParseWheelFilename(filename)
				if err != nil || requirement.NormalizeName(w.Name) != canonName {
					continue
				}

				w.DownloadURL = link.HRef
				w.RequiresPython = mustSpecifier(link.RequiresPython())

				pkg.Candidates = append(pkg.Candidates, Candidate{Wheel: &w, Link: link, Source: source})

				continue
			}

			sd, err := dist.ParseSdistFilename(canonName, filename)
			if err != nil {
				continue
			}

			sd.DownloadURL = link.HRef
			sd.RequiresPython = mustSpecifier(link.RequiresPython())

			pkg.Candidates = append(pkg.Candidates, Candidate{Sdist: &sd, Link: link, Source: source})
		}
	}

	return pkg
}

func filenameFromHRef(href string) string {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}

	if i := strings.LastIndexByte(href, '/'); i >= 0 {
		href = href[i+1:]
	}

	return href
}

func mustSpecifier(raw string) pepversion.SpecifierSet {
	s, err := pepversion.ParseSpecifierSet(raw)
	if err != nil {
		s, _ = pepversion.ParseSpecifierSet("")
	}

	return s
}

// SupportedCandidates returns every candidate usable under env: wheels
// whose tags the environment supports, and sdists (always buildable in
// principle), both filtered by Requires-Python when the index advertised
// it.
func (p Package) SupportedCandidates(env tags.Environment, pythonVersion pepversion.Version, preferSource bool) []Candidate {
	var out []Candidate

	for _, c := range p.Candidates {
		if !c.RequiresPython().IsEmpty() && !c.RequiresPython().Contains(pythonVersion) {
			continue
		}

		if c.IsWheel() {
			if !env.Supports(c.Wheel.Tags) {
				continue
			}
		}

		out = append(out, c)
	}

	if preferSource {
		sort.SliceStable(out, func(i, j int) bool { return !out[i].IsWheel() && out[j].IsWheel() })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].IsWheel() && !out[j].IsWheel() })
	}

	return out
}

// RequiresPython returns the candidate's Requires-Python specifier.
func (c Candidate) RequiresPython() pepversion.SpecifierSet {
	if c.Wheel != nil {
		return c.Wheel.RequiresPython
	}

	return c.Sdist.RequiresPython
}

// AvailableVersions returns the distinct versions present in the catalog,
// sorted descending per PEP 440 precedence.
func (p Package) AvailableVersions() []pepversion.Version {
	seen := map[string]bool{}

	var versions []pepversion.Version

	for _, c := range p.Candidates {
		v := c.Version()
		if seen[v.String()] {
			continue
		}

		seen[v.String()] = true

		versions = append(versions, v)
	}

	return pepversion.SortDesc(versions)
}

// CandidatesForVersion returns every candidate matching v, wheels first.
func (p Package) CandidatesForVersion(v pepversion.Version) []Candidate {
	var out []Candidate

	for _, c := range p.Candidates {
		if c.Version().String() == v.String() {
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].IsWheel() && !out[j].IsWheel() })

	return out
}
