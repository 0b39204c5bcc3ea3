// Package requirement parses PEP 508 requirement strings into structured
// Requirement values and models the DependentPackage boundary type produced
// by the requirements-file and setup.py/setup.cfg parsers.
package requirement

import (
	"sort"
	"strings"

	"github.com/aboutcode-org/pyresolve/internal/marker"
	"github.com/aboutcode-org/pyresolve/internal/pepversion"
)

// Requirement is a parsed PEP 508 dependency specifier.
type Requirement struct {
	Name      string // PEP 503 canonicalized
	Extras    []string
	Specifier pepversion.SpecifierSet
	Marker    marker.Marker // nil if the requirement carries no marker
	MarkerRaw string
}

// Parse parses a PEP 508 requirement string, e.g.:
//
//	"flask"
//	"flask>=3.0"
//	"requests[socks]>=2.0,<3.0"
//	"importlib-metadata>=3.6.0; python_version < \"3.10\""
func Parse(s string) (Requirement, error) {
	markerRaw := ""

	parts := strings.SplitN(s, ";", 2)
	nameSpec := strings.TrimSpace(parts[0])

	if len(parts) > 1 {
		markerRaw = strings.TrimSpace(parts[1])
	}

	var extras []string

	if idx := strings.Index(nameSpec, "["); idx >= 0 {
		if endIdx := strings.Index(nameSpec, "]"); endIdx > idx {
			extrasStr := nameSpec[idx+1 : endIdx]
			for _, e := range strings.Split(extrasStr, ",") {
				e = strings.TrimSpace(e)
				if e != "" {
					extras = append(extras, NormalizeName(e))
				}
			}

			nameSpec = nameSpec[:idx] + nameSpec[endIdx+1:]
		}
	}

	nameSpec = strings.NewReplacer("(", "", ")", "").Replace(nameSpec)
	nameSpec = strings.TrimSpace(nameSpec)

	specStart := strings.IndexAny(nameSpec, "><=!~")
	name := nameSpec
	specifierStr := ""

	if specStart >= 0 {
		name = strings.TrimSpace(nameSpec[:specStart])
		specifierStr = strings.TrimSpace(nameSpec[specStart:])
	}

	ss, err := pepversion.ParseSpecifierSet(specifierStr)
	if err != nil {
		return Requirement{}, err
	}

	var m marker.Marker
	if markerRaw != "" {
		m, err = marker.Parse(markerRaw)
		if err != nil {
			return Requirement{}, err
		}
	}

	sort.Strings(extras)

	return Requirement{
		Name:      NormalizeName(name),
		Extras:    extras,
		Specifier: ss,
		Marker:    m,
		MarkerRaw: markerRaw,
	}, nil
}

// NormalizeName normalizes a Python package name per PEP 503: lowercase,
// collapsing runs of "-", "_", "." into a single hyphen.
func NormalizeName(name string) string {
	name = strings.ToLower(name)

	var b strings.Builder

	prevHyphen := false

	for i := range len(name) {
		switch name[i] {
		case '-', '_', '.':
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		default:
			b.WriteByte(name[i])
			prevHyphen = false
		}
	}

	return b.String()
}

// Identifier returns the resolver identity for a requirement: the
// canonicalized name, optionally suffixed with "[e1,e2]" (sorted) if extras
// are present.
func (r Requirement) Identifier() string {
	if len(r.Extras) == 0 {
		return r.Name
	}

	extras := make([]string, len(r.Extras))
	copy(extras, r.Extras)
	sort.Strings(extras)

	return r.Name + "[" + strings.Join(extras, ",") + "]"
}

// EvaluateMarker evaluates r's marker (if any) against ctx. A requirement
// without a marker always applies.
func (r Requirement) EvaluateMarker(ctx marker.Context) (bool, error) {
	if r.Marker == nil {
		return true, nil
	}

	return r.Marker.Evaluate(ctx)
}

// Scope enumerates the kind of a DependentPackage relationship.
type Scope string

const (
	ScopeInstall Scope = "install"
	ScopeTest    Scope = "test"
	ScopeSetup   Scope = "setup"
)

// SkipFlags records reasons a DependentPackage is not resolvable by this
// system (editable installs, VCS/URL/local-path requirements, etc).
type SkipFlags struct {
	IsEditable    bool
	IsVCS         bool
	IsURL         bool
	IsLocalPath   bool
	IsWheelDirect bool
	IsConstraint  bool
	HasHashOption bool
}

// Skipped reports whether any skip flag is set.
func (f SkipFlags) Skipped() bool {
	return f.IsEditable || f.IsVCS || f.IsURL || f.IsLocalPath ||
		f.IsWheelDirect || f.IsConstraint || f.HasHashOption
}

// DependentPackage is the boundary type returned by the requirements-file and
// setup.cfg parsers (internal/reqfile) and the dependency extractor
// (internal/depextract). Only
// entries with Scope == ScopeInstall and !Skipped() feed the resolver.
type DependentPackage struct {
	PURL                 string
	ExtractedRequirement string
	Scope                Scope
	IsRuntime            bool
	IsOptional           bool
	IsResolved           bool
	ExtraData            map[string]any
	Skip                 SkipFlags
}
