// Package pepversion wraps PEP 440 version parsing and comparison, adding a
// Legacy fallback for the non-conforming version strings that still show up
// in sdist filenames found in the wild.
package pepversion

import (
	"fmt"
	"sort"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// Version is either a parsed PEP 440 version or a Legacy string that sorts
// below every PEP 440 version.
type Version struct {
	Legacy bool
	raw    string
	parsed pep440.Version
}

// Parse parses s as PEP 440; on failure it falls back to a Legacy version.
func Parse(s string) Version {
	v, err := pep440.Parse(s)
	if err != nil {
		return Version{Legacy: true, raw: s}
	}

	return Version{parsed: v, raw: s}
}

// MustParsePEP440 parses s strictly as PEP 440, returning an error instead of
// falling back to Legacy. Used where a Legacy version would be a bug (e.g.
// the target interpreter version and the version part of an sdist filename).
func MustParsePEP440(s string) (Version, error) {
	v, err := pep440.Parse(s)
	if err != nil {
		return Version{}, fmt.Errorf("parsing version %q: %w", s, err)
	}

	return Version{parsed: v, raw: s}, nil
}

func (v Version) String() string {
	return v.raw
}

// IsPreRelease reports whether v is a pre-release (alpha/beta/rc). Legacy
// versions are never considered pre-releases.
func (v Version) IsPreRelease() bool {
	if v.Legacy {
		return false
	}

	return v.parsed.IsPreRelease()
}

// Compare returns -1, 0, or 1 comparing v to other under PEP 440 ordering.
// A Legacy version always sorts below a PEP 440 version; two Legacy versions
// compare lexicographically.
func (v Version) Compare(other Version) int {
	switch {
	case v.Legacy && other.Legacy:
		return strings.Compare(v.raw, other.raw)
	case v.Legacy:
		return -1
	case other.Legacy:
		return 1
	default:
		return v.parsed.Compare(other.parsed)
	}
}

func (v Version) GreaterThan(other Version) bool { return v.Compare(other) > 0 }
func (v Version) LessThan(other Version) bool     { return v.Compare(other) < 0 }
func (v Version) Equal(other Version) bool        { return v.Compare(other) == 0 }

// SpecifierSet is an ordered set of PEP 440 specifiers, e.g. ">=1.0,<2.0".
// An empty SpecifierSet matches every version.
type SpecifierSet struct {
	raw   string
	specs pep440.Specifiers
}

// ParseSpecifierSet parses a comma-separated PEP 440 specifier string.
// An empty string yields a SpecifierSet that matches everything.
func ParseSpecifierSet(s string) (SpecifierSet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SpecifierSet{raw: s}, nil
	}

	specs, err := pep440.NewSpecifiers(s)
	if err != nil {
		return SpecifierSet{}, fmt.Errorf("parsing specifier %q: %w", s, err)
	}

	return SpecifierSet{raw: s, specs: specs}, nil
}

// Contains reports whether v satisfies every specifier in the set. An empty
// set matches every version; a Legacy version never satisfies a non-empty
// specifier set.
func (s SpecifierSet) Contains(v Version) bool {
	if s.raw == "" {
		return true
	}

	if v.Legacy {
		return false
	}

	return s.specs.Check(v.parsed)
}

func (s SpecifierSet) String() string { return s.raw }

// IsEmpty reports whether the specifier set has no constraints.
func (s SpecifierSet) IsEmpty() bool { return s.raw == "" }

// SortDesc sorts versions from highest to lowest (PEP 440 order, Legacy last).
func SortDesc(versions []Version) []Version {
	out := make([]Version, len(versions))
	copy(out, versions)

	sort.Slice(out, func(i, j int) bool {
		return out[i].GreaterThan(out[j])
	})

	return out
}
