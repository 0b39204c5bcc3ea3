// Package dist models Python wheel and sdist distributions: filename
// parsing, the Wheel/Sdist data model, and metadata extraction from an
// archive.
package dist

import (
	"archive/zip"
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/aboutcode-org/pyresolve/internal/pepversion"
	"github.com/aboutcode-org/pyresolve/internal/tags"
)

// Wheel models a single wheel distribution.
//
// Invariant: Tags is exactly the cross-product of PythonVersions x ABIs x
// Platforms (see tags.CrossProduct).
type Wheel struct {
	Name           string
	Version        pepversion.Version
	Build          string
	PythonVersions []string
	ABIs           []string
	Platforms      []string
	Tags           []tags.Tag
	RequiresPython pepversion.SpecifierSet
	Filename       string
	DownloadURL    string
}

// ParseWheelFilename parses a PEP 427 wheel filename:
//
//	{name}-{version}[-{build}]-{pytags}-{abitags}-{plattags}.whl
//
// Name underscores map to hyphens; version underscores are preserved and a
// URL-quoted "+" ("%2B") decodes to "+". Build-tag disambiguation requires
// the tag to start with a digit, per PEP 427.
func ParseWheelFilename(filename string) (Wheel, error) {
	if !strings.HasSuffix(filename, ".whl") {
		return Wheel{}, fmt.Errorf("dist: not a wheel filename: %q", filename)
	}

	stem := strings.TrimSuffix(filename, ".whl")
	parts := strings.Split(stem, "-")

	if len(parts) != 5 && len(parts) != 6 {
		return Wheel{}, fmt.Errorf("dist: wheel filename %q has %d dash-separated parts, want 5 or 6", filename, len(parts))
	}

	name := strings.ReplaceAll(parts[0], "_", "-")

	versionRaw := parts[1]
	if decoded, err := url.QueryUnescape(versionRaw); err == nil {
		versionRaw = decoded
	}

	w := Wheel{
		Name:     name,
		Version:  pepversion.Parse(versionRaw),
		Filename: filename,
	}

	idx := 2

	if len(parts) == 6 {
		buildTag := parts[2]

		split := strings.IndexFunc(buildTag, func(r rune) bool { return !unicode.IsDigit(r) })
		if split == 0 {
			return Wheel{}, fmt.Errorf("dist: wheel filename %q: build tag %q must start with a digit", filename, buildTag)
		}

		if split == -1 {
			split = len(buildTag)
		}

		if _, err := strconv.Atoi(buildTag[:split]); err != nil {
			return Wheel{}, fmt.Errorf("dist: wheel filename %q: invalid build tag %q", filename, buildTag)
		}

		w.Build = buildTag
		idx = 3
	}

	w.PythonVersions = tags.ExpandCompoundTag(parts[idx])
	w.ABIs = tags.ExpandCompoundTag(parts[idx+1])
	w.Platforms = tags.ExpandCompoundTag(parts[idx+2])
	w.Tags = tags.CrossProduct(w.PythonVersions, w.ABIs, w.Platforms)

	return w, nil
}

// ToFilename reconstructs a canonical wheel filename from w, used to check
// the idempotent parse/format round-trip invariant.
func (w Wheel) ToFilename() string {
	name := strings.ReplaceAll(w.Name, "-", "_")

	var b strings.Builder

	fmt.Fprintf(&b, "%s-%s", name, w.Version.String())

	if w.Build != "" {
		fmt.Fprintf(&b, "-%s", w.Build)
	}

	fmt.Fprintf(&b, "-%s-%s-%s.whl",
		strings.Join(w.PythonVersions, "."),
		strings.Join(w.ABIs, "."),
		strings.Join(w.Platforms, "."),
	)

	return b.String()
}

// WheelMetadata opens a wheel (a ZIP archive) and extracts the first
// *.dist-info/METADATA entry found.
func WheelMetadata(r *bytes.Reader) (Metadata, error) {
	zr, err := zip.NewReader(r, int64(r.Len()))
	if err != nil {
		return Metadata{}, fmt.Errorf("dist: opening wheel archive: %w", err)
	}

	for _, f := range zr.File {
		dir, name, ok := strings.Cut(f.Name, "/")
		if !ok || !strings.HasSuffix(dir, ".dist-info") || name != "METADATA" {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return Metadata{}, err
		}

		content, err := readAllClose(rc)
		if err != nil {
			return Metadata{}, err
		}

		return ParseMetadata(string(content)), nil
	}

	return Metadata{}, fmt.Errorf("dist: no METADATA file found in wheel")
}
