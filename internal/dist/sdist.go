package dist

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aboutcode-org/pyresolve/internal/pepversion"
	"github.com/aboutcode-org/pyresolve/internal/requirement"
)

// Sdist models a single source distribution.
type Sdist struct {
	Name           string
	Version        pepversion.Version
	Extension      string // ".tar.gz", ".tgz" or ".zip"
	RequiresPython pepversion.SpecifierSet
	Filename       string
	DownloadURL    string
}

// ParseSdistFilename splits an sdist filename into name and version. Sdist
// naming is not standardized the way wheel naming is (PEP 427); pip itself
// relies on the convention `{name}-{version}`. This implementation tries
// every substring ending in "-" and checks whether it canonicalizes to
// canonName; among those, it keeps the first whose remainder contains no
// "-" and parses as a strict PEP 440 version. Those two checks are what
// reject filenames that embed a platform/arch suffix, a rebuild counter or
// other non-version tokens (see the parsing boundary table), even though
// the name prefix matched.
func ParseSdistFilename(canonName, filename string) (Sdist, error) {
	ext := sdistExtension(filename)
	if ext == "" {
		return Sdist{}, fmt.Errorf("dist: unsupported sdist extension: %q", filename)
	}

	nameVersion := strings.TrimSuffix(filename, ext)

	for i, r := range nameVersion {
		if r != '-' {
			continue
		}

		candidate := requirement.NormalizeName(nameVersion[:i])
		if candidate != canonName {
			continue
		}

		versionRaw := nameVersion[i+1:]

		// A canonical PEP 440 public version never contains a raw hyphen
		// (local-version segments use "+"); sdist uploads that embed a
		// platform suffix, a rebuild counter, or a VCS revision after a
		// bare "-" are exactly what this guards against.
		if strings.Contains(versionRaw, "-") {
			continue
		}

		version, err := pepversion.MustParsePEP440(versionRaw)
		if err != nil {
			continue
		}

		return Sdist{
			Name:      canonName,
			Version:   version,
			Extension: ext,
			Filename:  filename,
		}, nil
	}

	return Sdist{}, fmt.Errorf("dist: filename %q does not match package %q", filename, canonName)
}

func sdistExtension(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".tar.gz"):
		return ".tar.gz"
	case strings.HasSuffix(filename, ".tgz"):
		return ".tgz"
	case strings.HasSuffix(filename, ".zip"):
		return ".zip"
	default:
		return ""
	}
}

// installRequiresPattern flags a setup.py/setup.cfg that declares
// dependencies outside of PKG-INFO; there may be false positives (a
// commented-out line) but no false negatives.
var installRequiresPattern = regexp.MustCompile(`install_requires[ \t]*=`)

// ErrDependenciesOutsidePkgInfo is returned by SdistMetadata when a
// setup.py/setup.cfg inside the sdist declares install_requires but
// PKG-INFO itself carries no Requires-Dist entries: the caller must fall
// back to the setup.py/setup.cfg/requirements.txt extraction ladder (§4.6).
type ErrDependenciesOutsidePkgInfo struct {
	Source string // "setup.py" or "setup.cfg"
}

func (e ErrDependenciesOutsidePkgInfo) Error() string {
	return fmt.Sprintf("dist: dependencies declared in %s, not in PKG-INFO", e.Source)
}

// SdistMetadata extracts the first top-level PKG-INFO found in an sdist
// archive (tar.gz, tgz, or zip, selected by filename extension). When PKG-INFO carries no
// Requires-Dist but a setup.py/setup.cfg entry contains an install_requires
// assignment, it returns the partial metadata alongside
// ErrDependenciesOutsidePkgInfo so the caller can continue the extraction
// ladder.
func SdistMetadata(filename string, r io.Reader) (Metadata, error) {
	var (
		meta     Metadata
		found    bool
		setupPy  bool
		setupCfg bool
	)

	walk := func(name string, r io.Reader) error {
		_, name, ok := strings.Cut(name, "/")
		if !ok {
			return nil
		}

		switch {
		case name == "setup.py" && !setupPy:
			setupPy = installRequiresPattern.MatchReader(bufio.NewReader(r))
		case name == "setup.cfg" && !setupCfg:
			setupCfg = installRequiresPattern.MatchReader(bufio.NewReader(r))
		case name == "PKG-INFO":
			if found {
				return nil
			}

			content, err := io.ReadAll(r)
			if err != nil {
				return err
			}

			meta = ParseMetadata(string(content))
			found = true
		}

		return nil
	}

	var err error

	switch {
	case strings.HasSuffix(filename, ".tar.gz"), strings.HasSuffix(filename, ".tgz"):
		err = walkTarGz(r, walk)
	case strings.HasSuffix(filename, ".zip"):
		content, rerr := io.ReadAll(r)
		if rerr != nil {
			return Metadata{}, rerr
		}

		err = walkZip(bytes.NewReader(content), int64(len(content)), walk)
	default:
		return Metadata{}, fmt.Errorf("dist: unsupported sdist format: %s", filename)
	}

	if err != nil {
		return meta, err
	}

	if !found {
		return Metadata{}, fmt.Errorf("dist: no PKG-INFO in sdist %s", filename)
	}

	if len(meta.RequiresDist) == 0 {
		switch {
		case setupCfg:
			return meta, ErrDependenciesOutsidePkgInfo{Source: "setup.cfg"}
		case setupPy:
			return meta, ErrDependenciesOutsidePkgInfo{Source: "setup.py"}
		}
	}

	return meta, nil
}

func walkTarGz(r io.Reader, f func(string, io.Reader) error) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	for {
		h, err := tr.Next()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return err
		}

		if h.Typeflag != tar.TypeReg {
			continue
		}

		if err := f(h.Name, tr); err != nil {
			return err
		}
	}
}

// ExtractedSdistPath returns the directory an sdist is extracted into,
// following the persisted-layout convention {cache}/extracted_sdists/{stem}/{stem}.
func ExtractedSdistPath(cacheRoot, filename string) string {
	stem := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(filename, ".gz"), ".tar"), ".zip")

	return filepath.Join(cacheRoot, "extracted_sdists", stem, stem)
}
