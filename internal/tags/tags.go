// Package tags implements the PEP 425 compatibility tag engine: enumerating
// the (python, abi, platform) tag set a target Environment supports, and
// testing a wheel's tags against it.
package tags

import (
	"fmt"
	"sort"
	"strings"
)

// Tag is a PEP 425 compatibility tag triple.
type Tag struct {
	Python   string
	ABI      string
	Platform string
}

func (t Tag) String() string {
	return t.Python + "-" + t.ABI + "-" + t.Platform
}

// PythonVersions enumerates every two-digit Python version this engine
// recognizes, transcribed from utils_pypi.PYTHON_VERSIONS.
var PythonVersions = []string{"27", "36", "37", "38", "39", "310", "311", "312", "313"}

// PythonDotVersions maps a two-digit version to its dotted form.
var PythonDotVersions = map[string]string{
	"27": "2.7", "36": "3.6", "37": "3.7", "38": "3.8", "39": "3.9",
	"310": "3.10", "311": "3.11", "312": "3.12", "313": "3.13",
}

// ABIsByPythonVersion transcribes utils_pypi.ABIS_BY_PYTHON_VERSION.
var ABIsByPythonVersion = map[string][]string{
	"27":  {"cp27", "cp27m"},
	"36":  {"cp36", "cp36m", "abi3"},
	"37":  {"cp37", "cp37m", "abi3"},
	"38":  {"cp38", "cp38m", "abi3"},
	"39":  {"cp39", "cp39m", "abi3"},
	"310": {"cp310", "cp310m", "abi3"},
	"311": {"cp311", "cp311m", "abi3"},
	"312": {"cp312", "cp312m", "abi3"},
	"313": {"cp313", "cp313m", "abi3"},
}

func linuxPlatforms(arch string) []string {
	return []string{
		"linux_" + arch,
		"manylinux1_" + arch,
		"manylinux2010_" + arch,
		"manylinux2014_" + arch,
		"manylinux_2_17_" + arch,
		"manylinux_2_28_" + arch,
		"manylinux_2_31_" + arch,
		"manylinux_2_33_" + arch,
		"manylinux_2_34_" + arch,
		"manylinux_2_35_" + arch,
		"musllinux_1_1_" + arch,
		"musllinux_1_2_" + arch,
	}
}

func macosPlatforms(arch string) []string {
	var out []string

	minMajor := 10
	if arch == "arm64" {
		minMajor = 11
	}

	for major := 14; major >= minMajor; major-- {
		minor := "0"
		if major == 10 {
			minor = "9"
		}

		out = append(out, fmt.Sprintf("macosx_%d_%s_%s", major, minor, arch))
		out = append(out, fmt.Sprintf("macosx_%d_%s_universal2", major, minor))
	}

	return out
}

// PlatformsByOS transcribes utils_pypi.PLATFORMS_BY_OS, expanded to cover the
// common architectures for each operating system. Linux entries run from
// the generic linux tag through successively newer manylinux/musllinux
// tags; macOS entries run newest release first.
var PlatformsByOS = map[string][]string{
	"linux":   append(append([]string{}, linuxPlatforms("x86_64")...), linuxPlatforms("aarch64")...),
	"macos":   append(append([]string{}, macosPlatforms("x86_64")...), macosPlatforms("arm64")...),
	"windows": {"win_amd64", "win32"},
}

// KnownOperatingSystems enumerates the operating_system values the
// Orchestrator accepts.
var KnownOperatingSystems = map[string]bool{"linux": true, "macos": true, "windows": true}

// Environment is the target runtime profile tags and markers are evaluated
// against: a Python version, an operating system, and the derived ABI and
// platform lists.
type Environment struct {
	PythonVersion  string // two-digit, e.g. "310"
	OperatingSystem string
	Implementation string // "cp" (CPython) unless overridden
	ABIs           []string
	Platforms      []string
}

// NewEnvironment validates pythonVersion and operatingSystem against the
// known sets and builds an Environment with derived ABI/platform lists.
func NewEnvironment(pythonVersion, operatingSystem string) (Environment, error) {
	pythonVersion = normalizePythonVersion(pythonVersion)

	abis, ok := ABIsByPythonVersion[pythonVersion]
	if !ok {
		return Environment{}, fmt.Errorf("tags: unknown python_version %q", pythonVersion)
	}

	if !KnownOperatingSystems[operatingSystem] {
		return Environment{}, fmt.Errorf("tags: unknown operating_system %q", operatingSystem)
	}

	return Environment{
		PythonVersion:   pythonVersion,
		OperatingSystem: operatingSystem,
		Implementation:  "cp",
		ABIs:            abis,
		Platforms:       PlatformsByOS[operatingSystem],
	}, nil
}

// normalizePythonVersion accepts both compact ("310") and dotted ("3.10")
// forms and returns the compact form.
func normalizePythonVersion(v string) string {
	if strings.Contains(v, ".") {
		parts := strings.SplitN(v, ".", 2)
		return parts[0] + parts[1]
	}

	return v
}

// DottedPythonVersion returns e.g. "3.10" for PythonVersion "310".
func (e Environment) DottedPythonVersion() string {
	if d, ok := PythonDotVersions[e.PythonVersion]; ok {
		return d
	}

	if len(e.PythonVersion) >= 2 {
		return e.PythonVersion[:1] + "." + e.PythonVersion[1:]
	}

	return e.PythonVersion
}

// SupportedTags returns the ordered supported-tag set for the environment,
// equivalent to pip's default priority: native CPython+ABI, stable ABI3,
// CPython-none, pure-python, universal "any" — each crossed with the
// platform list in priority order.
func (e Environment) SupportedTags() []Tag {
	cp := e.Implementation + e.PythonVersion
	pyMajor := "py" + e.PythonVersion[:1]

	var out []Tag

	for _, plat := range e.Platforms {
		out = append(out, Tag{Python: cp, ABI: cp, Platform: plat})
	}

	for _, plat := range e.Platforms {
		out = append(out, Tag{Python: cp, ABI: "abi3", Platform: plat})
	}

	for _, plat := range e.Platforms {
		out = append(out, Tag{Python: cp, ABI: "none", Platform: plat})
	}

	for _, plat := range e.Platforms {
		out = append(out, Tag{Python: pyMajor, ABI: "none", Platform: plat})
	}

	out = append(out,
		Tag{Python: cp, ABI: "none", Platform: "any"},
		Tag{Python: pyMajor, ABI: "none", Platform: "any"},
	)

	return out
}

// Supports reports whether any of wheelTags intersects the environment's
// supported-tag set. Pure wheels (py3-none-any and friends) are always
// supported regardless of platform, since "any" is included in every
// environment's supported set.
func (e Environment) Supports(wheelTags []Tag) bool {
	supported := make(map[Tag]bool)
	for _, t := range e.SupportedTags() {
		supported[t] = true
	}

	for _, t := range wheelTags {
		if supported[t] {
			return true
		}
	}

	return false
}

// ExpandCompoundTag expands a dot-separated compound tag field (e.g.
// "py2.py3" or "cp36.cp37") into its individual values.
func ExpandCompoundTag(field string) []string {
	return strings.Split(field, ".")
}

// CrossProduct builds the {pythons × abis × platforms} tag set, matching the
// Wheel invariant that this product equals Wheel.Tags.
func CrossProduct(pythons, abis, platforms []string) []Tag {
	var out []Tag

	for _, p := range pythons {
		for _, a := range abis {
			for _, pl := range platforms {
				out = append(out, Tag{Python: p, ABI: a, Platform: pl})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })

	return out
}
