// Package reqfile parses the on-disk requirement formats that sit outside
// PEP 508 strings proper: pip requirements.txt files and a setup.cfg's
// [options] install_requires/extras_require block. Both return
// requirement.DependentPackage records, the boundary type the extraction
// ladder (internal/depextract, C6) and the Orchestrator (C11) consume.
//
// Grounded on original_source's python_inspector/package_data.py
// (get_requirements_from_requirements_file / get_requirements_from_setup_cfg)
// and the INI-parsing shape the teacher uses for its own config in
// cmd/pipg/main.go.
package reqfile

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/aboutcode-org/pyresolve/internal/requirement"
	"gopkg.in/ini.v1"
)

// ParseRequirementsTxt parses a pip requirements.txt file. Lines are
// processed per pip's own rules: "#" starts a comment, a trailing "\"
// continues the requirement onto the next line, "-r"/"-c"/"-e"/"--hash"
// and bare URLs/paths are recognized but recorded as skipped rather than
// parsed as PEP 508 requirements.
func ParseRequirementsTxt(r io.Reader) ([]requirement.DependentPackage, error) {
	var out []requirement.DependentPackage

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var pending strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		if idx := strings.Index(line, " #"); idx >= 0 {
			line = line[:idx]
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" && pending.Len() == 0 {
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			continue
		}

		if strings.HasSuffix(trimmed, "\\") {
			pending.WriteString(strings.TrimSuffix(trimmed, "\\"))
			pending.WriteByte(' ')

			continue
		}

		pending.WriteString(trimmed)

		entry := strings.TrimSpace(pending.String())
		pending.Reset()

		if entry == "" {
			continue
		}

		dep := parseRequirementsLine(entry)
		out = append(out, dep)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reqfile: reading requirements.txt: %w", err)
	}

	return out, nil
}

func parseRequirementsLine(entry string) requirement.DependentPackage {
	dep := requirement.DependentPackage{
		ExtractedRequirement: entry,
		Scope:                requirement.ScopeInstall,
		IsRuntime:            true,
	}

	switch {
	case strings.HasPrefix(entry, "-e "), strings.HasPrefix(entry, "--editable"):
		dep.Skip.IsEditable = true
		return dep
	case strings.HasPrefix(entry, "-r "), strings.HasPrefix(entry, "-c "),
		strings.HasPrefix(entry, "--requirement"), strings.HasPrefix(entry, "--constraint"):
		dep.Skip.IsConstraint = true
		return dep
	case strings.Contains(entry, "--hash"):
		dep.Skip.HasHashOption = true
	case strings.HasPrefix(entry, "git+"), strings.HasPrefix(entry, "hg+"),
		strings.HasPrefix(entry, "svn+"), strings.HasPrefix(entry, "bzr+"):
		dep.Skip.IsVCS = true
		return dep
	case strings.HasPrefix(entry, "http://"), strings.HasPrefix(entry, "https://"):
		dep.Skip.IsURL = true
		return dep
	case strings.HasSuffix(entry, ".whl"):
		dep.Skip.IsWheelDirect = true
		return dep
	}

	req, err := requirement.Parse(entry)
	if err != nil {
		dep.Skip.IsLocalPath = true
		return dep
	}

	dep.PURL = ""
	dep.ExtractedRequirement = entry
	dep.IsResolved = req.Name != ""

	return dep
}

// ParseSetupCfg parses a setup.cfg's [options] install_requires and
// [options.extras_require] sections into DependentPackage records. Other
// sections (metadata, flake8, pytest, ...) are ignored.
func ParseSetupCfg(r io.Reader) ([]requirement.DependentPackage, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reqfile: reading setup.cfg: %w", err)
	}

	cfg, err := ini.LoadSources(ini.LoadOptions{AllowPythonMultilineValues: true}, content)
	if err != nil {
		return nil, fmt.Errorf("reqfile: parsing setup.cfg: %w", err)
	}

	var out []requirement.DependentPackage

	if sec := cfg.Section("options"); sec != nil {
		if key := sec.Key("install_requires"); key != nil {
			out = append(out, linesToRequirements(key.String(), requirement.ScopeInstall, true, false)...)
		}
	}

	if sec := cfg.Section("options.extras_require"); sec != nil {
		for _, key := range sec.Keys() {
			out = append(out, linesToRequirements(key.String(), requirement.ScopeInstall, false, true)...)
		}
	}

	return out, nil
}

// installRequiresListPattern locates a top-level install_requires=[...]
// kwarg inside a setup.py call. It does not parse Python; it is a
// best-effort regex scan, grounded on google-deps.dev's
// installRequiresPattern idiom (util/pypi/sdist.go), generalized from
// "does this token exist" to "read the literal list if there is one".
var installRequiresListPattern = regexp.MustCompile(`(?s)install_requires\s*=\s*\[([^\]]*)\]`)

var quotedStringPattern = regexp.MustCompile(`'([^']*)'|"([^"]*)"`)

// hasInstallRequiresToken reports whether content references
// install_requires at all, the trigger for step iv of the extraction
// ladder (§4.6).
func hasInstallRequiresToken(content string) bool {
	return strings.Contains(content, "install_requires")
}

// ParseSetupPyInstallRequires performs a best-effort static read of a
// setup.py's install_requires=[...] kwarg. literal reports whether the
// bracketed list consisted entirely of quoted string literals (safe to
// trust); when literal is false but ok is true, the list contains
// non-literal elements (variables, concatenation, comprehensions) and the
// caller must fall back to live evaluation or refuse.
func ParseSetupPyInstallRequires(content string) (reqs []string, literal bool, ok bool) {
	m := installRequiresListPattern.FindStringSubmatch(content)
	if m == nil {
		return nil, false, false
	}

	body := strings.TrimSpace(m[1])
	if body == "" {
		return nil, true, true
	}

	quotes := quotedStringPattern.FindAllStringIndex(body, -1)

	stripped := body
	for i := len(quotes) - 1; i >= 0; i-- {
		stripped = stripped[:quotes[i][0]] + stripped[quotes[i][1]:]
	}

	stripped = strings.ReplaceAll(stripped, ",", "")
	stripped = strings.ReplaceAll(stripped, "\n", "")
	stripped = strings.TrimSpace(stripped)

	if stripped != "" {
		return nil, false, true
	}

	for _, sub := range quotedStringPattern.FindAllStringSubmatch(body, -1) {
		token := sub[1]
		if token == "" {
			token = sub[2]
		}

		token = strings.TrimSpace(token)
		if token != "" {
			reqs = append(reqs, token)
		}
	}

	return reqs, true, true
}

// HasUnresolvedInstallRequires reports whether setupPyContent declares
// install_requires that ParseSetupPyInstallRequires could not safely read
// as a literal, the condition that raises InsecureSetupRefused at step iv
// of the extraction ladder.
func HasUnresolvedInstallRequires(setupPyContent string) bool {
	if !hasInstallRequiresToken(setupPyContent) {
		return false
	}

	_, literal, ok := ParseSetupPyInstallRequires(setupPyContent)

	return !ok || !literal
}

func linesToRequirements(block string, scope requirement.Scope, isRuntime, isOptional bool) []requirement.DependentPackage {
	var out []requirement.DependentPackage

	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		out = append(out, requirement.DependentPackage{
			ExtractedRequirement: line,
			Scope:                scope,
			IsRuntime:            isRuntime,
			IsOptional:           isOptional,
		})
	}

	return out
}
