// Package marker evaluates PEP 508 environment markers against a context map.
// Markers gate optional dependencies on details of the target runtime, such
// as `sys_platform == "win32"` or `extra == "socks"`.
package marker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aboutcode-org/pyresolve/internal/pepversion"
)

// Context supplies the values markers are evaluated against. Missing keys
// are a strict error: a marker referencing an absent key cannot be answered.
type Context map[string]string

// NewContext builds the marker context for an Environment + extra pair.
// pythonVersion may be compact ("310", as in tags.Environment) or dotted
// ("3.10"); markers always see the dotted form.
// extra defaults to "" when the candidate carries no extras, matching the
// resolver's `marker.evaluate({"extra": ""})` convention.
func NewContext(pythonVersion, osName, extra string) Context {
	if !strings.Contains(pythonVersion, ".") && len(pythonVersion) >= 2 {
		pythonVersion = pythonVersion[:1] + "." + pythonVersion[1:]
	}

	sysPlatform := map[string]string{
		"linux":   "linux",
		"macos":   "darwin",
		"windows": "win32",
	}[osName]

	platformSystem := map[string]string{
		"linux":   "Linux",
		"macos":   "Darwin",
		"windows": "Windows",
	}[osName]

	return Context{
		"python_version":      pythonVersion,
		"python_full_version": pythonVersion,
		"sys_platform":        sysPlatform,
		"platform_system":     platformSystem,
		"os_name": map[string]string{
			"linux": "posix", "macos": "posix", "windows": "nt",
		}[osName],
		"extra": extra,
	}
}

// Marker is a parsed PEP 508 boolean expression tree.
type Marker interface {
	Evaluate(ctx Context) (bool, error)
}

// Parse parses a PEP 508 marker expression, e.g. `python_version < "3.10" and extra == "socks"`.
func Parse(s string) (Marker, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return alwaysTrue{}, nil
	}

	return parseOr(s)
}

type alwaysTrue struct{}

func (alwaysTrue) Evaluate(Context) (bool, error) { return true, nil }

type orExpr struct{ terms []Marker }

func (o orExpr) Evaluate(ctx Context) (bool, error) {
	for _, t := range o.terms {
		ok, err := t.Evaluate(ctx)
		if err != nil {
			return false, err
		}

		if ok {
			return true, nil
		}
	}

	return false, nil
}

type andExpr struct{ terms []Marker }

func (a andExpr) Evaluate(ctx Context) (bool, error) {
	for _, t := range a.terms {
		ok, err := t.Evaluate(ctx)
		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func parseOr(s string) (Marker, error) {
	groups := splitOutside(s, " or ")
	if len(groups) == 1 {
		return parseAnd(groups[0])
	}

	terms := make([]Marker, len(groups))

	for i, g := range groups {
		t, err := parseAnd(g)
		if err != nil {
			return nil, err
		}

		terms[i] = t
	}

	return orExpr{terms: terms}, nil
}

func parseAnd(s string) (Marker, error) {
	terms := splitOutside(strings.TrimSpace(s), " and ")
	if len(terms) == 1 {
		return parseTerm(strings.TrimSpace(terms[0]))
	}

	parsed := make([]Marker, len(terms))

	for i, t := range terms {
		m, err := parseTerm(strings.TrimSpace(t))
		if err != nil {
			return nil, err
		}

		parsed[i] = m
	}

	return andExpr{terms: parsed}, nil
}

var termRe = regexp.MustCompile(
	`^\(?\s*([\w.]+|"[^"]*"|'[^']*')\s*(>=|<=|!=|===|==|~=|>|<|not\s+in|in)\s*([\w.]+|"[^"]*"|'[^']*')\s*\)?$`,
)

type termExpr struct {
	left, op, right string
}

func parseTerm(s string) (Marker, error) {
	m := termRe.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("marker: cannot parse term %q", s)
	}

	return termExpr{left: m[1], op: m[2], right: m[3]}, nil
}

func (t termExpr) Evaluate(ctx Context) (bool, error) {
	left, err := resolveValue(t.left, ctx)
	if err != nil {
		return false, err
	}

	right, err := resolveValue(t.right, ctx)
	if err != nil {
		return false, err
	}

	if isVersionKey(unquote(t.left)) || isVersionKey(unquote(t.right)) {
		return compareVersion(left, t.op, right)
	}

	return compareString(left, t.op, right)
}

func resolveValue(token string, ctx Context) (string, error) {
	if isQuoted(token) {
		return unquote(token), nil
	}

	v, ok := ctx[token]
	if !ok {
		return "", fmt.Errorf("marker: unknown context key %q", token)
	}

	return v, nil
}

func isQuoted(s string) bool {
	return len(s) >= 2 && ((s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\''))
}

func unquote(s string) string {
	if isQuoted(s) {
		return s[1 : len(s)-1]
	}

	return s
}

func isVersionKey(name string) bool {
	return name == "python_version" || name == "python_full_version" || name == "implementation_version"
}

func compareVersion(left, op, right string) (bool, error) {
	lv, err1 := pepversion.MustParsePEP440(left)
	rv, err2 := pepversion.MustParsePEP440(right)

	if err1 != nil || err2 != nil {
		return compareString(left, op, right)
	}

	cmp := lv.Compare(rv)

	switch op {
	case ">=":
		return cmp >= 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case "<":
		return cmp < 0, nil
	case "==", "===":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	case "~=":
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("marker: unknown operator %q", op)
	}
}

func compareString(left, op, right string) (bool, error) {
	switch op {
	case "==", "===":
		return left == right, nil
	case "!=":
		return left != right, nil
	case "in":
		return strings.Contains(right, left), nil
	case "not in":
		return !strings.Contains(right, left), nil
	default:
		return false, fmt.Errorf("marker: unknown operator %q for string comparison", op)
	}
}

// splitOutside splits s on sep, ignoring occurrences inside parentheses or quotes.
func splitOutside(s, sep string) []string {
	var parts []string

	depth := 0
	inQuote := byte(0)
	start := 0

	for i := 0; i < len(s); i++ {
		switch {
		case inQuote != 0:
			if s[i] == inQuote {
				inQuote = 0
			}
		case s[i] == '"' || s[i] == '\'':
			inQuote = s[i]
		case s[i] == '(':
			depth++
		case s[i] == ')':
			depth--
		case depth == 0 && i+len(sep) <= len(s) && strings.EqualFold(s[i:i+len(sep)], sep):
			parts = append(parts, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}

	parts = append(parts, s[start:])

	return parts
}
