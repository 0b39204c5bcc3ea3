// Package config is the ambient configuration layer: a plain struct built
// once from CLI flags with environment-variable fallback, passed by value
// through the Orchestrator. There is no package-level singleton, matching
// the teacher's style of threading dependencies explicitly rather than
// reaching for globals.
//
// Grounded on original_source's python_inspector/settings.py
// (pydantic_settings.BaseSettings, env_prefix="PYTHON_INSPECTOR").
package config

import (
	"os"
	"strconv"
	"strings"
)

// TraceLevel mirrors settings.py's TraceLevel enum. Config.Trace records it;
// the logger built by cmd/pyresolve does not read it (verbosity comes from
// -v/--verbose only).
type TraceLevel int

const (
	TraceOff       TraceLevel = 0
	Trace          TraceLevel = 1
	TraceDeep      TraceLevel = 2
	TraceUltraDeep TraceLevel = 3
)

// Config holds every value the Orchestrator needs, resolved once at
// startup.
type Config struct {
	DefaultPythonVersion      string
	IndexURL                  string
	ExtraIndexURLs            []string
	UseOnlyConfiguredIndexURLs bool
	CacheDir                  string
	NetrcFile                 string
	Trace                     TraceLevel
}

// defaults mirrors settings.py's field defaults.
func defaults() Config {
	return Config{
		DefaultPythonVersion: "38",
		IndexURL:             "https://pypi.org/simple",
	}
}

// Load builds a Config: flags take priority, environment variables
// (PYTHON_INSPECTOR_* prefix, case-sensitive per settings.py) fill in
// whatever a flag left at its zero value, and anything still unset falls
// back to defaults().
func Load(flags Flags) Config {
	c := defaults()

	applyEnv(&c)
	applyFlags(&c, flags)

	return c
}

// Flags is the subset of parsed CLI flags that can override configuration;
// kept separate from the cobra/pflag types so internal/config has no CLI
// dependency of its own.
type Flags struct {
	DefaultPythonVersion       string
	IndexURL                   string
	ExtraIndexURLs             []string
	UseOnlyConfiguredIndexURLs bool
	CacheDir                   string
	NetrcFile                  string
	Trace                      int
}

func applyEnv(c *Config) {
	if v := os.Getenv("PYTHON_INSPECTOR_DEFAULT_PYTHON_VERSION"); v != "" {
		c.DefaultPythonVersion = v
	}

	if v := os.Getenv("PYTHON_INSPECTOR_INDEX_URL"); v != "" {
		c.IndexURL = v
	}

	if v := os.Getenv("PYTHON_INSPECTOR_EXTRA_INDEX_URLS"); v != "" {
		c.ExtraIndexURLs = splitNonEmpty(v, ",")
	}

	if v := os.Getenv("PYTHON_INSPECTOR_TRACE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Trace = TraceLevel(n)
		}
	}

	if v := os.Getenv("PYTHON_INSPECTOR_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
}

func applyFlags(c *Config, f Flags) {
	if f.DefaultPythonVersion != "" {
		c.DefaultPythonVersion = f.DefaultPythonVersion
	}

	if f.IndexURL != "" {
		c.IndexURL = f.IndexURL
	}

	if len(f.ExtraIndexURLs) > 0 {
		c.ExtraIndexURLs = f.ExtraIndexURLs
	}

	c.UseOnlyConfiguredIndexURLs = f.UseOnlyConfiguredIndexURLs

	if f.CacheDir != "" {
		c.CacheDir = f.CacheDir
	}

	if f.NetrcFile != "" {
		c.NetrcFile = f.NetrcFile
	}

	if f.Trace > 0 {
		c.Trace = TraceLevel(f.Trace)
	}
}

func splitNonEmpty(s, sep string) []string {
	var out []string

	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}

	return out
}

// IndexURLs returns the full set of index URLs to query: the primary
// IndexURL followed by ExtraIndexURLs, deduplicated.
func (c Config) IndexURLs() []string {
	seen := map[string]bool{c.IndexURL: true}
	out := []string{c.IndexURL}

	for _, u := range c.ExtraIndexURLs {
		if seen[u] {
			continue
		}

		seen[u] = true
		out = append(out, u)
	}

	return out
}
