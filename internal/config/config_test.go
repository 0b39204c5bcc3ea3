package config_test

import (
	"testing"

	"github.com/aboutcode-org/pyresolve/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	c := config.Load(config.Flags{})

	if c.DefaultPythonVersion != "38" {
		t.Errorf("DefaultPythonVersion = %q, want 38", c.DefaultPythonVersion)
	}

	if c.IndexURL != "https://pypi.org/simple" {
		t.Errorf("IndexURL = %q, want https://pypi.org/simple", c.IndexURL)
	}
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	c := config.Load(config.Flags{
		DefaultPythonVersion: "311",
		IndexURL:             "https://example.org/simple",
		ExtraIndexURLs:       []string{"https://extra.example.org/simple"},
		CacheDir:             "/tmp/cache",
		Trace:                2,
	})

	if c.DefaultPythonVersion != "311" {
		t.Errorf("DefaultPythonVersion = %q, want 311", c.DefaultPythonVersion)
	}

	if c.CacheDir != "/tmp/cache" {
		t.Errorf("CacheDir = %q, want /tmp/cache", c.CacheDir)
	}

	if c.Trace != config.TraceDeep {
		t.Errorf("Trace = %v, want TraceDeep", c.Trace)
	}

	if len(c.ExtraIndexURLs) != 1 || c.ExtraIndexURLs[0] != "https://extra.example.org/simple" {
		t.Errorf("ExtraIndexURLs = %v", c.ExtraIndexURLs)
	}
}

func TestLoadEnvFallback(t *testing.T) {
	t.Setenv("PYTHON_INSPECTOR_INDEX_URL", "https://env.example.org/simple")
	t.Setenv("PYTHON_INSPECTOR_DEFAULT_PYTHON_VERSION", "39")

	c := config.Load(config.Flags{})

	if c.IndexURL != "https://env.example.org/simple" {
		t.Errorf("IndexURL = %q, want env override", c.IndexURL)
	}

	if c.DefaultPythonVersion != "39" {
		t.Errorf("DefaultPythonVersion = %q, want env override", c.DefaultPythonVersion)
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("PYTHON_INSPECTOR_INDEX_URL", "https://env.example.org/simple")

	c := config.Load(config.Flags{IndexURL: "https://flag.example.org/simple"})

	if c.IndexURL != "https://flag.example.org/simple" {
		t.Errorf("IndexURL = %q, want flag to win over env", c.IndexURL)
	}
}

func TestIndexURLsDeduplicates(t *testing.T) {
	c := config.Load(config.Flags{
		IndexURL:       "https://pypi.org/simple",
		ExtraIndexURLs: []string{"https://pypi.org/simple", "https://extra.example.org/simple"},
	})

	urls := c.IndexURLs()
	if len(urls) != 2 {
		t.Fatalf("IndexURLs() = %v, want 2 deduplicated entries", urls)
	}
}
