package cache_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aboutcode-org/pyresolve/internal/cache"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()

	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing file %s: %v", path, err)
	}
}

func TestGetFetchesOnMiss(t *testing.T) {
	dir := t.TempDir()

	m, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	url := "https://pypi.org/simple/flask/"

	calls := 0
	fetch := func(_ context.Context, gotURL string) ([]byte, error) {
		calls++

		if gotURL != url {
			t.Errorf("fetch called with %q, want %q", gotURL, url)
		}

		return []byte("index body"), nil
	}

	content, err := m.Get(context.Background(), url, false, fetch)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if string(content) != "index body" {
		t.Errorf("content = %q, want %q", content, "index body")
	}

	if calls != 1 {
		t.Fatalf("fetch called %d times, want 1", calls)
	}

	// Second call should hit the cache and not invoke fetch again.
	content, err = m.Get(context.Background(), url, false, fetch)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if string(content) != "index body" {
		t.Errorf("content = %q, want %q", content, "index body")
	}

	if calls != 1 {
		t.Fatalf("fetch called %d times after cache hit, want 1", calls)
	}
}

func TestGetForceRefetches(t *testing.T) {
	dir := t.TempDir()

	m, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	url := "https://pypi.org/simple/flask/"
	calls := 0

	fetch := func(_ context.Context, _ string) ([]byte, error) {
		calls++
		return []byte("body"), nil
	}

	if _, err := m.Get(context.Background(), url, false, fetch); err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if _, err := m.Get(context.Background(), url, true, fetch); err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if calls != 2 {
		t.Fatalf("fetch called %d times, want 2 with force", calls)
	}
}

func TestGetFetchError(t *testing.T) {
	dir := t.TempDir()

	m, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	wantErr := errors.New("network down")
	fetch := func(_ context.Context, _ string) ([]byte, error) {
		return nil, wantErr
	}

	_, err = m.Get(context.Background(), "https://pypi.org/simple/flask/", false, fetch)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Get() error = %v, want %v", err, wantErr)
	}
}

func TestPutAndGetNoFetch(t *testing.T) {
	dir := t.TempDir()

	m, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	url := "https://files.pythonhosted.org/packages/flask-2.1.2-py3-none-any.whl"

	if err := m.Put(url, []byte("wheel bytes")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	fetch := func(_ context.Context, _ string) ([]byte, error) {
		t.Fatal("fetch should not be called after Put")
		return nil, nil
	}

	content, err := m.Get(context.Background(), url, false, fetch)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if string(content) != "wheel bytes" {
		t.Errorf("content = %q, want %q", content, "wheel bytes")
	}
}

func TestPutFile(t *testing.T) {
	srcDir := t.TempDir()
	cacheDir := t.TempDir()

	content := []byte("wheel data")
	srcPath := filepath.Join(srcDir, "download.whl")

	writeFile(t, srcPath, content)

	m, err := cache.New(cache.WithDir(cacheDir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	url := "https://files.pythonhosted.org/packages/pkg-1.0.0-py3-none-any.whl"
	if err := m.PutFile(url, srcPath); err != nil {
		t.Fatalf("PutFile() error: %v", err)
	}

	got, err := os.ReadFile(m.Path(url))
	if err != nil {
		t.Fatalf("reading cached file: %v", err)
	}

	if string(got) != string(content) {
		t.Error("cached file content does not match source")
	}

	entries, _ := os.ReadDir(cacheDir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file %q should not remain", e.Name())
		}
	}
}

func TestPutFileSourceNotFound(t *testing.T) {
	dir := t.TempDir()

	m, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	err = m.PutFile("https://example.org/pkg.whl", "/nonexistent/path/file.whl")
	if err == nil {
		t.Fatal("expected error for missing source, got nil")
	}
}

func TestConcurrentPut(t *testing.T) {
	cacheDir := t.TempDir()

	m, err := cache.New(cache.WithDir(cacheDir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	url := "https://example.org/shared.whl"

	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			content := []byte("content-" + string(rune('A'+n)))
			_ = m.Put(url, content)
		}(i)
	}

	wg.Wait()

	if _, err := os.Stat(m.Path(url)); err != nil {
		t.Errorf("expected cached file to exist: %v", err)
	}
}

func TestNewCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "cache")

	_, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("cache directory not created: %v", err)
	}

	if !info.IsDir() {
		t.Error("expected directory, got file")
	}
}

func TestWithLoggerOption(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	m, err := cache.New(cache.WithDir(dir), cache.WithLogger(logger))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	fetch := func(_ context.Context, _ string) ([]byte, error) {
		return []byte("x"), nil
	}

	if _, err := m.Get(context.Background(), "https://example.org/a.whl", false, fetch); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
}

func TestWithLoggerNilIgnored(t *testing.T) {
	dir := t.TempDir()

	m, err := cache.New(cache.WithDir(dir), cache.WithLogger(nil))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	fetch := func(_ context.Context, _ string) ([]byte, error) {
		return []byte("x"), nil
	}

	if _, err := m.Get(context.Background(), "https://example.org/a.whl", false, fetch); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
}

func TestNewDefaultDirWithoutEnvVar(t *testing.T) {
	t.Setenv("PYTHON_INSPECTOR_CACHE_DIR", "")
	t.Setenv("PYINSP_CACHE_THIRDPARTY_DIR", "")

	m, err := cache.New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := m.Put("https://example.org/default-dir.whl", []byte("data")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
}

func TestNewWithEnvVar(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "env-cache")
	t.Setenv("PYTHON_INSPECTOR_CACHE_DIR", dir)

	m, err := cache.New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	url := "https://example.org/test.whl"
	if err := m.Put(url, []byte("data")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, filepath.Base(m.Path(url)))); err != nil {
		t.Errorf("file not found in PYTHON_INSPECTOR_CACHE_DIR: %v", err)
	}
}
