// Package cache implements the persistent, content-addressable URL→file
// cache shared by the simple-index repository client (C4) and the
// dependency extractor (C6).
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
)

// Fetcher retrieves the bytes for a URL on a cache miss.
type Fetcher func(ctx context.Context, rawURL string) ([]byte, error)

// Manager manages a local on-disk cache directory keyed by URL-quoted full
// URL. Entries are whole file bodies; there is no expiry, only explicit
// force-refresh.
type Manager struct {
	dir    string
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithDir overrides the cache directory.
func WithDir(dir string) Option {
	return func(m *Manager) {
		if dir != "" {
			m.dir = dir
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a cache manager rooted at dir (or a platform default,
// honoring PYTHON_INSPECTOR_CACHE_DIR, if dir is empty).
func New(opts ...Option) (*Manager, error) {
	m := &Manager{logger: slog.Default()}

	for _, opt := range opts {
		opt(m)
	}

	if m.dir == "" {
		m.dir = DefaultCacheDir()
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating directory %s: %w", m.dir, err)
	}

	return m, nil
}

// Root returns the cache's root directory, e.g. to build the
// extracted_sdists/ layout alongside it.
func (m *Manager) Root() string { return m.dir }

// keyFor returns the on-disk filename for a URL: URL-quoted so it is a
// valid single path component.
func keyFor(rawURL string) string {
	return url.QueryEscape(rawURL)
}

// Get returns the cached bytes for rawURL, fetching via fetch on a miss (or
// when force is true) and writing the result atomically. A Get(url, false)
// following a successful fetch returns the same bytes without invoking
// fetch again.
func (m *Manager) Get(ctx context.Context, rawURL string, force bool, fetch Fetcher) ([]byte, error) {
	path := filepath.Join(m.dir, keyFor(rawURL))

	if !force {
		if content, err := os.ReadFile(path); err == nil {
			m.logger.Debug("cache hit", slog.String("url", rawURL))
			return content, nil
		}
	}

	content, err := fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if err := m.writeAtomic(path, content); err != nil {
		m.logger.Warn("cache write failed", slog.String("url", rawURL), slog.String("error", err.Error()))
	}

	return content, nil
}

// Put writes content to the cache under rawURL's key, atomically.
func (m *Manager) Put(rawURL string, content []byte) error {
	return m.writeAtomic(filepath.Join(m.dir, keyFor(rawURL)), content)
}

// PutFile copies an existing file into the cache under rawURL's key.
func (m *Manager) PutFile(rawURL, srcPath string) error {
	content, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("cache: reading %s: %w", srcPath, err)
	}

	return m.Put(rawURL, content)
}

// Path returns the on-disk path an entry would occupy, without checking
// whether it exists.
func (m *Manager) Path(rawURL string) string {
	return filepath.Join(m.dir, keyFor(rawURL))
}

func (m *Manager) writeAtomic(dstPath string, content []byte) error {
	tmpPath := dstPath + ".tmp"

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err
	}

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("cache: creating temp file: %w", err)
	}

	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("cache: writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("cache: closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dstPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("cache: renaming temp file: %w", err)
	}

	return nil
}

// DefaultCacheDir returns the platform-appropriate cache directory.
// Priority: PYTHON_INSPECTOR_CACHE_DIR / PYINSP_CACHE_THIRDPARTY_DIR env var
// > platform default, following utils_pypi.CACHE_THIRDPARTY_DIR.
func DefaultCacheDir() string {
	for _, envVar := range []string{"PYTHON_INSPECTOR_CACHE_DIR", "PYINSP_CACHE_THIRDPARTY_DIR"} {
		if dir := os.Getenv(envVar); dir != "" {
			return dir
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "python_inspector")
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Caches", "python_inspector")
	}

	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "python_inspector")
	}

	return filepath.Join(home, ".cache", "python_inspector")
}
