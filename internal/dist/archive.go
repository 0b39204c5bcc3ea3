package dist

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// readAllClose reads rc to completion and closes it, returning the first
// error encountered from either operation.
func readAllClose(rc io.ReadCloser) ([]byte, error) {
	content, err := io.ReadAll(rc)
	if cerr := rc.Close(); err == nil {
		err = cerr
	}

	return content, err
}

func walkZip(r io.ReaderAt, size int64, f func(string, io.Reader) error) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return err
	}

	for _, file := range zr.File {
		rc, err := file.Open()
		if err != nil {
			return err
		}

		err = f(file.Name, rc)
		rc.Close()

		if err != nil {
			return err
		}
	}

	return nil
}

// Extract unpacks an sdist archive (tar.gz/tgz/zip) into destDir, refusing
// any entry whose resolved path would land outside destDir (zip-slip
// protection).
func Extract(filename string, r io.Reader, destDir string) error {
	switch {
	case strings.HasSuffix(filename, ".tar.gz"), strings.HasSuffix(filename, ".tgz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("dist: opening gzip stream: %w", err)
		}
		defer gz.Close()

		return extractTar(tar.NewReader(gz), destDir)
	case strings.HasSuffix(filename, ".zip"):
		content, err := io.ReadAll(r)
		if err != nil {
			return err
		}

		zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
		if err != nil {
			return fmt.Errorf("dist: opening zip archive: %w", err)
		}

		for _, f := range zr.File {
			if err := extractZipEntry(f, destDir); err != nil {
				return err
			}
		}

		return nil
	default:
		return fmt.Errorf("dist: unsupported archive extension: %s", filename)
	}
}

func extractTar(tr *tar.Reader, destDir string) error {
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return err
		}

		destPath := filepath.Join(destDir, h.Name)
		if !isInsideDir(destPath, destDir) {
			return fmt.Errorf("dist: archive entry %q escapes destination directory", h.Name)
		}

		switch h.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return err
			}

			out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}

			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}

			out.Close()
		}
	}
}

func extractZipEntry(f *zip.File, destDir string) error {
	destPath := filepath.Join(destDir, f.Name)
	if !isInsideDir(destPath, destDir) {
		return fmt.Errorf("dist: archive entry %q escapes destination directory", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(destPath, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)

	return err
}

// isInsideDir checks that path is inside dir after resolving to absolute form.
func isInsideDir(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}

	return strings.HasPrefix(absPath, absDir+string(filepath.Separator)) || absPath == absDir
}
