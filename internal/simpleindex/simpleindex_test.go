package simpleindex_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aboutcode-org/pyresolve/internal/simpleindex"
)

func TestListPackageFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/flask/" {
			http.NotFound(w, r)
			return
		}

		_, _ = w.Write([]byte(`<!DOCTYPE html><html><body>
<a href="flask-2.1.2-py3-none-any.whl" data-requires-python="&gt;=3.7">flask-2.1.2-py3-none-any.whl</a>
<a href="flask-2.1.2.tar.gz">flask-2.1.2.tar.gz</a>
</body></html>`))
	}))
	defer srv.Close()

	c := simpleindex.New()

	links, err := c.ListPackageFiles(context.Background(), srv.URL+"/", "Flask")
	if err != nil {
		t.Fatalf("ListPackageFiles() error: %v", err)
	}

	if len(links) != 2 {
		t.Fatalf("got %d links, want 2", len(links))
	}

	if !strings.Contains(links[0].HRef, "flask-2.1.2-py3-none-any.whl") {
		t.Errorf("href = %q, want it to contain wheel filename", links[0].HRef)
	}

	if links[0].RequiresPython() != ">=3.7" {
		t.Errorf("RequiresPython() = %q, want >=3.7", links[0].RequiresPython())
	}
}

func TestFetchFileVerifiesChecksum(t *testing.T) {
	content := []byte("wheel bytes")
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	c := simpleindex.New()

	link := simpleindex.Link{HRef: srv.URL + "/flask-2.1.2-py3-none-any.whl#sha256=" + hash}

	got, err := c.FetchFile(context.Background(), link)
	if err != nil {
		t.Fatalf("FetchFile() error: %v", err)
	}

	if string(got) != string(content) {
		t.Errorf("content = %q, want %q", got, content)
	}
}

func TestFetchFileChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("wheel bytes"))
	}))
	defer srv.Close()

	c := simpleindex.New()

	link := simpleindex.Link{HRef: srv.URL + "/flask-2.1.2-py3-none-any.whl#sha256=0000000000000000000000000000000000000000000000000000000000000000"}

	_, err := c.FetchFile(context.Background(), link)
	if err == nil {
		t.Fatal("expected checksum mismatch error, got nil")
	}
}

func TestListPackageFilesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := simpleindex.New()

	_, err := c.ListPackageFiles(context.Background(), srv.URL+"/", "nonexistent")
	if err == nil {
		t.Fatal("expected error for 404, got nil")
	}
}
