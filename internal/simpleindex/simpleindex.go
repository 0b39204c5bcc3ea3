// Package simpleindex implements a client for the PEP 503 Simple Repository
// API (the richer PEP 691 JSON variant is not implemented), used to
// discover the files available
// for a package name on one or more index servers.
package simpleindex

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // PEP 503 checksum fragment, not a security boundary
	"crypto/sha1" //nolint:gosec // same
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bgentry/go-netrc/netrc"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/html"

	"github.com/aboutcode-org/pyresolve/internal/cache"
	"github.com/aboutcode-org/pyresolve/internal/requirement"
)

// Link is a single anchor parsed out of a simple-index page.
type Link struct {
	Text      string
	HRef      string
	DataAttrs map[string]string
}

// RequiresPython returns the data-requires-python attribute, if present.
func (l Link) RequiresPython() string { return l.DataAttrs["data-requires-python"] }

// HTTPError reports a non-200 response from an index server.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("simpleindex: GET %s: HTTP %d", e.URL, e.StatusCode)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for index requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithCache routes index page and file fetches through a persistent cache.
func WithCache(c *cache.Manager) Option {
	return func(cl *Client) { cl.cache = c }
}

// WithNetrc loads credentials from a netrc file for Basic-Auth index
// servers, following utils.get_netrc_auth. An empty path tries ~/.netrc and
// then ~/_netrc.
func WithNetrc(path string) Option {
	return func(cl *Client) {
		if path == "" {
			if home, err := os.UserHomeDir(); err == nil {
				for _, name := range []string{".netrc", "_netrc"} {
					if _, err := os.Stat(filepath.Join(home, name)); err == nil {
						path = filepath.Join(home, name)
						break
					}
				}
			}
		}

		if path == "" {
			return
		}

		n, err := netrc.ParseFile(path)
		if err == nil {
			cl.netrc = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// Client queries one or more PEP 503 simple-index servers.
type Client struct {
	httpClient *http.Client
	cache      *cache.Manager
	netrc      *netrc.Netrc
	logger     *slog.Logger
	userAgent  string
}

// New creates a simple-index client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		userAgent:  "pyresolve",
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ListPackageFiles fetches the per-package index page at baseURL and
// returns every file link it advertises, normalizing the package name per
// PEP 503 before building the request URL.
func (c *Client) ListPackageFiles(ctx context.Context, baseURL, pkgName string) ([]Link, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("simpleindex: invalid index URL %q: %w", baseURL, err)
	}

	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	u.Path = path.Join(u.Path, requirement.NormalizeName(pkgName)) + "/"

	return c.fetchLinks(ctx, u.String())
}

// FetchFile downloads the bytes behind a Link, verifying any PEP 503
// checksum fragment (#sha256=...) present in the href.
func (c *Client) FetchFile(ctx context.Context, link Link) ([]byte, error) {
	return c.get(ctx, link.HRef, true)
}

func (c *Client) fetchLinks(ctx context.Context, pageURL string) ([]Link, error) {
	content, err := c.get(ctx, pageURL, true)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("simpleindex: parsing index page %s: %w", pageURL, err)
	}

	var links []Link

	visitHTML(doc, func(node *html.Node) error {
		if node.Type != html.ElementNode || node.Data != "a" {
			return nil
		}

		link := Link{DataAttrs: map[string]string{}}

		for _, attr := range node.Attr {
			switch {
			case attr.Key == "href":
				href, err := base.Parse(attr.Val)
				if err == nil {
					link.HRef = href.String()
				}
			case strings.HasPrefix(attr.Key, "data-"):
				link.DataAttrs[attr.Key] = attr.Val
			}
		}

		link.Text = textOf(node)
		links = append(links, link)

		return nil
	})

	return links, nil
}

func visitHTML(node *html.Node, visit func(*html.Node) error) {
	_ = visit(node)

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		visitHTML(child, visit)
	}
}

func textOf(node *html.Node) string {
	var b strings.Builder

	visitHTML(node, func(n *html.Node) error {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}

		return nil
	})

	return b.String()
}

// get fetches requestURL, applying netrc auth, cache routing, and 429/5xx
// exponential backoff; useCache controls whether it is also routed
// through the cache (both index pages and FetchFile bodies are).
func (c *Client) get(ctx context.Context, requestURL string, useCache bool) ([]byte, error) {
	fetch := func(ctx context.Context, reqURL string) ([]byte, error) {
		return c.doGetWithBackoff(ctx, reqURL)
	}

	if useCache && c.cache != nil {
		return c.cache.Get(ctx, requestURL, false, fetch)
	}

	return fetch(ctx, requestURL)
}

func (c *Client) doGetWithBackoff(ctx context.Context, requestURL string) ([]byte, error) {
	var content []byte

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 20 * time.Second
	policy := backoff.WithContext(b, ctx)

	operation := func() error {
		body, status, err := c.doGet(ctx, requestURL)
		if err != nil {
			return backoff.Permanent(err)
		}

		if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
			return &HTTPError{URL: requestURL, StatusCode: status}
		}

		if status != http.StatusOK {
			return backoff.Permanent(&HTTPError{URL: requestURL, StatusCode: status})
		}

		content = body

		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("simpleindex: fetching %s: %w", requestURL, err)
	}

	return content, verifyChecksumFragment(requestURL, content)
}

func (c *Client) doGet(ctx context.Context, requestURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("User-Agent", c.userAgent)
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}

	return content, resp.StatusCode, nil
}

// applyAuth attaches netrc-derived Basic Auth, following
// utils.get_netrc_auth: lookup by hostname, falling back to a `default`
// entry; when neither exists no auth is sent.
func (c *Client) applyAuth(req *http.Request) {
	if c.netrc == nil {
		return
	}

	m := c.netrc.FindMachine(req.URL.Hostname())
	if m == nil {
		return
	}

	req.SetBasicAuth(m.Login, m.Password)
}

var checksumFragmentRe = regexp.MustCompile(`(?:md5|sha1|sha224|sha256|sha384|sha512)=[0-9a-fA-F]+`)

// verifyChecksumFragment validates a PEP 503 "#sha256=..." style fragment
// against the downloaded content, when present.
func verifyChecksumFragment(requestURL string, content []byte) error {
	u, err := url.Parse(requestURL)
	if err != nil || u.Fragment == "" {
		return nil
	}

	values, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return nil
	}

	for algo, vals := range values {
		for _, want := range vals {
			got, ok := digest(algo, content)
			if !ok {
				continue
			}

			if got != want {
				return fmt.Errorf("simpleindex: %s checksum mismatch for %s: want %s, got %s", algo, requestURL, want, got)
			}
		}
	}

	return nil
}

func digest(algo string, content []byte) (string, bool) {
	switch algo {
	case "md5":
		sum := md5.Sum(content)
		return hex.EncodeToString(sum[:]), true
	case "sha1":
		sum := sha1.Sum(content)
		return hex.EncodeToString(sum[:]), true
	case "sha224":
		sum := sha256.Sum224(content)
		return hex.EncodeToString(sum[:]), true
	case "sha256":
		sum := sha256.Sum256(content)
		return hex.EncodeToString(sum[:]), true
	case "sha384":
		sum := sha512.Sum384(content)
		return hex.EncodeToString(sum[:]), true
	case "sha512":
		sum := sha512.Sum512(content)
		return hex.EncodeToString(sum[:]), true
	default:
		return "", false
	}
}
