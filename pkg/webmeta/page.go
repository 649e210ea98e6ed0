// Package webmeta inspects dapp pages: icons, preview images, and reachability.
package webmeta

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const logPrefix = "webmeta:page"

// Defaults for Inspector.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxIconSize = 256 << 10
	maxPageSize        = 4 << 20
	userAgent          = "Mozilla/5.0 (compatible; RabbyDesktop)"
)

// Inspector fetches and parses pages.
type Inspector struct {
	client      *http.Client
	timeout     time.Duration
	maxIconSize int
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithTimeout bounds each inspection when the caller's context has no deadline.
func WithTimeout(d time.Duration) Option {
	return func(i *Inspector) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithMaxIconSize sets the largest icon embedded as base64.
func WithMaxIconSize(n int) Option {
	return func(i *Inspector) { i.maxIconSize = n }
}

// NewInspector creates an Inspector. A nil transport uses http.DefaultTransport.
func NewInspector(transport http.RoundTripper, opts ...Option) *Inspector {
	if transport == nil {
		transport = http.DefaultTransport
	}
	i := &Inspector{
		client:      &http.Client{Transport: transport},
		timeout:     DefaultTimeout,
		maxIconSize: DefaultMaxIconSize,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// page is a fetched and parsed document.
type page struct {
	url   *url.URL // after redirects
	icons []iconLink
	metas map[string]string
}

type iconLink struct {
	href  string
	rel   string
	sizes string
	typ   string
}

func (i *Inspector) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, i.timeout)
}

// fetchPage GETs rawURL and parses its head.
func (i *Inspector) fetchPage(ctx context.Context, rawURL string) (*page, error) {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return nil, err
	}
	resp, err := i.get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("%s - parse %s: %w", logPrefix, u, err)
	}
	p := &page{url: resp.Request.URL, metas: make(map[string]string)}
	collect(doc, p)
	return p, nil
}

func (i *Inspector) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := i.client.Do(req)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - GET %s failed: %v", logPrefix, rawURL, err))
		return nil, err
	}
	return resp, nil
}

// collect walks the document gathering icon links and meta tags.
func collect(n *html.Node, p *page) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Link:
			rel := strings.ToLower(attr(n, "rel"))
			href := attr(n, "href")
			if href != "" && hasToken(rel, "icon") {
				p.icons = append(p.icons, iconLink{href: href, rel: rel, sizes: attr(n, "sizes"), typ: attr(n, "type")})
			}
		case atom.Meta:
			key := strings.ToLower(attr(n, "property"))
			if key == "" {
				key = strings.ToLower(attr(n, "name"))
			}
			if content := attr(n, "content"); key != "" && content != "" {
				if _, seen := p.metas[key]; !seen {
					p.metas[key] = content
				}
			}
		case atom.Body:
			// Icons and meta tags live in head; skip the rest of the document.
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collect(c, p)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if f == token {
			return true
		}
	}
	return false
}

// iconSize returns the largest edge declared in a sizes attribute. "any"
// (scalable icons) ranks above every fixed size.
func iconSize(sizes string) int {
	best := 0
	for _, s := range strings.Fields(strings.ToLower(sizes)) {
		if s == "any" {
			return 1 << 16
		}
		w, _, ok := strings.Cut(s, "x")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(w); err == nil && n > best {
			best = n
		}
	}
	return best
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: expected an absolute http(s) url", raw)
	}
	return u, nil
}

// StatusError is returned when a page answers with an HTTP error status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// isTimeout reports whether err came from a deadline.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isCertError reports whether err came from TLS certificate verification.
func isCertError(err error) bool {
	var (
		unknownAuth x509.UnknownAuthorityError
		hostname    x509.HostnameError
		invalid     x509.CertificateInvalidError
		verify      *tls.CertificateVerificationError
	)
	return errors.As(err, &unknownAuth) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalid) ||
		errors.As(err, &verify)
}
