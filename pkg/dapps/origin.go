package dapps

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeOrigin validates that raw is a bare http(s) origin and returns it in
// canonical form (lowercase scheme and host, no trailing slash).
func NormalizeOrigin(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("origin is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %w", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("invalid origin %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid origin %q: missing host", raw)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return "", fmt.Errorf("invalid origin %q: must not carry a path, query, fragment or credentials", raw)
	}
	return scheme + "://" + strings.ToLower(u.Host), nil
}

// OriginOf returns the origin of an absolute http(s) URL.
func OriginOf(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid url %q: expected an absolute http(s) url", rawURL)
	}
	return scheme + "://" + strings.ToLower(u.Host), nil
}

// DefaultAlias derives a display name from an origin.
func DefaultAlias(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return origin
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
