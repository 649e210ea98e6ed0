package webmeta

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/rabbyhub/desktop-ipc/pkg/dapps"
	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

// Meta keys consulted for the preview image, in order.
var previewKeys = []string{"og:image", "og:image:url", "twitter:image", "twitter:image:src"}

// ParseFavicon fetches rawURL and resolves its best icon. The icon is embedded
// as a data URL when it is no larger than the configured limit.
func (i *Inspector) ParseFavicon(ctx context.Context, rawURL string) (*ipc.ParsedFavicon, error) {
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()

	p, err := i.fetchPage(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return i.favicon(ctx, p), nil
}

// PreviewImage returns the absolute URL of the page's preview image, or ""
// when the page declares none.
func (i *Inspector) PreviewImage(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()

	p, err := i.fetchPage(ctx, rawURL)
	if err != nil {
		return "", err
	}
	for _, key := range previewKeys {
		if v, ok := p.metas[key]; ok {
			if abs, err := resolve(p.url, v); err == nil {
				return abs, nil
			}
		}
	}
	return "", nil
}

// Detect probes rawURL and reports where it lands and what it looks like.
// Failures are classified into the result; already-registered origins are
// not checked here.
func (i *Inspector) Detect(ctx context.Context, rawURL string) ipc.DappsDetectResult {
	inputOrigin, err := dapps.OriginOf(rawURL)
	if err != nil {
		return detectFailure(ipc.DetectErrorInaccessible, err)
	}

	ctx, cancel := i.withTimeout(ctx)
	defer cancel()

	p, err := i.fetchPage(ctx, inputOrigin)
	if err != nil {
		slog.Info(fmt.Sprintf("%s - detect %s failed: %v", logPrefix, inputOrigin, err))
		return detectFailure(classify(err), err)
	}

	finalOrigin, err := dapps.OriginOf(p.url.String())
	if err != nil {
		return detectFailure(ipc.DetectErrorInaccessible, err)
	}
	alias := dapps.DefaultAlias(finalOrigin)
	if title, ok := p.metas["og:site_name"]; ok {
		alias = title
	}
	return ipc.DappsDetectResult{Data: &ipc.DetectedDapp{
		InputOrigin:      inputOrigin,
		FinalOrigin:      finalOrigin,
		RecommendedAlias: alias,
		Icon:             i.favicon(ctx, p),
	}}
}

func detectFailure(kind string, err error) ipc.DappsDetectResult {
	return ipc.DappsDetectResult{Error: &ipc.DetectError{Type: kind, Message: err.Error()}}
}

func classify(err error) string {
	switch {
	case isCertError(err):
		return ipc.DetectErrorCertInvalid
	case isTimeout(err):
		return ipc.DetectErrorTimeout
	default:
		return ipc.DetectErrorInaccessible
	}
}

// favicon picks the largest declared icon, falling back to /favicon.ico.
func (i *Inspector) favicon(ctx context.Context, p *page) *ipc.ParsedFavicon {
	var best *iconLink
	bestSize := -1
	for idx := range p.icons {
		if size := iconSize(p.icons[idx].sizes); size > bestSize {
			best, bestSize = &p.icons[idx], size
		}
	}

	info := &ipc.IconInfo{Href: "/favicon.ico", Rel: "icon"}
	if best != nil {
		info = &ipc.IconInfo{Href: best.href, Rel: best.rel, Sizes: best.sizes, Type: best.typ}
	}
	abs, err := resolve(p.url, info.Href)
	if err != nil {
		return &ipc.ParsedFavicon{IconInfo: info}
	}
	info.Href = abs

	fav := &ipc.ParsedFavicon{IconInfo: info, FaviconURL: abs}
	if data, err := i.embed(ctx, abs, info.Type); err == nil {
		fav.FaviconBase64 = data
	} else {
		slog.Debug(fmt.Sprintf("%s - icon %s not embedded: %v", logPrefix, abs, err))
	}
	return fav
}

var errIconTooLarge = errors.New("icon exceeds size limit")

// embed downloads an icon and returns it as a data URL.
func (i *Inspector) embed(ctx context.Context, iconURL, declaredType string) (string, error) {
	if strings.HasPrefix(iconURL, "data:") {
		return iconURL, nil
	}
	resp, err := i.get(ctx, iconURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(i.maxIconSize)+1))
	if err != nil {
		return "", err
	}
	if len(body) > i.maxIconSize {
		return "", errIconTooLarge
	}

	ctype := declaredType
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && strings.HasPrefix(mt, "image/") {
		ctype = mt
	}
	if ctype == "" {
		ctype = http.DetectContentType(body)
	}
	return "data:" + ctype + ";base64," + base64.StdEncoding.EncodeToString(body), nil
}

func resolve(base *url.URL, ref string) (string, error) {
	if strings.HasPrefix(ref, "data:") {
		return ref, nil
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(r).String(), nil
}
