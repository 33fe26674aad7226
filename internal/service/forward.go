// Package service implements the core forwarding logic: one downstream
// request becomes one upstream request, with header scrubbing, cookie
// replay and harvest, fixed header injection, and CORS decoration.
package service

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"drive-proxy-go/internal/client"
	"drive-proxy-go/internal/config"
	"drive-proxy-go/internal/cookiejar"
	"drive-proxy-go/internal/metrics"
	"drive-proxy-go/internal/model"
)

// deniedRequestHeaders are never copied from the downstream request.
// Lowercased names: hop-by-hop headers, the local origin's identity, and
// cookies (replaced by the jar's synthesized Cookie header).
// Accept-Encoding is also withheld so the transport negotiates compression
// itself and hands back a decoded body, which is what makes dropping
// Content-Encoding from the response sound.
var deniedRequestHeaders = map[string]bool{
	"host":              true,
	"connection":        true,
	"keep-alive":        true,
	"transfer-encoding": true,
	"te":                true,
	"trailer":           true,
	"upgrade":           true,
	"origin":            true,
	"referer":           true,
	"cookie":            true,
	"accept-encoding":   true,
}

// deniedResponseHeaders are never copied from the upstream response.
// Set-Cookie is harvested into the jar and must not reach the webview;
// the encoding headers no longer describe the re-emitted buffered body.
var deniedResponseHeaders = map[string]bool{
	"transfer-encoding": true,
	"content-encoding":  true,
	"set-cookie":        true,
}

// responseCORSHeaders decorate every forwarded response. Permissive on
// purpose: the listener is loopback-only and trusts its clients.
var responseCORSHeaders = [][2]string{
	{"Access-Control-Allow-Origin", "*"},
	{"Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH"},
	{"Access-Control-Allow-Headers", "*"},
	{"Access-Control-Allow-Credentials", "true"},
	{"Access-Control-Expose-Headers", "*"},
}

// Forwarder translates downstream requests into upstream requests and back,
// mutating the shared cookie jar along the way.
type Forwarder struct {
	client  *client.UpstreamClient
	jar     *cookiejar.Jar
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	origin  string // upstream origin, trailing slash trimmed
}

// NewForwarder creates a Forwarder. The metrics parameter is optional;
// pass nil to disable jar-size tracking.
func NewForwarder(c *client.UpstreamClient, jar *cookiejar.Jar, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Forwarder, error) {
	u, err := url.Parse(cfg.Upstream.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse upstream origin: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream origin %q has no host", cfg.Upstream.Origin)
	}

	return &Forwarder{
		client:  c,
		jar:     jar,
		cfg:     cfg,
		logger:  logger.With("component", "forwarder"),
		metrics: m,
		origin:  strings.TrimSuffix(cfg.Upstream.Origin, "/"),
	}, nil
}

// Forward sends one request upstream and returns the filtered, decorated
// response with its body fully buffered. Transport-level failures are
// returned as errors for the handler to map to 502.
func (f *Forwarder) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	upstreamURL := f.buildUpstreamURL(pr.Path, pr.RawQuery)
	header := f.copyRequestHeaders(pr.Header)

	if cookie, ok := f.jar.HeaderValue(); ok {
		header.Set("Cookie", cookie)
	}

	// Fixed headers go last; a client-supplied header of the same name
	// survives alongside (multimap append).
	for _, h := range f.cfg.Inject {
		header.Add(h.Name, h.Value)
	}

	// GET and HEAD carry no body. Everything else forwards the buffered
	// downstream bytes verbatim; Content-Length comes from the reader.
	var body io.Reader
	if pr.Method != http.MethodGet && pr.Method != http.MethodHead {
		body = bytes.NewReader(pr.Body)
	}

	f.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := f.client.Do(pr.Ctx, pr.Method, upstreamURL, header, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	// Harvest before anything is written downstream, so a redirect's
	// cookies are in the jar even though the 3xx goes straight through.
	if stored := f.jar.HarvestFrom(resp.Header); stored > 0 {
		f.logger.Debug("harvested cookies", "count", stored, "jar_size", f.jar.Len())
	}
	if f.metrics != nil {
		f.metrics.CookieJarEntries.Set(float64(f.jar.Len()))
	}

	outHeader := filterResponseHeaders(resp.Header)
	for _, h := range responseCORSHeaders {
		outHeader.Add(h[0], h[1])
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     outHeader,
		Body:       respBody,
	}, nil
}

// buildUpstreamURL concatenates origin, verbatim path, and raw query.
// No normalization and no percent re-encoding happen here.
func (f *Forwarder) buildUpstreamURL(path, rawQuery string) string {
	if rawQuery == "" {
		return f.origin + path
	}
	return f.origin + path + "?" + rawQuery
}

// copyRequestHeaders copies downstream headers not on the denylist.
// Values that are not valid UTF-8 are skipped silently.
func (f *Forwarder) copyRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if deniedRequestHeaders[strings.ToLower(key)] {
			continue
		}
		for _, v := range vals {
			if !utf8.ValidString(v) {
				continue
			}
			dst.Add(key, v)
		}
	}
	return dst
}

// filterResponseHeaders copies upstream response headers not on the denylist.
func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if deniedResponseHeaders[strings.ToLower(key)] {
			continue
		}
		dst[http.CanonicalHeaderKey(key)] = vals
	}
	return dst
}
