package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"drive-proxy-go/internal/client"
	"drive-proxy-go/internal/config"
	"drive-proxy-go/internal/cookiejar"
	"drive-proxy-go/internal/service"
)

func testConfig(upstreamURL string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			Origin:          upstreamURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
		Inject: []config.InjectedHeader{
			{Name: "x-pm-appversion", Value: "linux-drive@1.0.0"},
			{Name: "x-pm-apiversion", Value: "3"},
		},
	}
}

// newTestEcho wires an Echo instance with the full handler chain against
// the given upstream URL, sharing the returned jar.
func newTestEcho(t *testing.T, upstreamURL string) (*echo.Echo, *cookiejar.Jar) {
	t.Helper()

	cfg := testConfig(upstreamURL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jar := cookiejar.New()

	uc := client.NewUpstreamClient(cfg, logger, nil)
	fwd, err := service.NewForwarder(uc, jar, cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}

	proxy := NewProxyHandler(fwd, logger, nil)
	health := NewHealthHandler(cfg, "test", jar, nil)

	e := echo.New()
	RegisterRoutes(e, cfg, nil, proxy, health)
	return e, jar
}

func TestProxyHandler_Preflight(t *testing.T) {
	var upstreamHits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		upstreamHits++
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	e, _ := newTestEcho(t, upstream.URL)

	req := httptest.NewRequest(http.MethodOptions, "/api/v4/auth", http.NoBody)
	req.Header.Set("Origin", "http://localhost")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "86400" {
		t.Errorf("Access-Control-Max-Age = %q, want 86400", got)
	}
	if upstreamHits != 0 {
		t.Errorf("upstream hits = %d, want 0: preflight must be answered locally", upstreamHits)
	}
}

func TestProxyHandler_ForwardRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Pm-Apiversion"); got != "3" {
			t.Errorf("x-pm-apiversion = %q, want 3", got)
		}
		if got := r.Header.Get("Cookie"); got != "" {
			t.Errorf("Cookie = %q, want none on first request", got)
		}
		w.Header().Set("Set-Cookie", "AUTH-abc=xyz; Path=/; Secure; HttpOnly")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"Code":1000}`))
	}))
	defer upstream.Close()

	e, jar := newTestEcho(t, upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/api/auth", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Values("Set-Cookie"); len(got) != 0 {
		t.Errorf("Set-Cookie leaked downstream: %v", got)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); got != "*" {
		t.Errorf("Access-Control-Expose-Headers = %q, want *", got)
	}
	if rec.Body.String() != `{"Code":1000}` {
		t.Errorf("body = %q", rec.Body.String())
	}
	if v, _ := jar.Get("AUTH-abc"); v != "xyz" {
		t.Errorf("jar[AUTH-abc] = %q, want xyz", v)
	}
}

func TestProxyHandler_CookieReplayAcrossRequests(t *testing.T) {
	var secondCookie string
	var call int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call++
		if call == 1 {
			w.Header().Add("Set-Cookie", "AUTH-abc=xyz")
			w.Header().Add("Set-Cookie", "SID=123")
		} else {
			secondCookie = r.Header.Get("Cookie")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	e, _ := newTestEcho(t, upstream.URL)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth", strings.NewReader(`{}`)))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/core/v4/me", http.NoBody))

	// Order within the header is unspecified.
	if secondCookie != "AUTH-abc=xyz; SID=123" && secondCookie != "SID=123; AUTH-abc=xyz" {
		t.Errorf("Cookie = %q, want both learned cookies", secondCookie)
	}
}

func TestProxyHandler_UpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	upstream.Close() // connect errors from here on

	e, _ := newTestEcho(t, upstream.URL)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/core/v4/me", http.NoBody))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if !strings.HasPrefix(rec.Body.String(), "Proxy error:") {
		t.Errorf("body = %q, want prefix %q", rec.Body.String(), "Proxy error:")
	}
}

func TestProxyHandler_RedirectPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			t.Error("redirect was followed")
		}
		w.Header().Set("Location", "/login")
		w.WriteHeader(http.StatusFound)
	}))
	defer upstream.Close()

	e, _ := newTestEcho(t, upstream.URL)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/sessions", http.NoBody))

	if rec.Code != http.StatusFound {
		t.Errorf("status = %d, want 302", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/login" {
		t.Errorf("Location = %q, want /login", got)
	}
}

func TestProxyHandler_QueryForwarded(t *testing.T) {
	var gotRawQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRawQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	e, _ := newTestEcho(t, upstream.URL)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/core/v4/events?Page=2&PageSize=50", http.NoBody))

	if gotRawQuery != "Page=2&PageSize=50" {
		t.Errorf("raw query = %q, want forwarded verbatim", gotRawQuery)
	}
}

func TestHealthAndCookieClear(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	e, jar := newTestEcho(t, upstream.URL)
	jar.Set("AUTH-abc", "xyz")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /healthz status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /proxy/status status = %d, want 200", rec.Code)
	}
	var status map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("status payload: %v", err)
	}
	if status["cookie_count"] != float64(1) {
		t.Errorf("cookie_count = %v, want 1", status["cookie_count"])
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/proxy/cookies/clear", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /proxy/cookies/clear status = %d, want 200", rec.Code)
	}
	if jar.Len() != 0 {
		t.Errorf("jar size after clear = %d, want 0", jar.Len())
	}
}

func TestRegisterRoutes_UnknownPathIsForwarded(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	e, _ := newTestEcho(t, upstream.URL)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/index.js", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if gotPath != "/assets/index.js" {
		t.Errorf("upstream path = %q, want catch-all forwarding", gotPath)
	}
}
