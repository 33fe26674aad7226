package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"drive-proxy-go/internal/config"
	"drive-proxy-go/internal/cookiejar"
	"drive-proxy-go/internal/metrics"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health, status and cookie-control endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	jar     *cookiejar.Jar
	metrics *metrics.Metrics
}

// NewHealthHandler creates a HealthHandler. The metrics parameter is optional.
func NewHealthHandler(cfg *config.Config, v Version, jar *cookiejar.Jar, m *metrics.Metrics) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, jar: jar, metrics: m}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the proxy's configuration and cookie-jar size. Cookie
// names and values are never exposed.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":          "ok",
		"version":         string(h.version),
		"upstream_origin": h.cfg.Upstream.Origin,
		"cookie_count":    h.jar.Len(),
	})
}

// ClearCookies empties the jar. The shell calls this on logout so a fresh
// session starts without stale credentials.
func (h *HealthHandler) ClearCookies(c echo.Context) error {
	n := h.jar.Clear()
	if h.metrics != nil {
		h.metrics.CookieJarEntries.Set(0)
	}
	return c.JSON(http.StatusOK, map[string]int{
		"cleared": n,
	})
}
