package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"drive-proxy-go/internal/config"
	"drive-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The local
// plumbing endpoints are registered as static routes, which take precedence
// over the catch-all proxy route.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)
	e.POST("/proxy/cookies/clear", health.ClearCookies)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	// Everything else is proxy surface; dispatch inside is by method only.
	e.Any("/*", proxy.Handle)
}
