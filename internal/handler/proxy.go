package handler

import (
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"drive-proxy-go/internal/metrics"
	"drive-proxy-go/internal/model"
	"drive-proxy-go/internal/service"
)

// preflightHeaders is the constant CORS header set for locally answered
// OPTIONS requests.
var preflightHeaders = [][2]string{
	{"Access-Control-Allow-Origin", "*"},
	{"Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH"},
	{"Access-Control-Allow-Headers", "*"},
	{"Access-Control-Allow-Credentials", "true"},
	{"Access-Control-Max-Age", "86400"},
}

// ProxyHandler serves the catch-all proxy surface: CORS preflights are
// answered locally, everything else goes through the Forwarder.
type ProxyHandler struct {
	forwarder *service.Forwarder
	logger    *slog.Logger
	errlog    *slog.Logger // upstream failures also go to stderr
	metrics   *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(f *service.Forwarder, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		forwarder: f,
		logger:    logger.With("component", "proxy_handler"),
		errlog:    slog.New(slog.NewTextHandler(os.Stderr, nil)),
		metrics:   m,
	}
}

// Handle dispatches on method alone: OPTIONS never reaches the upstream.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	if req.Method == http.MethodOptions {
		return h.preflight(c)
	}

	// The body is fully buffered; BodyLimit middleware bounds its size.
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read request body")
	}

	pr := &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     req.URL.EscapedPath(),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     body,
	}

	resp, err := h.forwarder.Forward(pr)
	if err != nil {
		return h.badGateway(c, err)
	}

	hdr := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			hdr.Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)
	if _, err := c.Response().Write(resp.Body); err != nil {
		// Status already sent; nothing to do but log the truncation.
		h.logger.Error("writing response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// preflight answers an OPTIONS request with 204 and the constant CORS set.
func (h *ProxyHandler) preflight(c echo.Context) error {
	if h.metrics != nil {
		h.metrics.PreflightTotal.Inc()
	}
	hdr := c.Response().Header()
	for _, p := range preflightHeaders {
		hdr.Set(p[0], p[1])
	}
	return c.NoContent(http.StatusNoContent)
}

// badGateway maps an upstream transport failure to 502. The error text is
// surfaced to the client (it is a local, trusted surface) and mirrored to
// stderr. No retry: the embedded client retries at its own discretion.
func (h *ProxyHandler) badGateway(c echo.Context, err error) error {
	h.logger.Error("upstream failure",
		"err", err,
		"path", c.Request().URL.Path,
	)
	h.errlog.Error("upstream failure", "err", err)

	c.Response().Header().Set("Access-Control-Allow-Origin", "*")
	return c.String(http.StatusBadGateway, "Proxy error: "+err.Error())
}
