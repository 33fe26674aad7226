// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/drive-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Port     int    `kong:"short='p',help='Listen port on loopback (overrides config).',env='PORT'"`
	Upstream string `kong:"help='Upstream API origin (overrides config).',env='UPSTREAM_ORIGIN'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig     `toml:"server"`
	Upstream UpstreamConfig   `toml:"upstream"`
	Inject   []InjectedHeader `toml:"inject"`
	Log      LogConfig        `toml:"log"`
	Metrics  MetricsConfig    `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings. The listen host must be a
// loopback address: the proxy trusts its clients precisely because nothing
// off-machine can reach it.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (9543); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds upstream connection settings. Origin is scheme+host
// plus an optional base path that is concatenated verbatim in front of the
// downstream path. The embedded drive client already prefixes /api, so a
// base path of /api would double it; leave Origin path-less unless the
// client is configured otherwise.
type UpstreamConfig struct {
	Origin          string `toml:"origin"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// InjectedHeader is one fixed header appended to every upstream request.
// Order is preserved from the config file.
type InjectedHeader struct {
	Name  string `toml:"name"`
	Value string `toml:"value"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings. Disabled by default; a
// desktop shell rarely scrapes itself, but the endpoint is there when
// debugging sync traffic.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/drive-proxy/config.toml then configs/config.toml. A missing config
// file is not an error: the defaults describe a working proxy, and the
// desktop shell usually ships without one.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Upstream != "" {
		c.Upstream.Origin = cli.Upstream
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Listen host: empty means the loopback default; anything explicit
	// must itself be loopback.
	if h := c.Server.Host; h != "" && !isLoopbackHost(h) {
		return fmt.Errorf("server.host must be a loopback address; got %q", h)
	}

	// Upstream origin: must parse, and must be HTTPS except toward a
	// loopback upstream (local stubs, httptest servers).
	if c.Upstream.Origin != "" {
		u, err := url.Parse(c.Upstream.Origin)
		if err != nil {
			return fmt.Errorf("upstream.origin is not a valid URL: %w", err)
		}
		switch u.Scheme {
		case "https":
		case "http":
			if !isLoopbackHost(u.Hostname()) {
				return fmt.Errorf("upstream.origin must use HTTPS for non-loopback hosts; got %q", c.Upstream.Origin)
			}
		default:
			return fmt.Errorf("upstream.origin scheme must be http or https; got %q", c.Upstream.Origin)
		}
		if u.Host == "" {
			return fmt.Errorf("upstream.origin has no host: %q", c.Upstream.Origin)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Injected headers.
	for i, h := range c.Inject {
		if strings.TrimSpace(h.Name) == "" {
			return fmt.Errorf("inject[%d]: header name must not be empty", i)
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/proxy"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (9543).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 9543
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 100 * 1024 * 1024 // 100 MB; drive uploads are ~4 MB blocks
	}
	if c.Upstream.Origin == "" {
		c.Upstream.Origin = "https://drive.proton.me"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if len(c.Inject) == 0 {
		c.Inject = defaultInjectedHeaders(c.Upstream.Origin)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// defaultInjectedHeaders returns the fixed header set the upstream API
// expects on every call: client identification plus an Origin/Referer pair
// matching the web client's own origin, so the request looks like it came
// from the hosted page rather than a local webview.
func defaultInjectedHeaders(origin string) []InjectedHeader {
	webOrigin := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		webOrigin = u.Scheme + "://" + u.Host
	}
	return []InjectedHeader{
		{Name: "x-pm-appversion", Value: "linux-drive@1.0.0"},
		{Name: "x-pm-apiversion", Value: "3"},
		{Name: "Origin", Value: webOrigin},
		{Name: "Referer", Value: webOrigin + "/"},
	}
}

// isLoopbackHost reports whether host names the local machine's loopback
// interface.
func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
