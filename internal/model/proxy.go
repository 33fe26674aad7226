// Package model defines shared types for the proxy.
package model

import (
	"context"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
// The body is fully buffered; the embedded webview issues modestly sized
// API calls and block uploads, never unbounded streams.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	Path     string // escaped path, forwarded verbatim
	RawQuery string // raw query string, may be empty
	Header   http.Header
	Body     []byte
}

// ProxyResponse represents the upstream response after header filtering
// and CORS decoration, ready to be written downstream.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
