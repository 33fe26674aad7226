// Package cookiejar implements the proxy's in-memory cookie store.
//
// The jar stands in for the browser cookie jar the embedded webview does not
// have: Set-Cookie headers from the upstream API are harvested into it, and
// every forwarded request replays the current entries as a single Cookie
// header. Only name and value are kept. Domain, Path, Expires and the other
// attributes are meaningless here because the jar serves exactly one origin
// and lives exactly as long as the process, so the full RFC 6265 machinery
// of net/http/cookiejar would be wrong, not just unnecessary.
package cookiejar

import (
	"errors"
	"net/http"
	"strings"
	"sync"
)

// ErrMalformedCookie is returned when a Set-Cookie value has no name=value
// pair before the first semicolon, or an empty name.
var ErrMalformedCookie = errors.New("malformed Set-Cookie header")

// Jar is a concurrency-safe name→value cookie store. Upserts overwrite;
// entries never expire and are lost on process exit.
type Jar struct {
	mu      sync.RWMutex
	entries map[string]string
}

// New creates an empty Jar.
func New() *Jar {
	return &Jar{entries: make(map[string]string)}
}

// Set stores a cookie, overwriting any previous value for the same name.
// Names are compared byte-exact; no case folding.
func (j *Jar) Set(name, value string) {
	j.mu.Lock()
	j.entries[name] = value
	j.mu.Unlock()
}

// Get returns the value stored under name.
func (j *Jar) Get(name string) (string, bool) {
	j.mu.RLock()
	v, ok := j.entries[name]
	j.mu.RUnlock()
	return v, ok
}

// Len returns the number of stored cookies.
func (j *Jar) Len() int {
	j.mu.RLock()
	n := len(j.entries)
	j.mu.RUnlock()
	return n
}

// Clear removes all entries and returns how many were dropped.
func (j *Jar) Clear() int {
	j.mu.Lock()
	n := len(j.entries)
	j.entries = make(map[string]string)
	j.mu.Unlock()
	return n
}

// Snapshot returns a copy of the current entries.
func (j *Jar) Snapshot() map[string]string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make(map[string]string, len(j.entries))
	for k, v := range j.entries {
		out[k] = v
	}
	return out
}

// HeaderValue assembles the Cookie header value from a consistent snapshot
// of the jar: entries formatted as name=value, joined by "; ". The second
// return is false when the jar is empty and no header should be sent.
// Iteration order is unspecified.
func (j *Jar) HeaderValue() (string, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.entries) == 0 {
		return "", false
	}
	pairs := make([]string, 0, len(j.entries))
	for name, value := range j.entries {
		pairs = append(pairs, name+"="+value)
	}
	return strings.Join(pairs, "; "), true
}

// HarvestFrom parses every Set-Cookie header in h and upserts the results
// under a single write lock, so one response's cookies land atomically with
// respect to other writers. Malformed headers are skipped; the rest of the
// response's cookies are still applied. Returns the number stored.
func (j *Jar) HarvestFrom(h http.Header) int {
	var parsed [][2]string
	for key, vals := range h {
		if !strings.EqualFold(key, "Set-Cookie") {
			continue
		}
		for _, v := range vals {
			name, value, err := ParseSetCookie(v)
			if err != nil {
				continue
			}
			parsed = append(parsed, [2]string{name, value})
		}
	}
	if len(parsed) == 0 {
		return 0
	}

	j.mu.Lock()
	for _, p := range parsed {
		j.entries[p[0]] = p[1]
	}
	j.mu.Unlock()
	return len(parsed)
}

// ParseSetCookie extracts the name and value from a Set-Cookie header value.
// Everything after the first ';' (Domain, Path, Expires, Max-Age, Secure,
// HttpOnly, SameSite) is discarded. Name and value are whitespace-trimmed;
// an empty name is a parse failure, an empty value is not.
func ParseSetCookie(v string) (name, value string, err error) {
	pair := v
	if i := strings.IndexByte(v, ';'); i >= 0 {
		pair = v[:i]
	}

	eq := strings.IndexByte(pair, '=')
	if eq < 0 {
		return "", "", ErrMalformedCookie
	}

	name = strings.TrimSpace(pair[:eq])
	value = strings.TrimSpace(pair[eq+1:])
	if name == "" {
		return "", "", ErrMalformedCookie
	}
	return name, value, nil
}
