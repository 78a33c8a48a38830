package ws

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// IsOriginAllowed validates r.Header["Origin"] against an allow-list.
//
// Allowed entries support:
//   - Full Origin values with scheme, e.g. "https://example.com" or "http://127.0.0.1:5173"
//   - Hostnames, e.g. "example.com"
//   - Wildcard hostnames, e.g. "*.example.com" (matches both example.com and subdomains)
//   - Exact non-standard Origin values, e.g. "null"
//
// If the request has no Origin header, allowNoOrigin controls acceptance.
// Native agents send no Origin header, so relays that serve both browsers and
// agents typically run with allowNoOrigin enabled.
func IsOriginAllowed(r *http.Request, allowed []string, allowNoOrigin bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return allowNoOrigin
	}
	parsed, err := url.Parse(origin)
	host := ""
	hostname := ""
	if err == nil {
		host = parsed.Host
		hostname = parsed.Hostname()
	}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		// An entry with a scheme is a full Origin value match.
		if strings.Contains(entry, "://") {
			if origin == entry {
				return true
			}
			continue
		}
		// "*.example.com" matches both "example.com" and any subdomain.
		// Host comparisons are case-insensitive per RFC 4343.
		if strings.HasPrefix(entry, "*.") {
			base := strings.ToLower(strings.TrimPrefix(entry, "*."))
			h := strings.ToLower(hostname)
			if h != "" && base != "" {
				if h == base || strings.HasSuffix(h, "."+base) {
					return true
				}
			}
			continue
		}
		// A host:port entry compares against the parsed Host, keeping the bare
		// "example.com" form hostname-only while allowing explicit ports.
		if host != "" {
			if _, _, err := net.SplitHostPort(entry); err == nil {
				if strings.EqualFold(host, entry) {
					return true
				}
				continue
			}
		}
		if hostname != "" && strings.EqualFold(hostname, entry) {
			return true
		}
		// Exact string match covers non-standard Origin values (e.g. "null").
		if origin == entry {
			return true
		}
	}
	return false
}

// NewOriginChecker returns a websocket upgrader CheckOrigin function.
func NewOriginChecker(allowed []string, allowNoOrigin bool) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return IsOriginAllowed(r, allowed, allowNoOrigin)
	}
}

// OriginFromURL converts a websocket URL (ws:// or wss://) to an HTTP Origin
// (http(s)://host[:port]).
//
// Clients that dial a relay by ws URL use this to send a stable Origin header.
func OriginFromURL(wsURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(wsURL))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("ws url missing host")
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "wss":
		return "https://" + u.Host, nil
	case "ws":
		return "http://" + u.Host, nil
	default:
		return "", fmt.Errorf("unsupported ws scheme: %s", u.Scheme)
	}
}
