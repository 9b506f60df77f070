package session

import (
	"net/http"
	"net/url"
	"strings"
)

// originAllowed implements the upgrade origin policy. An empty allow list
// admits every origin; otherwise the normalized Origin header must match an
// entry, or an entry must be "*".
func originAllowed(r *http.Request, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	origin := normalizeOrigin(r.Header.Get("Origin"))
	if origin == "" {
		return false
	}
	for _, entry := range allowed {
		if entry == "*" || entry == origin {
			return true
		}
	}
	return false
}

// normalizeOrigin lowercases the scheme and host and strips default ports so
// allow-list entries match regardless of how the browser spells the origin.
func normalizeOrigin(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	host := strings.ToLower(u.Host)
	switch scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}
	return scheme + "://" + host
}
