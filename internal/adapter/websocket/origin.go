package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy lists the front ends allowed to follow the crowd over a
// websocket. Requests without an Origin header come from non-browser
// clients and are always admitted.
type OriginPolicy struct {
	AppURL     string
	Extra      []string
	AllowLocal bool
}

// NewCheckOrigin compiles policy into the upgrader's origin check.
func NewCheckOrigin(policy OriginPolicy) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(policy.Extra)+1)
	for _, raw := range append([]string{policy.AppURL}, policy.Extra...) {
		if o := canonicalOrigin(raw); o != "" {
			allowed[o] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed[canonicalOrigin(origin)]; ok {
			return true
		}
		if policy.AllowLocal && isLoopbackOrigin(origin) {
			return true
		}

		slog.WarnContext(r.Context(), "Spectator origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

// canonicalOrigin reduces a URL to lower-case scheme://host[:port].
func canonicalOrigin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
