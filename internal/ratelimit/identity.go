package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// Identity is the key a request is limited under.
type Identity struct {
	Key           string
	Authenticated bool
}

// IdentityFor derives the limit identity: configs carrying a user id are
// limited per user, everything else per normalized client IP.
func IdentityFor(r *http.Request, userID string) Identity {
	if userID != "" {
		return Identity{Key: "authenticated:" + userID, Authenticated: true}
	}
	return Identity{Key: "anonymous:" + ClientIP(r)}
}

// ClientIP extracts the client address, trusting forwarded headers in
// order: X-Forwarded-For (first hop), X-Real-IP, CF-Connecting-IP, then
// the socket address.
func ClientIP(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		first := strings.TrimSpace(strings.Split(v, ",")[0])
		if ip := normalizeIP(first); ip != "" {
			return ip
		}
	}
	if v := r.Header.Get("X-Real-IP"); v != "" {
		if ip := normalizeIP(v); ip != "" {
			return ip
		}
	}
	if v := r.Header.Get("CF-Connecting-IP"); v != "" {
		if ip := normalizeIP(v); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := normalizeIP(host); ip != "" {
		return ip
	}
	return host
}

// normalizeIP canonicalizes an address: IPv4-mapped IPv6 collapses to
// dotted quad, loopback collapses to 127.0.0.1. Returns "" for garbage.
func normalizeIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	if ip.IsLoopback() {
		return "127.0.0.1"
	}
	return ip.String()
}

// TierFor classifies a route: search catalogs or requests carrying a
// search parameter use the stricter search tier.
func TierFor(catalogID string, hasSearch bool) string {
	if hasSearch || strings.Contains(strings.ToLower(catalogID), "search") {
		return TierSearch
	}
	return TierStandard
}
