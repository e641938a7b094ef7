package ratelimit

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "x-forwarded-for first hop wins",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1", "X-Real-IP": "198.51.100.2"},
			remoteAddr: "192.0.2.1:4321",
			want:       "203.0.113.7",
		},
		{
			name:       "x-real-ip when no forwarded-for",
			headers:    map[string]string{"X-Real-IP": "198.51.100.2"},
			remoteAddr: "192.0.2.1:4321",
			want:       "198.51.100.2",
		},
		{
			name:       "cf-connecting-ip third",
			headers:    map[string]string{"CF-Connecting-IP": "198.51.100.9"},
			remoteAddr: "192.0.2.1:4321",
			want:       "198.51.100.9",
		},
		{
			name:       "socket address fallback",
			remoteAddr: "192.0.2.1:4321",
			want:       "192.0.2.1",
		},
		{
			name:       "garbage forwarded header falls through",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip"},
			remoteAddr: "192.0.2.1:4321",
			want:       "192.0.2.1",
		},
		{
			name:       "ipv4-mapped ipv6 normalized",
			headers:    map[string]string{"X-Forwarded-For": "::ffff:203.0.113.7"},
			remoteAddr: "192.0.2.1:4321",
			want:       "203.0.113.7",
		},
		{
			name:       "ipv6 loopback collapsed",
			remoteAddr: "[::1]:4321",
			want:       "127.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIdentityFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:1234"

	t.Run("authenticated", func(t *testing.T) {
		id := IdentityFor(r, "user-42")
		if id.Key != "authenticated:user-42" || !id.Authenticated {
			t.Errorf("IdentityFor() = %+v", id)
		}
	})

	t.Run("anonymous", func(t *testing.T) {
		id := IdentityFor(r, "")
		if id.Key != "anonymous:203.0.113.7" || id.Authenticated {
			t.Errorf("IdentityFor() = %+v", id)
		}
	})
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		catalogID string
		hasSearch bool
		want      string
	}{
		{"top", false, TierStandard},
		{"search-movies", false, TierSearch},
		{"movieSEARCH", false, TierSearch},
		{"top", true, TierSearch},
		{"", false, TierStandard},
	}
	for _, tt := range tests {
		if got := TierFor(tt.catalogID, tt.hasSearch); got != tt.want {
			t.Errorf("TierFor(%q, %v) = %q, want %q", tt.catalogID, tt.hasSearch, got, tt.want)
		}
	}
}
