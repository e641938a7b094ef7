package main

import (
	"net/http"
	"strings"
)

// Media center clients load manifests and catalogs from whatever origin
// their web UI runs on, so the data surface must answer any origin. The
// admin surface additionally announces the Authorization header for its
// basic-auth credential.
var adminPathPrefixes = []string{"/api/"}

const corsMaxAge = "86400"

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		allowHeaders := "Content-Type"
		if isAdminPath(r.URL.Path) {
			allowHeaders = "Content-Type, Authorization"
		}
		w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
		w.Header().Set("Access-Control-Max-Age", corsMaxAge)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isAdminPath(path string) bool {
	for _, prefix := range adminPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
