package api

import (
	"net/http"
)

// Index answers the bare root so load balancers and humans get a signal
// without crafting a config URL.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "cinemux",
		"status":  "ok",
	})
}

// Healthz handles GET /healthz: probe every dependency and report 200
// when the instance can serve, 503 when any dependency is down.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	report := h.checker.Run(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
