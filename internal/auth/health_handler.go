// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"context"
	"net/http"
	"time"
)

// healthProbeTimeout bounds each dependency ping.
const healthProbeTimeout = 2 * time.Second

type healthResponse struct {
	Postgres string `json:"postgres"`
	Redis    string `json:"redis"`
}

// CheckHealth handles GET /health. Redis reports "disabled" when not configured.
// Returns 503 if any configured dependency fails its ping.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Postgres: probe(r, "postgres", h.PS), Redis: "disabled"}
	if h.Cache != nil {
		resp.Redis = probe(r, "redis", h.Cache)
	}

	status := http.StatusOK
	if resp.Postgres == "error" || resp.Redis == "error" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func probe(r *http.Request, name string, c HealthChecker) string {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()
	if err := c.CheckHealth(ctx); err != nil {
		logError(r, "health check failed", "dependency", name, "error", err)
		return "error"
	}
	return "ok"
}
