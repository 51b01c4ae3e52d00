package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger verifies connectivity to a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	deps   map[string]Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler probing the named dependencies.
func NewHealthHandler(deps map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, logger: logger}
}

// HealthCheck responds with the liveness of the server and each backing
// dependency. A failing dependency degrades the status to 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.deps))
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			h.logger.WarnContext(ctx, "health probe failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{
		"status":    "ok",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}
