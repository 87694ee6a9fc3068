// Package health exposes liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tienda-labs/backend-tienda/internal/common"
)

// Handler answers health probes. Ready checks the dependencies the
// request path cannot work without.
type Handler struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// Register mounts /health/live and /health/ready.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health/live", h.live)
	r.Get("/health/ready", h.ready)
}

func (h *Handler) live(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"postgres": "ok", "redis": "ok"}
	healthy := true

	if h.Pool == nil {
		checks["postgres"] = "not configured"
		healthy = false
	} else if err := h.Pool.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	}
	if h.Redis == nil {
		checks["redis"] = "not configured"
		healthy = false
	} else if err := h.Redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	common.JSON(w, status, map[string]any{"checks": checks})
}
