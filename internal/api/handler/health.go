package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/portalgate/internal/api/response"
)

// Pinger is satisfied by the store and the cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MetricsSnapshotter reads back in-process counters.
type MetricsSnapshotter interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// NewHealthHandler checks database and cache connectivity.
func NewHealthHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := cache.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

// NewMetricsHandler returns an http.HandlerFunc for GET /api/v1/admin/metrics.
func NewMetricsHandler(m MetricsSnapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := m.Snapshot(r.Context())
		if err != nil {
			slog.Error("collecting metrics", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to collect metrics", nil)
			return
		}
		response.JSON(w, snap)
	}
}
