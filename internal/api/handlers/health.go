package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gridsight/arbiter-api/internal/db"
	"github.com/gridsight/arbiter-api/internal/queue"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db     *db.DB
	queue  *queue.Queue
	logger *slog.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(database *db.DB, q *queue.Queue, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		db:     database,
		queue:  q,
		logger: logger.With("handler", "health"),
	}
}

// Health reports process liveness.
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports whether the database and queue are reachable.
// GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"database": "ok",
		"queue":    "ok",
	}
	status := http.StatusOK

	if err := h.db.Health(r.Context()); err != nil {
		h.logger.Error("database not ready", "error", err)
		checks["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if err := h.queue.Ping(r.Context()); err != nil {
		h.logger.Error("queue not ready", "error", err)
		checks["queue"] = "unavailable"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, checks)
}
