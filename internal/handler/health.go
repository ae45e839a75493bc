// This file implements the health endpoint.
//
// Route:
//   - GET /health -> Health
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// JobStats reports background queue depth per status.
type JobStats interface {
	Stats(ctx context.Context) (map[string]int64, error)
}

// HealthHandler reports process health.
type HealthHandler struct {
	db     Pinger
	jobs   JobStats
	logger *slog.Logger
}

// NewHealthHandler creates a new HealthHandler. jobs may be nil.
func NewHealthHandler(db Pinger, jobs JobStats, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, jobs: jobs, logger: logger}
}

// RegisterRoutes registers the health route on the provided mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string           `json:"status"`
	Database string           `json:"database"`
	Jobs     map[string]int64 `json:"jobs,omitempty"`
}

// Health returns 200 when the database answers and 503 otherwise.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Database: "ok"}
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Error("health check: database unreachable", "error", err)
		resp.Status = "unavailable"
		resp.Database = "unreachable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	if h.jobs != nil {
		stats, err := h.jobs.Stats(ctx)
		if err != nil {
			h.logger.Warn("health check: job stats unavailable", "error", err)
		} else {
			resp.Jobs = stats
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
