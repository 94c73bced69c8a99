package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// SnapshotSource exposes the current catalog snapshot.
type SnapshotSource interface {
	Snapshot() *domain.CatalogSnapshot
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	catalog   SnapshotSource
	mode      string
	startedAt time.Time
}

// NewHealthHandler creates a HealthHandler reporting on catalog.
func NewHealthHandler(catalog SnapshotSource, mode string) *HealthHandler {
	return &HealthHandler{catalog: catalog, mode: mode, startedAt: time.Now().UTC()}
}

type healthResponse struct {
	Status        string                  `json:"status"`
	Mode          string                  `json:"mode"`
	Timestamp     string                  `json:"timestamp"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Catalog       *domain.SnapshotSummary `json:"catalog,omitempty"`
}

// HealthCheck reports liveness plus a summary of the current snapshot.
// Status is "starting" before the first refresh and "degraded" while the
// snapshot is partial.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	resp := healthResponse{
		Status:        "ok",
		Mode:          h.mode,
		Timestamp:     now.Format(time.RFC3339),
		UptimeSeconds: int64(now.Sub(h.startedAt).Seconds()),
	}

	snap := h.catalog.Snapshot()
	switch {
	case snap == nil:
		resp.Status = "starting"
	default:
		sum := domain.Summarize(snap)
		resp.Catalog = &sum
		if snap.Partial {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
