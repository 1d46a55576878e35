package handlers

import (
	"context"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EventCounters exposes security event delivery counters
type EventCounters interface {
	Dropped() uint64
	SinkFailures() uint64
}

// HealthHandler reports database reachability and event pipeline health
type HealthHandler struct {
	db     HealthChecker
	events EventCounters
}

func NewHealthHandler(db HealthChecker, events EventCounters) *HealthHandler {
	return &HealthHandler{db: db, events: events}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]interface{}{"status": "healthy", "database": "up"}
	if h.events != nil {
		body["security_events_dropped"] = h.events.Dropped()
		body["security_event_sink_failures"] = h.events.SinkFailures()
	}

	if err := h.db.HealthCheck(ctx); err != nil {
		body["status"] = "unhealthy"
		body["database"] = "down"
		pkghttp.WriteJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, body)
}
