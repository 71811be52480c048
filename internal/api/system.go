package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nerrad567/carousel-core/internal/carousel"
)

// healthCheckTimeout bounds each component probe in the status response.
const healthCheckTimeout = 2 * time.Second

// handleSystemStatus returns a summary of the whole installation:
// entity counts, active run phases, component health, and uptime.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	}

	counts := map[string]any{}
	if s.devices != nil {
		if devices, err := s.devices.List(ctx); err == nil {
			counts["devices"] = len(devices)
		}
	}
	if s.accounts != nil {
		if accounts, err := s.accounts.List(ctx); err == nil {
			active := 0
			for _, a := range accounts {
				if a.Active {
					active++
				}
			}
			counts["accounts"] = len(accounts)
			counts["accounts_active"] = active
		}
	}
	if s.content != nil {
		if items, err := s.content.ListItems(ctx); err == nil {
			counts["content_items"] = len(items)
		}
	}
	if carousels, err := s.carousels.ListCarousels(ctx); err == nil {
		counts["carousels"] = len(carousels)
	}
	status["counts"] = counts

	if runs, err := s.carousels.LoadActiveRuns(ctx); err == nil {
		byPhase := map[carousel.Phase]int{}
		liveItems := 0
		for i := range runs {
			byPhase[runs[i].Phase]++
			liveItems += len(runs[i].LiveItems)
		}
		status["runs"] = map[string]any{
			"active":     len(runs),
			"by_phase":   byPhase,
			"live_items": liveItems,
		}
	}

	if len(s.checks) > 0 {
		components := make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			if err := check.HealthCheck(checkCtx); err != nil {
				components[name] = err.Error()
				status["status"] = "degraded"
			} else {
				components[name] = "ok"
			}
			cancel()
		}
		status["components"] = components
	}

	if s.hub != nil {
		status["websocket_clients"] = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, status)
}
