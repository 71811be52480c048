package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system/status", s.handleSystemStatus)

		// Device inventory
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleCreateDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Patch("/", s.handleUpdateDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Get("/accounts", s.handleListDeviceAccounts)
			})
		})

		// Publishing accounts
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleCreateAccount)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAccount)
				r.Patch("/", s.handleUpdateAccount)
				r.Delete("/", s.handleDeleteAccount)
			})
		})

		// Content catalogue
		r.Route("/content", func(r chi.Router) {
			r.Route("/items", func(r chi.Router) {
				r.Get("/", s.handleListContentItems)
				r.Post("/", s.handleCreateContentItem)
				r.Get("/{id}", s.handleGetContentItem)
				r.Delete("/{id}", s.handleDeleteContentItem)
			})

			r.Route("/audiences", func(r chi.Router) {
				r.Get("/", s.handleListAudiences)
				r.Post("/", s.handleCreateAudience)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetAudience)
					r.Patch("/", s.handleUpdateAudience)
					r.Delete("/", s.handleDeleteAudience)
				})
			})
		})

		// Carousel definitions
		r.Route("/carousels", func(r chi.Router) {
			r.Get("/", s.handleListCarousels)
			r.Post("/", s.handleCreateCarousel)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCarousel)
				r.Patch("/", s.handleUpdateCarousel)
				r.Delete("/", s.handleDeleteCarousel)
				r.Post("/activate", s.handleActivateCarousel)
			})
		})

		// Runs
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Post("/cancel", s.handleCancelRun)
				r.Post("/resume", s.handleResumeRun)
				r.Get("/events", s.handleListRunEvents)
			})
		})

		// Audit trail
		r.Get("/audit", s.handleListAuditLogs)

		// WebSocket feed
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
