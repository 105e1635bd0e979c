package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{serial}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/parameters/{name}", s.handleGetParameter)
				r.Get("/widgets/{template}", s.handleGetWidget)
				r.Post("/power", s.handleSetPower)
				r.Post("/circuits/{circuit}/power", s.handleSetCircuitPower)
			})
		})

		r.Post("/refresh", s.handleRefresh)

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

// handleHealth reports the server and live feed state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	feed := "offline"
	if s.controller.IsConnected() {
		feed = "online"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"live_feed": feed,
		"devices":   s.controller.Devices().Len(),
	})
}

// wsPath returns the push endpoint path below /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}
