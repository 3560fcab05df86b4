package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter wires middleware and all HTTP routes.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/metrics", s.metrics.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system/status", s.handleSystemStatus)

		r.Post("/refresh", s.handleRefresh)
		r.Post("/discover", s.handleDiscover)

		r.Route("/units", func(r chi.Router) {
			r.Get("/", s.handleListUnits)
			r.Route("/{unitID}", func(r chi.Router) {
				r.Get("/", s.handleGetUnit)
				r.Post("/power", s.handleSetPower)
				r.Post("/mode", s.handleSetMode)
				r.Post("/temperature", s.handleSetTemperature)
				r.Post("/fan", s.handleSetFanSpeed)
			})
		})
	})

	wsPath := s.config.API.WebSocket.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}
