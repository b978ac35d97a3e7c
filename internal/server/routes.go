// Package server wires HTTP handlers into a chi router for the chat
// application via routing helpers.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures the application routes: health check, WebSocket
// endpoint, test page, message history API and, when gatherer is non-nil,
// Prometheus metrics.
func SetupRoutes(h *Hub, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.HandleFunc("/", HealthHandler)
	r.HandleFunc("/ws", h.WebSocketHandler)
	r.Get("/test", TestPageHandler)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/messages", func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Get("/{userId}", h.HistoryHandler)
		r.Post("/", h.PostMessageHandler)
	})
	return r
}
