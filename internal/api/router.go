// Package api serves the mail-dispatch REST API.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/auth"
)

// RouterConfig holds the dependencies of the API routes.
type RouterConfig struct {
	Store      MessageStore
	Dispatcher Dispatcher
	JWTService *auth.JWTService
	// Quota is optional; nil accepts every message.
	Quota  SendQuota
	Checks []ReadinessCheck
	Log    zerolog.Logger
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(RecoverMiddleware(cfg.Log))

	// Health and metrics endpoints (no auth required)
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(cfg.Checks...))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.JWTAuth(cfg.JWTService))

		r.Post("/messages", SendMessageHandler(cfg.Store, cfg.Dispatcher, cfg.Quota))
		r.Get("/messages/{id}", GetMessageHandler(cfg.Store))
		r.Delete("/messages/{id}", CancelMessageHandler(cfg.Dispatcher))
	})

	return r
}
