// Package http assembles the chi router: shared middleware chain, public
// routes, and the authenticated API surface.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aidbridge/internal/platform/middleware"
)

// Registerer mounts a feature's routes on a router.
type Registerer interface {
	Register(r chi.Router)
}

// RouterConfig wires the feature handlers into one router.
type RouterConfig struct {
	Logger    *slog.Logger
	Validator middleware.TokenValidator

	// Public handlers are mounted without authentication.
	Public []Registerer
	// API handlers are mounted behind bearer-token auth.
	API []Registerer
}

// NewRouter builds the full HTTP surface.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Metadata)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		for _, handler := range cfg.Public {
			handler.Register(r)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(cfg.Validator, cfg.Logger))
		for _, handler := range cfg.API {
			handler.Register(r)
		}
	})

	return r
}
