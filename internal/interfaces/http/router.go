// Package http assembles the viewer's HTTP surface: pages, the session API,
// the event websocket, probes and metrics.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ertviz/internal/interfaces/http/handlers"
	"github.com/turtacn/ertviz/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handlers and middleware of the route tree.
// Nil handlers leave their routes unmounted.
type RouterConfig struct {
	ViewerHandler  *handlers.ViewerHandler
	SessionHandler *handlers.SessionHandler
	HealthHandler  *handlers.HealthHandler

	// Metrics records every request; MetricsHandler is mounted on
	// MetricsPath (default /metrics).
	Metrics        middleware.HTTPRecorder
	MetricsHandler http.Handler
	MetricsPath    string

	Logger logging.Logger
}

// NewRouter builds the route tree.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Logger != nil {
		r.Use(middleware.RequestLogging(cfg.Logger, middleware.DefaultLoggingConfig()))
	}
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	if h := cfg.HealthHandler; h != nil {
		r.Get("/healthz", h.Liveness)
		r.Get("/readyz", h.Readiness)
	}

	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsHandler)
	}

	if h := cfg.ViewerHandler; h != nil {
		r.Get("/", h.Overview)
		r.Get(handlers.ViewerPath, h.Viewer)
	}

	if cfg.ViewerHandler == nil && cfg.SessionHandler == nil {
		return r
	}
	r.Route(handlers.APIBase, func(api chi.Router) {
		if h := cfg.ViewerHandler; h != nil {
			api.Get("/ensembles", h.ListEnsembles)
		}
		registerSessionRoutes(api, cfg.SessionHandler)
	})

	return r
}

// registerSessionRoutes mounts the viewer session endpoints under /sessions.
func registerSessionRoutes(r chi.Router, h *handlers.SessionHandler) {
	if h == nil {
		return
	}
	r.Route("/sessions", func(sr chi.Router) {
		sr.Post("/", h.Create)

		sr.Route("/{sessionID}", func(item chi.Router) {
			item.Post("/query", h.Query)
			item.Put("/response", h.SetResponse)
			item.Put("/selection", h.SetSelection)
			item.Get("/figure", h.Figure)
			item.Get("/figure.png", h.FigurePNG)
			item.Post("/snapshot", h.Snapshot)
			item.Get("/ws", h.Stream)
		})
	})
}
