// Package web serves the runtime over HTTP: component descriptions, commands
// built from JSON overrides, awaits on the event queue, link status and
// prometheus metrics.
package web

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mbocsi/scryer/services"
)

type WebClient struct {
	services *services.ServiceContainer
	stream   *Stream
	metrics  http.Handler
	logger   *slog.Logger
}

type Option func(*WebClient)

// WithStream serves live events from s at /api/events/stream.
func WithStream(s *Stream) Option {
	return func(w *WebClient) { w.stream = s }
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(w *WebClient) { w.metrics = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *WebClient) { w.logger = l }
}

func NewWebClient(serviceContainer *services.ServiceContainer, opts ...Option) *WebClient {
	w := &WebClient{
		services: serviceContainer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Routes returns the HTTP routes of the runtime
func (w *WebClient) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", w.HandleHealth)
	if w.metrics != nil {
		r.Handle("/metrics", w.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/components", w.HandleComponents)
		r.Get("/components/{name}", w.HandleComponentDetail)
		r.Get("/components/{name}/latest", w.HandleLatest)
		r.Post("/components/{name}/state", w.HandleChangeState)
		r.Post("/components/{name}/reset", w.HandleResetState)
		r.Post("/components/{name}/shutdown", w.HandleShutdownComponent)
		r.Get("/components/{name}/params", w.HandleGetParameters)
		r.Put("/components/{name}/params", w.HandleSetParameters)

		r.Post("/lock", w.HandleLock)
		r.Delete("/lock", w.HandleUnlock)

		r.Post("/await", w.HandleAwait)
		r.Get("/events", w.HandleQueue)
		r.Delete("/events", w.HandlePurge)
		if w.stream != nil {
			r.Get("/events/stream", w.stream.ServeHTTP)
		}

		r.Get("/links", w.HandleLinks)

		r.Route("/apparatus", func(r chi.Router) {
			r.Post("/feed", w.HandleFeed)
			r.Post("/cue", w.HandleCue)
			r.Delete("/cue", w.HandleCuesOff)
			r.Post("/light", w.HandleLight)
			r.Post("/play", w.HandlePlay)
			r.Post("/stop", w.HandleStop)
		})
	})
	return r
}
