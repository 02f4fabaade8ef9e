// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"ritrovo/internal/adapter/device"
	"ritrovo/internal/config"
	"ritrovo/internal/domain/feed"
	"ritrovo/internal/domain/geo"
	"ritrovo/internal/domain/presence"
	"ritrovo/internal/server/handlers"
)

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.ServerConfig,
	aggregator feed.Aggregator,
	moments feed.Source,
	events feed.Source,
	pageSize int,
	tracker presence.Tracker,
	acquirer geo.Acquirer,
	provider *device.PushProvider,
) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Create handler dependencies
	feedHandler := handlers.NewFeedHandler(aggregator)
	momentsHandler := handlers.NewSourceHandler(moments, pageSize)
	eventsHandler := handlers.NewSourceHandler(events, pageSize)
	presenceHandler := handlers.NewPresenceHandler(tracker)
	locationHandler := handlers.NewLocationHandler(acquirer, provider)

	// Routes
	router.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			// Feed API
			r.Route("/feed", func(r chi.Router) {
				r.Get("/", feedHandler.GetFeed)
				r.Post("/more", feedHandler.LoadMore)
				r.Post("/{id}/join", feedHandler.Join)
				r.Delete("/{id}/join", feedHandler.Leave)
			})

			// Single-source reads, paged by the store
			r.Get("/moments", momentsHandler.GetPage)
			r.Get("/events", eventsHandler.GetPage)

			// Presence API
			r.Route("/presence", func(r chi.Router) {
				r.Get("/nearby", presenceHandler.GetNearby)
				r.Post("/", presenceHandler.Publish)
				r.Post("/offline", presenceHandler.Offline)
			})

			// Location API
			r.Route("/location", func(r chi.Router) {
				r.Get("/", locationHandler.GetState)
				r.Post("/request", locationHandler.Request)
				r.Post("/position", locationHandler.PushPosition)
			})
		})
	})

	// WebSocket endpoint for real-time nearby presence
	router.Get("/ws/presence", handlers.PresenceWebSocketHandler(tracker))

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
