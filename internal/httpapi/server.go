// Package httpapi exposes the board sync server over HTTP: a health
// probe and the websocket endpoint guests connect through. Each
// accepted connection gets its own bridge; the save queue is shared so
// writes stay serialized across every connection.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/relaypoint/boardsync/internal/config"
	"github.com/relaypoint/boardsync/internal/record"
	"github.com/relaypoint/boardsync/internal/savequeue"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	cfg   *config.Config
	store record.Store
	queue *savequeue.Queue
}

// New creates the HTTP server surface
func New(cfg *config.Config, store record.Store, queue *savequeue.Queue) *Server {
	return &Server{cfg: cfg, store: store, queue: queue}
}

// Routes creates the HTTP router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health check (unauthenticated)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	// Guest connection endpoint
	r.Get("/v1/board/connect", s.handleConnect)

	log.Info().Msg("HTTP routes registered")
	return r
}
