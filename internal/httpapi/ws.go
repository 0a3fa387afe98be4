package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/relaypoint/boardsync/internal/bridge"
	"github.com/relaypoint/boardsync/internal/identity"
	"github.com/relaypoint/boardsync/internal/retry"
)

// handleConnect upgrades a guest connection and runs its bridge until
// the socket closes. Origin is validated before the upgrade; the
// platform token arrives with the request because browser websocket
// clients cannot set headers after the handshake.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ident, err := s.identityFor(r)
	if err != nil {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return s.originAllowed(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	b := bridge.New(bridge.Options{
		Channel:     bridge.NewWSChannel(conn),
		Store:       s.store,
		Fields:      s.cfg.Fields,
		Queue:       s.queue,
		Identity:    ident,
		AppID:       s.cfg.AppID,
		LookupRetry: retry.Options{},
	})

	if err := b.Run(r.Context()); err != nil {
		log.Error().Err(err).Msg("bridge terminated with error")
	}
}

// identityFor builds the identity provider for one connection. The
// token comes from the Authorization header or, for browser clients,
// the token query parameter. Dev mode additionally accepts a bare
// X-Debug-Sub header naming the user.
func (s *Server) identityFor(r *http.Request) (identity.Provider, error) {
	token := bearerToken(r)
	if token != "" {
		return identity.NewJWTProvider(func(ctx context.Context) (string, error) {
			return token, nil
		}, s.cfg.JWTSecret), nil
	}

	if s.cfg.DevMode {
		if sub := r.Header.Get("X-Debug-Sub"); sub != "" {
			log.Warn().Str("sub", sub).Msg("dev mode identity from X-Debug-Sub header")
			return &identity.StaticProvider{
				Current:      identity.User{ID: sub},
				CurrentToken: "dev-token",
			}, nil
		}
	}

	return nil, identity.ErrNoToken
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// originAllowed checks the request origin against the allowlist
func (s *Server) originAllowed(r *http.Request) bool {
	// In dev mode, skip origin validation for local development
	if s.cfg.DevMode {
		return true
	}

	// If no allowed origins configured, allow all (WARNING: only safe for local dev)
	if len(s.cfg.AllowedOrigins) == 0 {
		log.Warn().Msg("No allowed origins configured - accepting all origins (unsafe for production)")
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no origin
		return true
	}

	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}

	log.Warn().
		Str("origin", origin).
		Strs("allowedOrigins", s.cfg.AllowedOrigins).
		Msg("rejected connection from disallowed origin")
	return false
}
