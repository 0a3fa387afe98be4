package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaypoint/boardsync/internal/config"
	"github.com/relaypoint/boardsync/internal/httpapi"
	"github.com/relaypoint/boardsync/internal/record"
	"github.com/relaypoint/boardsync/internal/savequeue"
)

func main() {
	configPath := flag.String("config", "", "path to JSON configuration file")
	flag.Parse()

	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "boardsync").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Pretty logging for local dev
	if cfg.DevMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open record store")
	}
	defer cleanup()

	// One queue for the whole process keeps writes serialized across
	// every guest connection
	queue := savequeue.New(savequeue.Options{
		Store:      store,
		Fields:     cfg.Fields,
		MaxRetries: cfg.Save.MaxRetries,
		RetryDelay: cfg.Save.RetryDelay(),
	})

	srv := httpapi.New(cfg, store, queue)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections outlive any write deadline
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Str("backend", cfg.Backend).
			Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}

// openStore builds the configured record store backend and returns its
// cleanup function
func openStore(ctx context.Context, cfg *config.Config) (record.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := record.OpenPool(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, err
		}
		store := record.NewPGStore(pool, cfg.UserField())
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		serviceToken := cfg.Store.ServiceToken
		store := record.NewKnackClient(record.KnackClientOptions{
			BaseURL:   cfg.Store.BaseURL,
			AppID:     cfg.AppID,
			APIKey:    cfg.Store.APIKey,
			ObjectKey: cfg.Store.ObjectKey,
			UserField: cfg.UserField(),
			TokenProvider: func(ctx context.Context) (string, error) {
				return serviceToken, nil
			},
		})
		return store, func() {}, nil
	}
}
