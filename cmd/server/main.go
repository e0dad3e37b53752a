package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"review-collab/internal/api"
	"review-collab/internal/auth"
	"review-collab/internal/config"
	"review-collab/internal/db"
	"review-collab/internal/logger"
	"review-collab/internal/repository"
	"review-collab/internal/services"
	"review-collab/internal/services/collaboration"
	"review-collab/internal/telemetry"
)

/*
STARTUP AND SHUTDOWN ORDER

  config -> logger -> tracing -> database (optional) -> snapshot workers
         -> session manager -> HTTP server

Shutdown runs in reverse: stop accepting HTTP, close every socket, drain
pending snapshots, close the database, flush traces.
*/

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", logger.Err(err))
		os.Exit(1)
	}

	log := logger.Setup(cfg.Env)
	log.Info("starting review collaboration server", slog.String("env", cfg.Env))

	if cfg.TracingEnabled {
		shutdownTracing, err := telemetry.InitJaeger("review-collab", cfg.JaegerEndpoint, log)
		if err != nil {
			log.Warn("tracing disabled", logger.Err(err))
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(ctx); err != nil {
					log.Warn("failed to flush traces", logger.Err(err))
				}
			}()
		}
	}

	opts := collaboration.Options{
		RequireAuth:     cfg.RequireAuth,
		Signer:          auth.NewSigner(cfg.SocketSecret),
		SendBuffer:      cfg.SendBuffer,
		MaxMessageBytes: cfg.MaxMessageBytes,
		PingInterval:    cfg.PingInterval,
		PingTimeout:     cfg.PingTimeout,
	}

	var (
		snapshotStore   api.SnapshotStore
		snapshotService *services.SnapshotServiceImpl
	)
	if cfg.PersistenceEnabled() {
		database, err := db.NewGorm(cfg, log)
		if err != nil {
			log.Error("failed to connect to database", logger.Err(err))
			os.Exit(1)
		}
		defer database.Close()

		repo := repository.NewSnapshotRepository(database.DB)
		snapshotService = services.NewSnapshotService(repo, log, cfg.SnapshotWorkers, cfg.SnapshotQueueSize)
		snapshotService.Start()

		opts.Snapshots = snapshotService
		snapshotStore = repo
	} else {
		log.Info("snapshot persistence disabled, sessions live in memory only")
	}

	sessionManager := collaboration.NewSessionManager(log, opts)
	sessionManager.Start()

	wsHandler := collaboration.NewWebSocketHandler(sessionManager, cfg.AllowedOrigin, log)
	handler := api.NewHandler(sessionManager, snapshotStore, wsHandler, log)
	router := api.SetupRoutes(handler, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("server listening",
			slog.String("addr", cfg.Addr()),
			slog.String("websocket", "/ws"),
			slog.Bool("require_auth", cfg.RequireAuth),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", logger.Err(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("server forced to shutdown", logger.Err(err))
	}

	sessionManager.Shutdown()
	if snapshotService != nil {
		snapshotService.Shutdown()
	}

	log.Info("server shutdown complete")
}
