// Aero Chat - streaming chat server
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

	"github.com/ashureev/aero-chat/internal/agent"
	"github.com/ashureev/aero-chat/internal/api"
	"github.com/ashureev/aero-chat/internal/config"
	"github.com/ashureev/aero-chat/internal/events"
	"github.com/ashureev/aero-chat/internal/export"
	"github.com/ashureev/aero-chat/internal/identity"
	"github.com/ashureev/aero-chat/internal/middleware"
	"github.com/ashureev/aero-chat/internal/realtime"
	"github.com/ashureev/aero-chat/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	var responder agent.Responder = &agent.EchoResponder{Delay: 30 * time.Millisecond}
	if cfg.Responder.OllamaURL != "" {
		responder = agent.NewOllamaResponder(cfg.Responder.OllamaURL, cfg.Responder.Model, cfg.Responder.Timeout)
		slog.Info("Ollama responder enabled", "url", cfg.Responder.OllamaURL, "model", cfg.Responder.Model)
	} else {
		slog.Info("AI responder disabled (OLLAMA_URL not set), using echo responder")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.NATSURL != "" {
		nats, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.FeedbackSubject, logger)
		if err != nil {
			slog.Warn("Failed to connect to NATS, feedback will not be published", "error", err)
		} else {
			publisher = nats
			slog.Info("Feedback publishing enabled", "subject", cfg.Events.FeedbackSubject)
		}
	}
	defer publisher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize services.
	hub := realtime.NewHub()
	limiter := realtime.NewRateLimiter(cfg.SendsPerMinute)
	limiter.StartEviction(ctx)

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, publisher, cfg.UploadDir, cfg.ExportDir, cfg.MaxUpload)
	healthHandler := api.NewHealthHandler(repo, hub)
	wsHandler := realtime.NewHandler(realtime.Options{
		Repo:          repo,
		Responder:     responder,
		Publisher:     publisher,
		Exporter:      export.New(cfg.ExportDir),
		Hub:           hub,
		Limiter:       limiter,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		Logger:        logger,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins(), identity.SessionHeaderName))
	r.Use(identity.Middleware(repo))

	healthHandler.RegisterHealth(r)
	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws", wsHandler.ServeHTTP)

	// Replies stream over the socket, so writes have no deadline.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	store.StartTTLWorker(ctx, repo, cfg.SessionTTL, cfg.SweepInterval, hub.CloseSession)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
