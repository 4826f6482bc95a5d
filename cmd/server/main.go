// Baun - local-first AI tutor server
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

	"github.com/baun-edu/baun-server/internal/api"
	"github.com/baun-edu/baun-server/internal/chat"
	"github.com/baun-edu/baun-server/internal/config"
	"github.com/baun-edu/baun-server/internal/connectivity"
	"github.com/baun-edu/baun-server/internal/gateway"
	"github.com/baun-edu/baun-server/internal/identity"
	"github.com/baun-edu/baun-server/internal/library"
	"github.com/baun-edu/baun-server/internal/middleware"
	"github.com/baun-edu/baun-server/internal/profile"
	"github.com/baun-edu/baun-server/internal/store"
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

	// Transcripts written before role tagging existed cannot be partitioned
	// and are purged at startup.
	purged, err := repo.DeleteConversationsMissingRole(context.Background())
	if err != nil {
		slog.Error("Failed to purge untagged conversations", "error", err)
		os.Exit(1)
	}
	slog.Info("Untagged conversation cleanup complete", "purged", purged)

	// Initialize services.
	monitor := connectivity.NewMonitor(cfg.AssumeOnline)
	tracker := profile.NewTracker(repo)
	guests := identity.NewGuestManager(repo).WithExpiry(cfg.GuestExpiry)
	resolver := identity.NewResolver()

	local := gateway.NewLocalClient(cfg.LocalLLMURL)
	hosted := gateway.NewHostedClient(cfg.HostedAPIURL, cfg.HostedAPIKey)
	gw := gateway.New(local, hosted, monitor, tracker, gateway.Options{
		DisableFallback: cfg.DisableFallback,
	})

	manager := chat.NewManager(repo, gw, monitor)
	defer manager.Close()

	docs := library.New(cfg.LocalLLMURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Expired guest identities also purge lazily on read; the worker keeps
	// long-idle installs from accumulating stale records.
	guests.StartExpiryWorker(ctx, time.Hour)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, manager, guests, resolver, monitor, docs, cfg.FrontendURL)
	healthHandler := api.NewHealthHandler(ctx, repo, local)
	wsHandler := api.NewWebSocketHandler(manager, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(middleware.NewRateLimiter(ctx, 60, time.Minute).Middleware)

	healthHandler.RegisterHealth(r)
	baseHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Create server.
	// Generation against a slow local model can run long; no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

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
