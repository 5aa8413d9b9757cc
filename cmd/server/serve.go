package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/intake-chat/internal/api"
	"github.com/ashureev/intake-chat/internal/chat"
	"github.com/ashureev/intake-chat/internal/config"
	"github.com/ashureev/intake-chat/internal/extract"
	"github.com/ashureev/intake-chat/internal/identity"
	"github.com/ashureev/intake-chat/internal/metrics"
	"github.com/ashureev/intake-chat/internal/middleware"
	"github.com/ashureev/intake-chat/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := setupLogger(cfg.LogLevel)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Backend)

	repo, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	pingCtx, cancelPing := context.WithTimeout(parent, 10*time.Second)
	err = repo.Ping(pingCtx)
	cancelPing()
	if err != nil {
		return fmt.Errorf("store health check: %w", err)
	}
	slog.Info("Store connected", "backend", cfg.Store.Backend)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	chatModel, err := extract.NewOpenAIModel(parent, extract.ModelConfig{
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
		BaseURL: cfg.OpenAI.BaseURL,
		Timeout: cfg.OpenAI.Timeout,
	})
	if err != nil {
		return err
	}
	gateway := extract.NewGateway(chatModel, cfg.OpenAI.Timeout, m, logger)
	slog.Info("Extraction model ready", "model", cfg.OpenAI.Model)

	registry := chat.NewRegistry()
	chatHandler := chat.NewHandler(repo, gateway, registry, chat.Options{
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		TurnTimeout:   cfg.TurnTimeout,
		Metrics:       m,
		Logger:        logger,
	})
	healthHandler := api.NewHealthHandler(repo, cfg.Store.Backend)

	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	r.Route("/api", func(r chi.Router) {
		healthHandler.RegisterHealth(r)
	})
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	// The original client connects with a trailing slash.
	r.Get("/ws/chat", chatHandler.ServeHTTP)
	r.Get("/ws/chat/", chatHandler.ServeHTTP)

	// Serve embedded chat page (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: WebSocket connections are long lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	stop()

	slog.Info("Shutting down gracefully...", "open_connections", registry.Len())
	registry.CloseAll("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
