// voxagent - autonomous tool-using agent orchestrator
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/voxagent/voxagent/internal/api"
	"github.com/voxagent/voxagent/internal/broadcast"
	"github.com/voxagent/voxagent/internal/config"
	"github.com/voxagent/voxagent/internal/gateway"
	"github.com/voxagent/voxagent/internal/middleware"
	"github.com/voxagent/voxagent/internal/orchestrator"
	"github.com/voxagent/voxagent/internal/session"
	"github.com/voxagent/voxagent/internal/store"
	"github.com/voxagent/voxagent/internal/tools"
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

	gw := gateway.NewOpenAIGateway(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Name)
	slog.Info("Model gateway initialized", "model", cfg.Model.Name)

	executor := tools.NewHTTPExecutor(cfg.Tools.ProviderURL, cfg.Tools.Timeout)

	classifierOpts := []orchestrator.ClassifierOption{}
	if cfg.Orchestrator.VerifyCompletion {
		verifier := gateway.NewLLMVerifier(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Name)
		classifierOpts = append(classifierOpts, orchestrator.WithVerifier(verifier))
		slog.Info("Completion verification enabled")
	}
	classifier := orchestrator.NewClassifier(classifierOpts...)

	sessions := session.NewStore()
	gate := orchestrator.NewGate(cfg.Orchestrator.ApprovalTimeout)
	broadcaster := broadcast.NewBroadcaster(cfg.Orchestrator.EventBuffer)
	defer broadcaster.Close()

	orch := orchestrator.New(sessions, gw, executor, classifier, gate, broadcaster,
		cfg.Orchestrator,
		orchestrator.WithTranscriptSink(repo),
		orchestrator.WithGatewayRetries(cfg.Model.MaxRetries),
	)

	// Initialize handlers.
	handler := api.NewHandler(orch, sessions, repo, cfg)
	wsHandler := broadcast.NewWSHandler(broadcaster, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	r.Get("/health", handler.HandleHealth)
	handler.RegisterRoutes(r)

	// WebSocket event feed.
	r.Get("/ws/events", wsHandler.ServeHTTP)

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the session sweeper.
	session.StartSweeper(ctx, sessions, cfg.Sweep.Interval, cfg.Sweep.Retention, nil)

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

	stopped := orch.StopAll()
	slog.Info("Cancelled active sessions", "count", stopped)
	orch.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
