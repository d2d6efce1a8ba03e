// Package main is the entrypoint for the jobrunner API server.
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

	"github.com/estatedesk/jobrunner/internal/api"
	"github.com/estatedesk/jobrunner/internal/api/handler"
	mw "github.com/estatedesk/jobrunner/internal/api/middleware"
	"github.com/estatedesk/jobrunner/internal/api/response"
	"github.com/estatedesk/jobrunner/internal/cache"
	"github.com/estatedesk/jobrunner/internal/config"
	"github.com/estatedesk/jobrunner/internal/jobconfig"
	"github.com/estatedesk/jobrunner/internal/jobs"
	"github.com/estatedesk/jobrunner/internal/orchestrator"
	"github.com/estatedesk/jobrunner/internal/orchestrator/docker"
	"github.com/estatedesk/jobrunner/internal/orchestrator/mock"
	"github.com/estatedesk/jobrunner/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "orchestrator_mode", cfg.Orchestrator.Mode, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Load workload profiles
	profiles := jobconfig.Defaults()
	if cfg.Jobs.ProfilesPath != "" {
		profiles, err = jobconfig.LoadFile(cfg.Jobs.ProfilesPath)
		if err != nil {
			return fmt.Errorf("load job profiles: %w", err)
		}
		slog.Info("job profiles loaded", "path", cfg.Jobs.ProfilesPath)
	}

	// 6. Create orchestrator client
	orch, err := newOrchestrator(ctx, cfg.Orchestrator.Mode)
	if err != nil {
		return fmt.Errorf("create orchestrator client: %w", err)
	}
	slog.Info("orchestrator ready", "mode", cfg.Orchestrator.Mode)

	// 7. Create store and job service
	pgStore := store.NewPostgresStore(pool)
	jobService := jobs.NewService(pgStore, orch, profiles, redisCache,
		cfg.Callback.BaseURL, cfg.Callback.SigningSecret)

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)
	callbackAuth := mw.NewCallbackAuth(cfg.Callback.SigningSecret)

	deps := api.Dependencies{
		Auth:         auth,
		RateLimit:    rateLimit,
		CallbackAuth: callbackAuth,

		HealthHandler: healthHandler(pgStore, redisCache, orch),

		SubmitJobHandler: handler.NewSubmitJobHandler(jobService),
		GetJobHandler:    handler.NewGetJobHandler(jobService),
		ListJobsHandler:  handler.NewListJobsHandler(jobService),
		CancelJobHandler: handler.NewCancelJobHandler(jobService),
		JobLogsHandler:   handler.NewJobLogsHandler(jobService),

		ProgressHandler: handler.NewProgressHandler(jobService),
		CompleteHandler: handler.NewCompleteHandler(jobService),

		ReconcileHandler: handler.NewReconcileHandler(jobService),
		CleanupHandler:   handler.NewCleanupHandler(jobService, cfg.Jobs.CleanupRetention),
		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func newOrchestrator(ctx context.Context, mode string) (orchestrator.Client, error) {
	switch mode {
	case "mock":
		return mock.NewClient(), nil
	case "docker":
		c, err := docker.NewClient()
		if err != nil {
			return nil, err
		}
		if err := c.Ready(ctx); err != nil {
			return nil, fmt.Errorf("container daemon not reachable: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown orchestrator mode %q", mode)
	}
}

// healthHandler checks database, cache and orchestrator connectivity.
func healthHandler(s store.Store, c cache.Cache, orch orchestrator.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database":     "ok",
			"cache":        "ok",
			"orchestrator": "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if err := orch.Ready(r.Context()); err != nil {
			checks["orchestrator"] = "degraded"
		}

		degraded := false
		for _, v := range checks {
			if v != "ok" {
				degraded = true
			}
		}
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
