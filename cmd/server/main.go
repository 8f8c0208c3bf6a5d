package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/ingest/internal/config"
	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/JonMunkholm/ingest/internal/core/dialects"
	"github.com/JonMunkholm/ingest/internal/database"
	"github.com/JonMunkholm/ingest/internal/logging"
	"github.com/JonMunkholm/ingest/internal/metrics"
	"github.com/JonMunkholm/ingest/internal/web"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		slog.Error("failed to migrate ledger", "error", err)
		os.Exit(1)
	}

	registry, err := dialects.NewRegistry()
	if err != nil {
		slog.Error("failed to build dialect registry", "error", err)
		os.Exit(1)
	}
	slog.Info("dialects registered", "count", registry.Len())

	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	engineCfg, err := core.EngineConfigFrom(cfg.Ingest)
	if err != nil {
		slog.Error("invalid ingest configuration", "error", err)
		os.Exit(1)
	}
	engine := core.NewEngine(pool, registry, engineCfg, core.WithMetrics(m))
	limiter := core.NewJobLimiter(cfg.Ingest.MaxConcurrent, cfg.Ingest.MaxWaitTime)

	server := web.NewServer(web.Deps{
		Importer: engine,
		Ledger:   engine.Ledger(),
		Registry: registry,
		Limiter:  limiter,
		Metrics:  promhttp.Handler(),
	}, cfg)

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Refuse new jobs and let running ones finish their load transaction.
		status := limiter.Status()
		slog.Info("draining jobs", "active", status.Active)
		if err := limiter.WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("jobs did not complete in time", "error", err)
		} else {
			slog.Info("all jobs completed")
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
