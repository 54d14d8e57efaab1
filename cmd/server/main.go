package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/parking-prices/internal/config"
	httpapi "github.com/example/parking-prices/internal/http"
	"github.com/example/parking-prices/internal/logging"
	"github.com/example/parking-prices/migrations"
)

func main() {
	dotenvErr := config.LoadDotEnv()
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("parking-prices", cfg.LogLevel)
	if dotenvErr != nil {
		logger.Warn("dotenv_load_failed", "error", dotenvErr)
	}
	if err != nil {
		logger.Error("invalid_config", "error", err)
		os.Exit(1)
	}

	if cfg.PGDSN != "" && cfg.RunMigrations {
		migrate(cfg.PGDSN, logger)
	}

	srv, closeDeps := httpapi.NewServerFromConfig(cfg, logger)
	hs := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown_failed", "error", err)
	}
	if err := closeDeps(); err != nil {
		logger.Error("close_dependencies_failed", "error", err)
	}
	logger.Info("stopped")
}

func migrate(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration_db_open_failed", "error", err)
		return
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		logger.Error("migration_failed", "error", err)
		return
	}
	logger.Info("migrations_applied", "files", applied)
}
