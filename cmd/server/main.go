package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dom/authsvc/internal/api"
	"github.com/dom/authsvc/internal/config"
	"github.com/dom/authsvc/internal/logging"
	"github.com/dom/authsvc/internal/repository/postgres"
	"github.com/dom/authsvc/internal/service"
	"gorm.io/gorm/logger"
)

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "apply database migrations and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	if err := run(cfg, log, *migrateOnly); err != nil {
		log.Error(context.Background(), "server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logging.Logger, migrateOnly bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DevSecret {
		log.Warn(ctx, "JWT_SECRET not set, using the development signing secret",
			"environment", cfg.Environment)
	}

	gormLevel := logger.Warn
	if cfg.Environment == config.EnvTest {
		gormLevel = logger.Silent
	}

	// Initialize database
	store, err := postgres.NewConnection(ctx, cfg.Database, gormLevel)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn(context.Background(), "failed to close database", "error", err)
		}
	}()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	log.Info(ctx, "database ready")

	if migrateOnly {
		return nil
	}

	services := service.NewServices(store.Repositories(), cfg, log)
	router := api.NewRouter(services, log)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "server starting", "addr", srv.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info(context.Background(), "server stopped")
	return nil
}
