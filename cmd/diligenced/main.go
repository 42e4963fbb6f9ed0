// Package main runs the due diligence workflow server. It wires the
// configured storage backend, the application services and the HTTP API
// behind the auth, rate limit, CORS and metrics middleware.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/blob"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/httpapi"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/metrics"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/workspaces"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage/memory"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage/postgres"
	"github.com/kaykluz/kiisha-dev-sub002/internal/config"
	"github.com/kaykluz/kiisha-dev-sub002/internal/middleware"
	"github.com/kaykluz/kiisha-dev-sub002/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.NewDefault("diligenced").WithError(err).Fatal("Failed to load configuration")
	}

	log := logger.New(cfg.Logging)
	log.Info("Starting due diligence workflow server")

	stores, closeStore, err := buildStores(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}
	defer closeStore()

	deps, err := buildDependencies(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize dependencies")
	}

	application, err := app.New(stores, deps, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start application")
	}

	handler, err := buildHandler(cfg, application, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to build HTTP handler")
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("HTTP API listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server shutdown error")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("Application stop error")
	}

	log.Info("Stopped")
}

// buildStores selects postgres when a database URL is configured and
// falls back to the in-memory store otherwise.
func buildStores(cfg config.Config, log *logger.Logger) (app.Stores, func(), error) {
	if cfg.Database.URL == "" {
		log.Info("No database configured, using in-memory storage")
		store := memory.New()
		return app.Stores{
			Schemas:        store,
			Templates:      store,
			Requests:       store,
			Workspaces:     store,
			Submissions:    store,
			Clarifications: store,
			Audit:          store,
		}, func() {}, nil
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return app.Stores{}, nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	if cfg.Database.Migrate {
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return app.Stores{}, nil, err
		}
		log.Info("Database migrations applied")
	}

	store := postgres.New(db)
	return app.Stores{
		Schemas:        store,
		Templates:      store,
		Requests:       store,
		Workspaces:     store,
		Submissions:    store,
		Clarifications: store,
		Audit:          store,
	}, func() { db.Close() }, nil
}

func buildDependencies(cfg config.Config, log *logger.Logger) (app.Dependencies, error) {
	deps := app.Dependencies{
		Suggester:        workspaces.NewPathSuggester(),
		DeadlineSchedule: cfg.Workflow.DeadlineSchedule,
	}
	if cfg.Workflow.BlobDir != "" {
		blobs, err := blob.NewFileStore(cfg.Workflow.BlobDir)
		if err != nil {
			return app.Dependencies{}, err
		}
		deps.Blobs = blobs
	}
	return deps, nil
}

// buildHandler assembles the middleware chain around the API router.
// Order matters: metrics wraps everything, auth runs before rate
// limiting so limits key on the authenticated user.
func buildHandler(cfg config.Config, application *app.Application, log *logger.Logger) (http.Handler, error) {
	sink, err := httpapi.NewFileAccessSink(cfg.Workflow.AccessLogPath)
	if err != nil {
		return nil, err
	}

	var handler http.Handler = httpapi.NewHandlerWithAccessLog(application, sink)

	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
		limiter.StartCleanup(0)
		handler = limiter.Handler(handler)
	}

	auth := middleware.NewAuthMiddleware([]byte(cfg.Auth.JWTSecret), log, cfg.Auth.SkipPaths)
	handler = auth.Handler(handler)
	handler = middleware.LoggingMiddleware(log)(handler)
	handler = middleware.NewCORSMiddleware(cfg.CORS).Handler(handler)
	handler = metrics.InstrumentHandler(handler)
	return handler, nil
}
