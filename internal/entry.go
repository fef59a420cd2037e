// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/compact"
	"github.com/starford/ansuz/internal/docstore"
	"github.com/starford/ansuz/internal/identity"
	"github.com/starford/ansuz/internal/migrate"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/watch"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sync_dir", cfg.Sync.Dir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure sync directory exists.
	if err := os.MkdirAll(cfg.Sync.Dir, 0o755); err != nil {
		return fmt.Errorf("create sync dir: %w", err)
	}

	// Initialize storage over the sync directory.
	store, err := storage.NewFS(cfg.Sync.Dir)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	// Load or mint this device's writer identity. Stored outside the
	// sync directory so it never replicates.
	writer, err := identity.LoadOrCreate(cfg.Sync.InstanceFile)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	logger.Info("Instance identity", slog.String("writer", writer))

	// Convert any legacy update files before opening documents.
	if report, err := migrate.MigrateDirectory(ctx, store, logger); err != nil {
		logger.Warn("startup migration failed", slog.String("error", err.Error()))
	} else if report.FilesConverted > 0 {
		logger.Info("startup migration converted legacy files",
			slog.Int("converted", report.FilesConverted))
	}

	// Open the document registry and the shared folder tree.
	reg := docstore.NewRegistry(store, writer, logger)
	defer reg.CloseAll()
	if _, err := reg.OpenTree(ctx); err != nil {
		return fmt.Errorf("open folder tree: %w", err)
	}

	// Compaction and GC.
	comp := compact.New(store, cfg.Compact.Policy(), logger)
	gc := compact.NewGC(store, logger)

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Build API service and router.
	svc := api.NewService(reg, store, comp, gc, cfg.GC, logger)
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start the sync-directory watcher with SSE callback.
	g.Go(func() error {
		return watch.Watch(gCtx, reg, cfg.Sync.Dir, logger, func(docID, file string) {
			broker.PublishDocEvent(docID, file)
		})
	})

	// Background compaction loop over open documents.
	g.Go(func() error {
		return compactionLoop(gCtx, reg, comp, cfg.Compact.SweepInterval, logger)
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// compactionLoop periodically snapshots and packs open documents that
// cross the policy thresholds. Compaction never blocks edits for long:
// each document is handled one at a time under its own lock.
func compactionLoop(ctx context.Context, reg *docstore.Registry, comp *compact.Compactor, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for _, doc := range reg.Open() {
			if ctx.Err() != nil {
				return nil
			}
			due, err := comp.ShouldCompact(doc)
			if err != nil {
				logger.Warn("compaction check failed",
					slog.String("doc", doc.ID()), slog.String("error", err.Error()))
				continue
			}
			if !due {
				continue
			}
			if _, _, err := comp.Snapshot(doc); err != nil {
				logger.Warn("background snapshot failed",
					slog.String("doc", doc.ID()), slog.String("error", err.Error()))
				continue
			}
			if _, _, err := comp.BuildPackFile(doc.Dir(), doc.Writer()); err != nil {
				logger.Warn("background pack failed",
					slog.String("doc", doc.ID()), slog.String("error", err.Error()))
			}
		}
	}
}
