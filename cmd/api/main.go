//	@title			File Storage API
//	@version		1.0
//	@description	Multi-tenant file storage: upload, download, view with on-the-fly image resizing, soft delete.
//
//	@host		localhost:8080
//	@BasePath	/

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
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/radif/filestore/internal/config"
	"github.com/radif/filestore/internal/db"
	"github.com/radif/filestore/internal/file"
	"github.com/radif/filestore/internal/filekey"
	"github.com/radif/filestore/internal/imaging"
	appMiddleware "github.com/radif/filestore/internal/middleware"
	"github.com/radif/filestore/internal/storage"

	_ "github.com/radif/filestore/docs/swagger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
		return err
	}

	local, err := storage.NewLocalStorage(cfg.LocalRoot)
	if err != nil {
		return err
	}

	// The object store client is lazy; it only dials on first use.
	remote, err := storage.NewMinioStorage(
		cfg.StorageEndpoint,
		cfg.StorageAccessKey,
		cfg.StorageSecretKey,
		cfg.StorageBucket,
		cfg.StorageUseSSL,
		logger,
	)
	if err != nil {
		return err
	}

	var writer, reader storage.Backend = local, remote
	if cfg.StorageMode == config.StorageModeMinio {
		writer, reader = remote, local
	}
	logger.Info("storage configured",
		slog.String("write_mode", string(writer.Mode())),
		slog.String("local_root", cfg.LocalRoot),
		slog.String("bucket", cfg.StorageBucket),
	)

	// Wire dependencies: repository → cache → service → handler
	store := file.NewCachedStore(file.NewRepository(pool), cfg.MetadataCacheSize, cfg.MetadataCacheTTL)
	fileSvc := file.NewService(
		store,
		writer,
		[]storage.Backend{reader},
		filekey.New(cfg.UploadPathTemplate, time.Now),
		imaging.NewResizer(nil, logger),
		logger,
		file.WithBatchConcurrency(cfg.BatchConcurrency),
	)
	fileHandler := file.NewHandler(fileSvc, cfg.MaxUploadSize, logger)

	if deleted, err := fileSvc.ListDeleted(ctx); err != nil {
		logger.Warn("could not count soft-deleted files", slog.String("error", err.Error()))
	} else {
		logger.Info("soft-deleted files retained", slog.Int("count", len(deleted)))
	}

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger(logger))
	r.Use(appMiddleware.Metrics)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	// Swagger UI at /swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/file", fileHandler.Routes)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("port", cfg.Port), slog.String("env", cfg.AppEnv))
		logger.Info("swagger UI at http://localhost:" + cfg.Port + "/swagger/")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
