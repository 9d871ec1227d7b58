package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/duropiri/novai-sub000/internal/adapter/repo"
	"github.com/duropiri/novai-sub000/internal/batch"
	"github.com/duropiri/novai-sub000/internal/domain"
	"github.com/duropiri/novai-sub000/internal/http/handlers"
	"github.com/duropiri/novai-sub000/internal/http/httpapi"
	"github.com/duropiri/novai-sub000/internal/infra"
	"github.com/duropiri/novai-sub000/internal/storage"
)

const batchCleanupInterval = time.Hour

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}

	jobs := repo.NewJobRepository(pool)
	collections := repo.NewCollectionRepository(pool)
	batches := batch.NewGenerator(batch.NewStore(), jobs, collections, fileStore, logger, domain.SystemClock{}, cfg.BatchTTL)

	app := handlers.NewApp(jobs, batches, fileStore, logger)
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, cfg, logger))

	// Expired batches lose their artifacts; the sweep is best-effort and
	// hourly because expiry precision is not a product guarantee.
	go func() {
		ticker := time.NewTicker(batchCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := batches.CleanupExpired(ctx); removed > 0 {
					logger.Info().Int("removed", removed).Msg("api: expired batches cleaned")
				}
			}
		}
	}()

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("api: listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
}
