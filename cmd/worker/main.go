package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"github.com/duropiri/novai-sub000/internal/adapter/repo"
	"github.com/duropiri/novai-sub000/internal/domain"
	"github.com/duropiri/novai-sub000/internal/infra"
	"github.com/duropiri/novai-sub000/internal/infra/credentials"
	"github.com/duropiri/novai-sub000/internal/pipeline"
	"github.com/duropiri/novai-sub000/internal/processor"
	"github.com/duropiri/novai-sub000/internal/sqlinline"
	"github.com/duropiri/novai-sub000/internal/storage"
)

const (
	claimPollInterval = 2 * time.Second

	// Queue-level retry policy for variant jobs: exponential backoff
	// starting at 5s, at most 3 claims total.
	retryBaseDelay  = 5 * time.Second
	maxVariantTries = 3
)

var errNoJobAvailable = errors.New("no job available")

type worker struct {
	runner  *infra.SQLRunner
	repo    domain.JobRepository
	planner *processor.Planner
	exec    *pipeline.Runner
	cfg     *infra.Config
	logger  infra.Logger
}

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
		logger.Fatal().Err(err).Msg("worker: db connection failed")
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
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	runner := infra.NewSQLRunner(pool, logger)
	loadStoredKeys(ctx, cfg, credentials.NewStore(runner), logger)

	planner, err := processor.NewPlanner(cfg, fileStore, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure providers")
	}

	metrics := infra.NewWorkerMetrics()
	jobs := repo.NewJobRepository(pool)
	w := &worker{
		runner:  runner,
		repo:    jobs,
		planner: planner,
		exec:    pipeline.NewRunner(jobs, domain.SystemClock{}, logger, metrics),
		cfg:     cfg,
		logger:  logger,
	}

	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metrics.Handler(),
	}
	go func() {
		logger.Info().Str("addr", metricsSrv.Addr).Msg("worker: metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("worker: metrics server failed")
		}
	}()

	var wg sync.WaitGroup
	for jobType, slots := range cfg.QueueConcurrency {
		for i := 0; i < slots; i++ {
			wg.Add(1)
			go func(jobType string, slot int) {
				defer wg.Done()
				w.loop(ctx, jobType, slot)
			}(jobType, i)
		}
	}
	logger.Info().Msg("worker: started")

	<-ctx.Done()
	logger.Info().Msg("worker: shutting down")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Info().Msg("worker: stopped")
}

// loadStoredKeys fills in provider API keys from the credentials store when
// the environment left them empty. Missing keys are not fatal; providers fall
// back to synthetic generation.
func loadStoredKeys(ctx context.Context, cfg *infra.Config, store *credentials.Store, logger infra.Logger) {
	targets := map[string]*string{
		credentials.ProviderGemini: &cfg.GeminiAPIKey,
		credentials.ProviderQwen:   &cfg.QwenAPIKey,
		credentials.ProviderRunPod: &cfg.RunPodAPIKey,
		credentials.ProviderFal:    &cfg.FalAPIKey,
	}
	for provider, dst := range targets {
		if *dst != "" {
			continue
		}
		key, err := store.Key(ctx, provider)
		if err != nil {
			logger.Warn().Err(err).Str("provider", provider).Msg("worker: credentials lookup failed")
			continue
		}
		if key == "" {
			logger.Warn().Str("provider", provider).Msg("worker: no api key configured, synthetic mode")
			continue
		}
		*dst = key
	}
}

// loop claims and runs jobs of one type until the context is cancelled. Each
// slot is an independent consumer; SKIP LOCKED in the claim query keeps them
// from fighting over rows.
func (w *worker) loop(ctx context.Context, jobType string, slot int) {
	log := w.logger.With().Str("queue", jobType).Int("slot", slot).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.claim(ctx, jobType)
		if err != nil {
			if !errors.Is(err, errNoJobAvailable) && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("worker: claim failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(claimPollInterval):
			}
			continue
		}

		w.handle(ctx, job, log)
	}
}

func (w *worker) handle(ctx context.Context, job *domain.Job, log infra.Logger) {
	log.Info().Str("job_id", job.ID).Int("attempt", job.Attempts).Msg("worker: claimed job")

	stages, err := w.planner.Plan(job)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("worker: unplannable job")
		if markErr := w.repo.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Str("job_id", job.ID).Msg("worker: mark failed errored")
		}
		return
	}

	if err := w.exec.Execute(ctx, job, stages, w.cfg.DeadlineFor(string(job.Type))); err != nil {
		w.maybeRetry(job, err, log)
	}
}

// maybeRetry reschedules a failed variant job with exponential backoff.
// Other job types fail permanently; their batch-less nature means the caller
// retries explicitly through the API.
func (w *worker) maybeRetry(job *domain.Job, runErr error, log infra.Logger) {
	if job.Type != domain.JobTypeVariant || job.Attempts >= maxVariantTries {
		return
	}
	delay := retryBaseDelay << (job.Attempts - 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tag, err := w.runner.Exec(ctx, sqlinline.QScheduleRetry, job.ID, int(delay.Seconds()), maxVariantTries)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("worker: retry scheduling failed")
		return
	}
	if tag.RowsAffected() == 0 {
		return
	}
	log.Warn().Err(runErr).
		Str("job_id", job.ID).
		Dur("delay", delay).
		Int("attempt", job.Attempts).
		Msg("worker: variant rescheduled")
}

func (w *worker) claim(ctx context.Context, jobType string) (*domain.Job, error) {
	row := w.runner.QueryRow(ctx, sqlinline.QClaimJobByType, jobType)
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.Type,
		&job.ReferenceID,
		&job.Status,
		&job.Progress,
		&job.ExternalRequestID,
		&job.ExternalStatus,
		&job.InputJSON,
		&job.OutputJSON,
		&job.CostCents,
		&job.ErrorMessage,
		&job.Attempts,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errNoJobAvailable
		}
		return nil, err
	}
	return &job, nil
}
