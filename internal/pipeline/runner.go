package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/duropiri/novai-sub000/internal/domain"
	"github.com/duropiri/novai-sub000/internal/engine"
	"github.com/duropiri/novai-sub000/internal/infra"
)

// Runner executes a job's stages strictly in order, trying each stage's
// fallback chain, racing every attempt against the stage and job deadlines,
// and converting any failure into a terminal job state. Nothing escapes
// Execute: panics and errors alike end as MarkFailed.
type Runner struct {
	repo    domain.JobRepository
	clock   domain.Clock
	logger  infra.Logger
	metrics *infra.WorkerMetrics
}

// NewRunner wires a pipeline runner. metrics may be nil in tests.
func NewRunner(repo domain.JobRepository, clock domain.Clock, logger infra.Logger, metrics *infra.WorkerMetrics) *Runner {
	return &Runner{repo: repo, clock: clock, logger: logger, metrics: metrics}
}

// stageSummary is the persisted shape of one stage's result.
type stageSummary struct {
	Engine     string   `json:"engine"`
	URLs       []string `json:"urls,omitempty"`
	Format     string   `json:"format,omitempty"`
	Seconds    float64  `json:"seconds,omitempty"`
	Frames     int      `json:"frames,omitempty"`
	Resolution string   `json:"resolution,omitempty"`
}

// Execute runs the full pipeline for one job. The returned error reports the
// terminal outcome for worker logging; by the time Execute returns, the job
// row is already completed or failed.
func (r *Runner) Execute(ctx context.Context, job *domain.Job, stages []Stage, jobTimeout time.Duration) (err error) {
	log := r.logger.With().Str("job_id", job.ID).Str("job_type", string(job.Type)).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			log.Error().Interface("panic", rec).Msg("pipeline: recovered panic")
			r.failJob(job.ID, fmt.Sprintf("internal error: %v", rec), log)
			if r.metrics != nil {
				r.metrics.JobFinished(string(job.Type), string(domain.JobStatusFailed))
			}
		}
	}()

	if err := r.repo.MarkProcessing(ctx, job.ID); err != nil {
		r.failJob(job.ID, fmt.Sprintf("infrastructure error: %v", err), log)
		return err
	}
	if r.metrics != nil {
		r.metrics.JobStarted(string(job.Type))
	}

	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	tracker := NewTracker(r.repo, r.clock, log, job)
	totalCost := 0

	for _, stage := range stages {
		cost, stageErr := r.runStage(jobCtx, tracker, stage, log)
		if stageErr == nil {
			totalCost += cost
			continue
		}
		if stage.Optional && !isJobFatal(jobCtx, stageErr) {
			_ = tracker.AddLog(jobCtx, fmt.Sprintf("skipping optional stage %s: %s", stage.Name, stageErr))
			log.Warn().Err(stageErr).Str("stage", stage.Name).Msg("pipeline: optional stage skipped")
			continue
		}
		msg := terminalMessage(stage.Name, stageErr)
		r.failJob(job.ID, msg, log)
		if r.metrics != nil {
			r.metrics.JobFinished(string(job.Type), string(domain.JobStatusFailed))
		}
		return stageErr
	}

	output := domain.MustMarshal(tracker.Output())
	if err := r.repo.MarkCompleted(ctx, job.ID, output, totalCost); err != nil {
		r.failJob(job.ID, fmt.Sprintf("infrastructure error: %v", err), log)
		if r.metrics != nil {
			r.metrics.JobFinished(string(job.Type), string(domain.JobStatusFailed))
		}
		return err
	}
	if r.metrics != nil {
		r.metrics.JobFinished(string(job.Type), string(domain.JobStatusCompleted))
	}
	log.Info().Int("cost_cents", totalCost).Msg("pipeline: job completed")
	return nil
}

// runStage walks the stage's fallback chain until an engine succeeds or the
// chain is exhausted. The returned cost is zero unless an engine produced a
// result.
func (r *Runner) runStage(jobCtx context.Context, tracker *Tracker, stage Stage, log infra.Logger) (int, error) {
	if len(stage.Chain) == 0 {
		return 0, fmt.Errorf("stage %q has no engines configured", stage.Name)
	}

	if err := tracker.SetProgress(jobCtx, stage.Lo, stage.Name); err != nil {
		return 0, fmt.Errorf("infrastructure: %w", err)
	}

	var lastErr error
	for idx, eng := range stage.Chain {
		res, err := r.attempt(jobCtx, tracker, stage, eng)
		if err == nil {
			if idx > 0 {
				_ = tracker.AddLog(jobCtx, fmt.Sprintf("stage %s completed via fallback engine %s", stage.Name, eng.Name()))
				if r.metrics != nil {
					r.metrics.FallbackUsed(stage.Name, eng.Name())
				}
			}
			r.recordStageResult(jobCtx, tracker, stage, eng, res)
			cost := 0
			if stage.Cost != nil {
				cost = stage.Cost(res, eng)
			}
			return cost, nil
		}

		if engine.IsRejected(err) {
			// Caller error: no fallback, the whole job aborts.
			return 0, err
		}
		if jobCtx.Err() != nil {
			return 0, engine.TimedOut("job deadline exceeded during stage %s", stage.Name)
		}

		lastErr = err
		_ = tracker.AddLog(jobCtx, fmt.Sprintf("engine %s failed on stage %s: %s", eng.Name(), stage.Name, err))
		log.Warn().Err(err).Str("stage", stage.Name).Str("engine", eng.Name()).Msg("pipeline: engine failed, trying next")
	}
	return 0, lastErr
}

// attempt runs one engine under the stage deadline, remapping its progress
// callbacks into the stage's sub-range.
func (r *Runner) attempt(jobCtx context.Context, tracker *Tracker, stage Stage, eng engine.Engine) (*engine.Result, error) {
	ctx := jobCtx
	var cancel context.CancelFunc
	if stage.Timeout > 0 {
		ctx, cancel = context.WithTimeout(jobCtx, stage.Timeout)
		defer cancel()
	}

	tracker.SetExternalRequest(fmt.Sprintf("%s:%s", eng.Name(), stage.Params.RequestID))

	onProgress := func(pct int, status string) {
		label := status
		if label == "" {
			label = stage.Name
		}
		_ = tracker.SetProgress(jobCtx, stage.mapPercent(pct), fmt.Sprintf("%s: %s", stage.Name, label))
	}

	res, err := eng.Run(ctx, stage.Params, onProgress)
	if err != nil {
		if engine.IsTimeout(err) || (ctx.Err() != nil && jobCtx.Err() == nil) {
			return nil, engine.TimedOut("stage %s timed out on engine %s after %s", stage.Name, eng.Name(), stage.Timeout)
		}
		return nil, err
	}
	if res.Empty() {
		// A degenerate success must not flow downstream.
		return nil, engine.RemoteFailed("engine %s returned an empty result for stage %s", eng.Name(), stage.Name)
	}
	return res, nil
}

func (r *Runner) recordStageResult(ctx context.Context, tracker *Tracker, stage Stage, eng engine.Engine, res *engine.Result) {
	summary, marshalErr := json.Marshal(stageSummary{
		Engine:     eng.Name(),
		URLs:       res.URLs,
		Format:     res.Format,
		Seconds:    res.Seconds,
		Frames:     res.Frames,
		Resolution: res.Resolution,
	})
	if marshalErr == nil {
		tracker.RecordResult(stage.Name, summary, res.URLs)
	}
	_ = tracker.SetProgress(ctx, stage.Hi-1, fmt.Sprintf("%s: done", stage.Name))
}

func (r *Runner) failJob(jobID, message string, log infra.Logger) {
	// Terminal writes use a fresh context: the job context may already be
	// past its deadline and the failure must still land.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.repo.MarkFailed(ctx, jobID, message); err != nil {
		log.Error().Err(err).Msg("pipeline: mark failed write failed")
	}
}

// isJobFatal reports errors that must abort the pipeline even on an optional
// stage: a spent job deadline or a caller rejection.
func isJobFatal(jobCtx context.Context, err error) bool {
	if jobCtx.Err() != nil {
		return true
	}
	return engine.IsRejected(err)
}

func terminalMessage(stageName string, err error) string {
	switch {
	case engine.IsTimeout(err):
		return fmt.Sprintf("timeout: %s", err)
	case engine.IsRejected(err):
		return fmt.Sprintf("rejected: %s", err)
	case errors.Is(err, engine.ErrRemoteFailed):
		return fmt.Sprintf("stage %s failed: %s", stageName, err)
	default:
		return err.Error()
	}
}
