package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duropiri/novai-sub000/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. Lifecycle
// writes are guarded by status predicates in SQL so that repeating a terminal
// write is a no-op: cost, timestamps and error messages are set exactly once.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record in pending state.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, type, reference_id, status, progress, input_json, output_json, attempts)
VALUES ($1, $2, $3, $4, 0, $5, $6, 0)
ON CONFLICT (id) DO NOTHING;
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Type,
		job.ReferenceID,
		domain.JobStatusPending,
		nullableBytes(job.InputJSON),
		nullableBytes(job.OutputJSON),
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := selectJob + `WHERE id = $1;`
	return scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// MarkQueued moves a pending job into the queue.
func (r *JobRepositoryPG) MarkQueued(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET status = 'queued'
WHERE id = $1 AND status = 'pending';
`
	_, err := r.pool.Exec(ctx, query, jobID)
	return err
}

// MarkProcessing moves a pending or queued job to processing. started_at is
// stamped only on the first transition.
func (r *JobRepositoryPG) MarkProcessing(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET status = 'processing',
    started_at = COALESCE(started_at, NOW())
WHERE id = $1 AND status IN ('pending', 'queued');
`
	_, err := r.pool.Exec(ctx, query, jobID)
	return err
}

// MarkCompleted finalizes a processing job. The status guard makes a second
// call inert: cost_cents and completed_at never move once set.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID string, outputJSON []byte, costCents int) error {
	query := `
UPDATE jobs
SET status = 'completed',
    progress = 100,
    output_json = COALESCE($2, output_json),
    cost_cents = $3,
    completed_at = NOW()
WHERE id = $1 AND status NOT IN ('completed', 'failed');
`
	_, err := r.pool.Exec(ctx, query, jobID, nullableBytes(outputJSON), costCents)
	return err
}

// MarkFailed finalizes a job with an error message. Partial output and logs
// stay readable for diagnosis.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID string, message string) error {
	query := `
UPDATE jobs
SET status = 'failed',
    error_message = $2,
    completed_at = NOW()
WHERE id = $1 AND status NOT IN ('completed', 'failed');
`
	_, err := r.pool.Exec(ctx, query, jobID, message)
	return err
}

// UpdateProgress persists progress and the active engine correlation fields.
// The GREATEST guard keeps persisted progress monotonic even if two writers
// race, and terminal rows are never touched.
func (r *JobRepositoryPG) UpdateProgress(ctx context.Context, jobID string, progress int, externalRequestID, externalStatus string, outputJSON []byte) error {
	query := `
UPDATE jobs
SET progress = GREATEST(progress, $2),
    external_request_id = $3,
    external_status = $4,
    output_json = COALESCE($5, output_json)
WHERE id = $1 AND status = 'processing';
`
	_, err := r.pool.Exec(ctx, query, jobID, progress, externalRequestID, externalStatus, nullableBytes(outputJSON))
	return err
}

// ResetForRetry atomically returns a failed job to pending with its original
// input, clearing progress, cost, error and correlation fields. The job id is
// reused; the cleared cost keeps completion from double-counting.
func (r *JobRepositoryPG) ResetForRetry(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET status = 'pending',
    progress = 0,
    cost_cents = NULL,
    error_message = '',
    external_request_id = '',
    external_status = '',
    output_json = NULL,
    started_at = NULL,
    completed_at = NULL,
    attempts = 0
WHERE id = $1 AND status = 'failed';
`
	tag, err := r.pool.Exec(ctx, query, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTerminalJob
	}
	return nil
}

// ListByBatch returns all variant jobs tagged with the batch id, oldest first.
func (r *JobRepositoryPG) ListByBatch(ctx context.Context, batchID string) ([]domain.Job, error) {
	query := selectJob + `
WHERE type = 'variant' AND input_json->>'batch_id' = $1
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, query, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

const selectJob = `
SELECT id, type, reference_id, status, progress, external_request_id, external_status,
       input_json, output_json, cost_cents, error_message, attempts,
       created_at, started_at, completed_at
FROM jobs
`

func scanJob(row pgx.Row) (*domain.Job, error) {
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
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
