package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job records. All write operations are
// idempotent per job id: repeating a terminal write changes nothing.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)

	// MarkQueued moves a pending job into the queue.
	MarkQueued(ctx context.Context, jobID string) error
	// MarkProcessing moves a pending or queued job to processing and stamps
	// started_at on the first transition only.
	MarkProcessing(ctx context.Context, jobID string) error
	// MarkCompleted finalizes a processing job with its output and total cost.
	// A second call must not move completed_at or double-count cost.
	MarkCompleted(ctx context.Context, jobID string, outputJSON []byte, costCents int) error
	// MarkFailed finalizes a job with an error message, preserving whatever
	// partial output and logs were recorded.
	MarkFailed(ctx context.Context, jobID string, message string) error

	// UpdateProgress persists progress, the active engine's correlation handle
	// and status string, and the refreshed log list.
	UpdateProgress(ctx context.Context, jobID string, progress int, externalRequestID, externalStatus string, outputJSON []byte) error

	// ResetForRetry atomically returns a failed job to pending, clearing
	// progress, cost, error and external correlation. Same id is reused.
	ResetForRetry(ctx context.Context, jobID string) error

	// ListByBatch returns all variant jobs tagged with the batch id.
	ListByBatch(ctx context.Context, batchID string) ([]Job, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation used in production wiring.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
