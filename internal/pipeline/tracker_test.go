package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/duropiri/novai-sub000/internal/domain"
)

// fakeRepo is an in-memory domain.JobRepository mirroring the SQL guards of
// the real one.
type fakeRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job

	failUpdates   bool
	markCompleted int
	markFailed    int
}

func newFakeRepo(jobs ...*domain.Job) *fakeRepo {
	r := &fakeRepo{jobs: map[string]*domain.Job{}}
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	return r
}

func (r *fakeRepo) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		cp := *job
		cp.Status = domain.JobStatusPending
		r.jobs[job.ID] = &cp
	}
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *fakeRepo) MarkQueued(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[jobID]; ok && j.Status == domain.JobStatusPending {
		j.Status = domain.JobStatusQueued
	}
	return nil
}

func (r *fakeRepo) MarkProcessing(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status == domain.JobStatusPending || j.Status == domain.JobStatusQueued {
		j.Status = domain.JobStatusProcessing
		if j.StartedAt == nil {
			now := time.Now()
			j.StartedAt = &now
		}
	}
	return nil
}

func (r *fakeRepo) MarkCompleted(ctx context.Context, jobID string, outputJSON []byte, costCents int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markCompleted++
	j, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status.IsTerminal() {
		return nil
	}
	j.Status = domain.JobStatusCompleted
	j.Progress = 100
	j.OutputJSON = outputJSON
	j.CostCents = &costCents
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

func (r *fakeRepo) MarkFailed(ctx context.Context, jobID string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markFailed++
	j, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status.IsTerminal() {
		return nil
	}
	j.Status = domain.JobStatusFailed
	j.ErrorMessage = message
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

func (r *fakeRepo) UpdateProgress(ctx context.Context, jobID string, progress int, externalRequestID, externalStatus string, outputJSON []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdates {
		return fmt.Errorf("store unavailable")
	}
	j, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != domain.JobStatusProcessing {
		return nil
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	j.ExternalRequestID = externalRequestID
	j.ExternalStatus = externalStatus
	if len(outputJSON) > 0 {
		j.OutputJSON = outputJSON
	}
	return nil
}

func (r *fakeRepo) ResetForRetry(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != domain.JobStatusFailed {
		return domain.ErrTerminalJob
	}
	j.Status = domain.JobStatusPending
	j.Progress = 0
	j.CostCents = nil
	j.ErrorMessage = ""
	j.OutputJSON = nil
	j.StartedAt = nil
	j.CompletedAt = nil
	return nil
}

func (r *fakeRepo) ListByBatch(ctx context.Context, batchID string) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, j := range r.jobs {
		in, _ := j.DecodeInput()
		if j.Type == domain.JobTypeVariant && in.BatchID == batchID {
			out = append(out, *j)
		}
	}
	return out, nil
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func testLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func TestDedupeAction(t *testing.T) {
	tests := []struct {
		name string
		next string
		last string
		want LogAction
	}{
		{"empty history appends", "polling runpod 10%", "", LogAppend},
		{"exact duplicate ignoring timestamp drops", "rendering frames", "[10:01:02] rendering frames", LogDrop},
		{"same base pattern with new percent replaces", "polling runpod 20%", "[10:01:02] polling runpod 10%", LogReplace},
		{"different message appends", "merging audio", "[10:01:02] polling runpod 10%", LogAppend},
		{"percent only difference replaces", "video-generation: in_progress 57%", "[09:00:00] video-generation: in_progress 42%", LogReplace},
		{"same text same percent drops", "upload 50%", "[09:00:00] upload 50%", LogDrop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DedupeAction(tt.next, tt.last); got != tt.want {
				t.Fatalf("DedupeAction(%q, %q) = %d, want %d", tt.next, tt.last, got, tt.want)
			}
		})
	}
}

func TestTrackerCollapsesPollingSpam(t *testing.T) {
	job := &domain.Job{ID: "j1", Status: domain.JobStatusProcessing}
	repo := newFakeRepo(job)
	tr := NewTracker(repo, fixedClock{time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)}, testLogger(), job)

	for pct := 1; pct <= 9; pct++ {
		if err := tr.SetProgress(context.Background(), pct, "frame-extraction: in_progress"); err != nil {
			t.Fatal(err)
		}
	}
	logs := tr.Output().Logs
	if len(logs) != 1 {
		t.Fatalf("expected polling spam collapsed to 1 line, got %d: %v", len(logs), logs)
	}
	if !strings.Contains(logs[0], "9%") {
		t.Fatalf("collapsed line should carry the latest percent: %q", logs[0])
	}
}

func TestTrackerProgressMonotonic(t *testing.T) {
	job := &domain.Job{ID: "j1", Status: domain.JobStatusProcessing, Progress: 40}
	repo := newFakeRepo(job)
	tr := NewTracker(repo, fixedClock{time.Now()}, testLogger(), job)

	_ = tr.SetProgress(context.Background(), 25, "late straggler")
	if tr.Progress() != 40 {
		t.Fatalf("progress moved backward: %d", tr.Progress())
	}
	_ = tr.SetProgress(context.Background(), 55, "advance")
	if tr.Progress() != 55 {
		t.Fatalf("progress did not advance: %d", tr.Progress())
	}
}

func TestTrackerCapsLogs(t *testing.T) {
	job := &domain.Job{ID: "j1", Status: domain.JobStatusProcessing}
	repo := newFakeRepo(job)
	tr := NewTracker(repo, fixedClock{time.Now()}, testLogger(), job)

	for i := 0; i < 80; i++ {
		_ = tr.AddLog(context.Background(), fmt.Sprintf("distinct event number %d happened", i))
	}
	logs := tr.Output().Logs
	if len(logs) != domain.MaxLogEntries {
		t.Fatalf("expected %d logs, got %d", domain.MaxLogEntries, len(logs))
	}
	if !strings.Contains(logs[len(logs)-1], "number 79") {
		t.Fatalf("cap should keep the most recent entries, last = %q", logs[len(logs)-1])
	}
	if !strings.Contains(logs[0], "number 30") {
		t.Fatalf("cap should drop the oldest entries, first = %q", logs[0])
	}
}

func TestTrackerKeepsHistoryFromPersistedJob(t *testing.T) {
	out := domain.OutputPayload{Logs: []string{"[09:00:00] earlier attempt"}}
	job := &domain.Job{ID: "j1", Status: domain.JobStatusProcessing, OutputJSON: domain.MustMarshal(out)}
	repo := newFakeRepo(job)
	tr := NewTracker(repo, fixedClock{time.Now()}, testLogger(), job)

	_ = tr.AddLog(context.Background(), "new attempt")
	logs := tr.Output().Logs
	if len(logs) != 2 || !strings.Contains(logs[0], "earlier attempt") {
		t.Fatalf("expected history preserved: %v", logs)
	}
}
