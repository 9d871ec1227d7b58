package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/duropiri/novai-sub000/internal/domain"
	"github.com/duropiri/novai-sub000/internal/engine"
)

// stubEngine scripts one adapter's behavior for the runner.
type stubEngine struct {
	name      string
	result    *engine.Result
	err       error
	hang      bool
	progress  []int
	panicMsg  string
	callCount int
}

func (s *stubEngine) Name() string { return s.name }

func (s *stubEngine) Run(ctx context.Context, params engine.Params, onProgress engine.ProgressFunc) (*engine.Result, error) {
	s.callCount++
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	for _, pct := range s.progress {
		if onProgress != nil {
			onProgress(pct, "in_progress")
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func oneURL(name string) *engine.Result {
	return &engine.Result{URLs: []string{"https://cdn.example.com/" + name + ".mp4"}, Format: "video/mp4", Seconds: 8}
}

func processingJob(id string) *domain.Job {
	return &domain.Job{ID: id, Type: domain.JobTypeFaceSwap, Status: domain.JobStatusPending}
}

func newTestRunner(repo *fakeRepo) *Runner {
	return NewRunner(repo, fixedClock{time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)}, testLogger(), nil)
}

func TestExecuteHappyPath(t *testing.T) {
	job := processingJob("j1")
	repo := newFakeRepo(job)
	r := newTestRunner(repo)

	primary := &stubEngine{name: "runpod", result: oneURL("swap"), progress: []int{25, 50, 100}}
	stages := []Stage{
		{Name: "frame-extraction", Lo: 0, Hi: 10, Chain: []engine.Engine{&stubEngine{name: "local", result: &engine.Result{Frames: 240}}},
			Cost: func(res *engine.Result, _ engine.Engine) int { return 60 }},
		{Name: "video-generation", Lo: 10, Hi: 95, Chain: []engine.Engine{primary},
			Cost: func(res *engine.Result, _ engine.Engine) int { return 40 }},
		{Name: "finalize", Lo: 95, Hi: 100, Chain: []engine.Engine{&stubEngine{name: "local", result: oneURL("final")}}},
	}

	if err := r.Execute(context.Background(), job, stages, time.Minute); err != nil {
		t.Fatal(err)
	}

	stored, _ := repo.GetByID(context.Background(), "j1")
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if stored.Progress != 100 {
		t.Fatalf("progress = %d, want 100", stored.Progress)
	}
	if stored.CostCents == nil || *stored.CostCents != 100 {
		t.Fatalf("cost = %v, want 100", stored.CostCents)
	}
	out := stored.DecodeOutput()
	if _, ok := out.Results["video-generation"]; !ok {
		t.Fatalf("missing stage result: %v", out.Results)
	}
	if repo.markCompleted != 1 {
		t.Fatalf("markCompleted called %d times", repo.markCompleted)
	}
}

func TestExecuteFallbackSucceeds(t *testing.T) {
	job := processingJob("j1")
	repo := newFakeRepo(job)
	r := newTestRunner(repo)

	primary := &stubEngine{name: "runpod", err: engine.RemoteFailed("gpu pool exhausted")}
	fallback := &stubEngine{name: "falai", result: oneURL("fallback")}
	stages := []Stage{{
		Name: "video-generation", Lo: 0, Hi: 100,
		Chain: []engine.Engine{primary, fallback},
		Cost: func(_ *engine.Result, eng engine.Engine) int {
			if eng.Name() == "falai" {
				return 9
			}
			return 40
		},
	}}

	if err := r.Execute(context.Background(), job, stages, time.Minute); err != nil {
		t.Fatal(err)
	}

	stored, _ := repo.GetByID(context.Background(), "j1")
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	// Only the engine that succeeded is billed.
	if stored.CostCents == nil || *stored.CostCents != 9 {
		t.Fatalf("cost = %v, want fallback price 9", stored.CostCents)
	}
	out := stored.DecodeOutput()
	if len(out.Assets) != 1 || !strings.Contains(out.Assets[0], "fallback") {
		t.Fatalf("output should reference only the fallback result: %v", out.Assets)
	}
	var sawFallbackLog bool
	for _, line := range out.Logs {
		if strings.Contains(line, "fallback engine falai") {
			sawFallbackLog = true
		}
	}
	if !sawFallbackLog {
		t.Fatalf("expected a log entry noting the fallback engine, logs: %v", out.Logs)
	}
}

func TestExecuteRejectedIsFatal(t *testing.T) {
	job := processingJob("j1")
	repo := newFakeRepo(job)
	r := newTestRunner(repo)

	fallback := &stubEngine{name: "falai", result: oneURL("x")}
	stages := []Stage{{
		Name: "video-generation", Lo: 0, Hi: 100,
		Chain: []engine.Engine{&stubEngine{name: "runpod", err: engine.Rejected("unsupported codec")}, fallback},
	}}

	if err := r.Execute(context.Background(), job, stages, time.Minute); err == nil {
		t.Fatal("expected terminal error")
	}
	if fallback.callCount != 0 {
		t.Fatal("fallback must not run after a caller rejection")
	}
	stored, _ := repo.GetByID(context.Background(), "j1")
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if !strings.Contains(stored.ErrorMessage, "rejected") {
		t.Fatalf("error message should mark the rejection: %q", stored.ErrorMessage)
	}
}

func TestExecuteChainExhausted(t *testing.T) {
	job := processingJob("j1")
	repo := newFakeRepo(job)
	r := newTestRunner(repo)

	stages := []Stage{{
		Name: "video-generation", Lo: 0, Hi: 100,
		Chain: []engine.Engine{
			&stubEngine{name: "runpod", err: engine.RemoteFailed("oom")},
			&stubEngine{name: "falai", err: engine.RemoteFailed("quota")},
		},
	}}

	if err := r.Execute(context.Background(), job, stages, time.Minute); err == nil {
		t.Fatal("expected terminal error")
	}
	stored, _ := repo.GetByID(context.Background(), "j1")
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if !strings.Contains(stored.ErrorMessage, "quota") {
		t.Fatalf("error message should carry the last engine error: %q", stored.ErrorMessage)
	}
}

func TestExecuteOptionalStageSkipped(t *testing.T) {
	job := processingJob("j1")
	repo := newFakeRepo(job)
	r := newTestRunner(repo)

	stages := []Stage{
		{Name: "video-generation", Lo: 0, Hi: 85, Chain: []engine.Engine{&stubEngine{name: "runpod", result: oneURL("v")}},
			Cost: func(*engine.Result, engine.Engine) int { return 40 }},
		{Name: "audio-merge", Lo: 85, Hi: 95, Optional: true,
			Chain: []engine.Engine{&stubEngine{name: "falai", err: engine.RemoteFailed("no audio track")}},
			Cost:  func(*engine.Result, engine.Engine) int { return 9 }},
		{Name: "finalize", Lo: 95, Hi: 100, Chain: []engine.Engine{&stubEngine{name: "local", result: oneURL("f")}}},
	}

	if err := r.Execute(context.Background(), job, stages, time.Minute); err != nil {
		t.Fatal(err)
	}
	stored, _ := repo.GetByID(context.Background(), "j1")
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	// The skipped optional stage contributes zero cost.
	if stored.CostCents == nil || *stored.CostCents != 40 {
		t.Fatalf("cost = %v, want 40", stored.CostCents)
	}
	out := stored.DecodeOutput()
	if _, ok := out.Results["audio-merge"]; ok {
		t.Fatal("skipped stage must not record a result")
	}
}

func TestExecuteStageTimeoutDistinctMessage(t *testing.T) {
	job := processingJob("j1")
	repo := newFakeRepo(job)
	r := newTestRunner(repo)

	stages := []Stage{{
		Name: "video-generation", Lo: 0, Hi: 100, Timeout: 10 * time.Millisecond,
		Chain: []engine.Engine{&stubEngine{name: "runpod", hang: true}},
	}}

	if err := r.Execute(context.Background(), job, stages, time.Minute); err == nil {
		t.Fatal("expected terminal error")
	}
	stored, _ := repo.GetByID(context.Background(), "j1")
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if !strings.HasPrefix(stored.ErrorMessage, "timeout:") {
		t.Fatalf("timeout must be textually distinguishable: %q", stored.ErrorMessage)
	}
}

func TestExecuteStageTimeoutThenFallback(t *testing.T) {
	job := processingJob("j1")
	repo := newFakeRepo(job)
	r := newTestRunner(repo)

	stages := []Stage{{
		Name: "video-generation", Lo: 0, Hi: 100, Timeout: 10 * time.Millisecond,
		Chain: []engine.Engine{
			&stubEngine{name: "runpod", hang: true},
			&stubEngine{name: "falai", result: oneURL("rescued")},
		},
	}}

	if err := r.Execute(context.Background(), job, stages, time.Minute); err != nil {
		t.Fatal(err)
	}
	stored, _ := repo.GetByID(context.Background(), "j1")
	out := stored.DecodeOutput()
	if len(out.Assets) != 1 || !strings.Contains(out.Assets[0], "rescued") {
		t.Fatalf("final output should reference only the fallback result: %v", out.Assets)
	}
}

func TestExecuteJobDeadline(t *testing.T) {
	job := processingJob("j1")
	repo := newFakeRepo(job)
	r := newTestRunner(repo)

	stages := []Stage{{
		Name: "video-generation", Lo: 0, Hi: 100,
		Chain: []engine.Engine{
			&stubEngine{name: "runpod", hang: true},
			&stubEngine{name: "falai", result: oneURL("x")},
		},
	}}

	if err := r.Execute(context.Background(), job, stages, 15*time.Millisecond); err == nil {
		t.Fatal("expected terminal error")
	}
	stored, _ := repo.GetByID(context.Background(), "j1")
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if !strings.Contains(stored.ErrorMessage, "timeout") {
		t.Fatalf("job deadline must read as a timeout: %q", stored.ErrorMessage)
	}
}

func TestExecuteEmptyResultIsFailure(t *testing.T) {
	job := processingJob("j1")
	repo := newFakeRepo(job)
	r := newTestRunner(repo)

	stages := []Stage{{
		Name: "image-generation", Lo: 0, Hi: 100,
		Chain: []engine.Engine{&stubEngine{name: "gemini", result: &engine.Result{}}},
	}}

	if err := r.Execute(context.Background(), job, stages, time.Minute); err == nil {
		t.Fatal("a degenerate empty result must fail the stage")
	}
	stored, _ := repo.GetByID(context.Background(), "j1")
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if !strings.Contains(stored.ErrorMessage, "empty result") {
		t.Fatalf("error should name the empty result: %q", stored.ErrorMessage)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	job := processingJob("j1")
	repo := newFakeRepo(job)
	r := newTestRunner(repo)

	stages := []Stage{{
		Name: "video-generation", Lo: 0, Hi: 100,
		Chain: []engine.Engine{&stubEngine{name: "runpod", panicMsg: "nil deref in adapter"}},
	}}

	if err := r.Execute(context.Background(), job, stages, time.Minute); err == nil {
		t.Fatal("expected error from recovered panic")
	}
	stored, _ := repo.GetByID(context.Background(), "j1")
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if !strings.Contains(stored.ErrorMessage, "nil deref") {
		t.Fatalf("panic message should surface: %q", stored.ErrorMessage)
	}
}

func TestExecuteProgressStaysInStageRange(t *testing.T) {
	job := processingJob("j1")
	repo := newFakeRepo(job)
	r := newTestRunner(repo)

	probe := &stubEngine{name: "runpod", result: oneURL("v"), progress: []int{0, 50, 100, 250, -5}}
	stages := []Stage{{Name: "video-generation", Lo: 40, Hi: 85, Chain: []engine.Engine{probe}}}

	if err := r.Execute(context.Background(), job, stages, time.Minute); err != nil {
		t.Fatal(err)
	}
	stored, _ := repo.GetByID(context.Background(), "j1")
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s", stored.Status)
	}
	// Final in-stage progress is Hi-1; MarkCompleted then pins 100.
	if stored.Progress != 100 {
		t.Fatalf("progress = %d", stored.Progress)
	}
}

func TestStageMapPercent(t *testing.T) {
	s := Stage{Lo: 40, Hi: 85}
	tests := []struct {
		in   int
		want int
	}{
		{0, 40},
		{50, 62},
		{100, 84}, // never reaches Hi
		{250, 84},
		{-5, 40},
	}
	for _, tt := range tests {
		if got := s.mapPercent(tt.in); got != tt.want {
			t.Fatalf("mapPercent(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestExecuteDoubleCompletionSafe(t *testing.T) {
	job := processingJob("j1")
	repo := newFakeRepo(job)
	r := newTestRunner(repo)

	stages := []Stage{{Name: "finalize", Lo: 0, Hi: 100,
		Chain: []engine.Engine{&stubEngine{name: "local", result: oneURL("v")}},
		Cost:  func(*engine.Result, engine.Engine) int { return 7 }}}

	if err := r.Execute(context.Background(), job, stages, time.Minute); err != nil {
		t.Fatal(err)
	}
	first, _ := repo.GetByID(context.Background(), "j1")

	// A duplicate delivery of the same job must not disturb the terminal row.
	_ = r.Execute(context.Background(), job, stages, time.Minute)
	second, _ := repo.GetByID(context.Background(), "j1")

	if *first.CostCents != *second.CostCents {
		t.Fatalf("cost changed on replay: %d -> %d", *first.CostCents, *second.CostCents)
	}
	if !first.CompletedAt.Equal(*second.CompletedAt) {
		t.Fatal("completed_at moved on replay")
	}
	if second.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s", second.Status)
	}
}
