package processor

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/duropiri/novai-sub000/internal/domain"
	"github.com/duropiri/novai-sub000/internal/engine"
	"github.com/duropiri/novai-sub000/internal/infra"
	"github.com/duropiri/novai-sub000/internal/storage"
)

func newTestPlanner(t *testing.T) *Planner {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), "http://localhost/static")
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	cfg := &infra.Config{
		RunPodEndpoints: map[string]string{
			"frame-extraction":      "frames-v1",
			"identity-regeneration": "identity-v1",
			"video-generation":      "video-v1",
			"training":              "training-v1",
			"variant-render":        "variant-v1",
		},
	}
	p, err := NewPlanner(cfg, store, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("planner: %v", err)
	}
	return p
}

func testJob(jobType domain.JobType) *domain.Job {
	return &domain.Job{
		ID:   "job-1",
		Type: jobType,
		InputJSON: domain.MustMarshal(domain.InputPayload{
			Prompt:     "a red bridge",
			Quantity:   2,
			SourceURL:  "http://example.com/src.mp4",
			TargetURL:  "http://example.com/face.png",
			Resolution: "720p",
		}),
	}
}

func TestPlanCoversFullProgressRange(t *testing.T) {
	p := newTestPlanner(t)
	for _, jobType := range []domain.JobType{
		domain.JobTypeTraining,
		domain.JobTypeDiagram,
		domain.JobTypeFaceSwap,
		domain.JobTypeImage,
		domain.JobTypeVariant,
	} {
		t.Run(string(jobType), func(t *testing.T) {
			stages, err := p.Plan(testJob(jobType))
			if err != nil {
				t.Fatalf("plan: %v", err)
			}
			if len(stages) == 0 {
				t.Fatal("empty plan")
			}
			prev := 0
			for _, s := range stages {
				if s.Lo != prev {
					t.Errorf("stage %s starts at %d, want %d", s.Name, s.Lo, prev)
				}
				if s.Hi <= s.Lo {
					t.Errorf("stage %s has empty range [%d,%d)", s.Name, s.Lo, s.Hi)
				}
				if len(s.Chain) == 0 {
					t.Errorf("stage %s has no engines", s.Name)
				}
				prev = s.Hi
			}
			if prev != 100 {
				t.Errorf("plan ends at %d, want 100", prev)
			}
		})
	}
}

func TestFaceSwapPlanShape(t *testing.T) {
	p := newTestPlanner(t)
	stages, err := p.Plan(testJob(domain.JobTypeFaceSwap))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(stages) != 5 {
		t.Fatalf("got %d stages, want 5", len(stages))
	}
	video := stages[2]
	if video.Name != "video-generation" || len(video.Chain) != 2 {
		t.Errorf("video stage = %q with %d engines, want video-generation with a fallback", video.Name, len(video.Chain))
	}
	audio := stages[3]
	if !audio.Optional {
		t.Error("audio-merge must be optional")
	}
	for i, s := range stages {
		if i != 3 && s.Optional {
			t.Errorf("stage %s must not be optional", s.Name)
		}
	}
}

func TestPlanRejectsUnknownType(t *testing.T) {
	p := newTestPlanner(t)
	if _, err := p.Plan(testJob(domain.JobType("mystery"))); err == nil {
		t.Fatal("expected error for unknown job type")
	}
}

type namedEngine string

func (n namedEngine) Name() string { return string(n) }
func (n namedEngine) Run(_ context.Context, _ engine.Params, _ engine.ProgressFunc) (*engine.Result, error) {
	return nil, nil
}

func TestImageCostBillsFallbackFlat(t *testing.T) {
	res := &engine.Result{URLs: []string{"a", "b", "c"}}
	if got := imageCost(res, namedEngine("gemini")); got != 12 {
		t.Errorf("gemini cost = %d, want 12 (3 images at 4 cents)", got)
	}
	if got := imageCost(res, namedEngine("qwen")); got != 2 {
		t.Errorf("qwen fallback cost = %d, want flat 2", got)
	}
}

func TestVideoCostPrefersMeteredBilling(t *testing.T) {
	metered := &engine.Result{URLs: []string{"v"}, Seconds: 8, Resolution: "720p"}
	if got := videoCost(metered, namedEngine("runpod-video")); got != 20 {
		t.Errorf("metered cost = %d, want 20 (8s at 2.5 cents)", got)
	}
	if got := videoCost(metered, namedEngine("falai-video")); got != 9 {
		t.Errorf("fallback cost = %d, want flat 9", got)
	}
	frames := &engine.Result{URLs: []string{"v"}, Frames: 10}
	if got := videoCost(frames, namedEngine("runpod-video")); got != 3 {
		t.Errorf("frame cost = %d, want 3 (10 frames at 0.25 cents, rounded up)", got)
	}
}
