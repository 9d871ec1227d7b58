// Package processor translates a job record into the ordered stage plan the
// pipeline runner executes. Each job type owns a fixed weight table; the sum
// of its stage sub-ranges always covers 0..100.
package processor

import (
	"fmt"
	"strings"
	"time"

	"github.com/duropiri/novai-sub000/internal/domain"
	"github.com/duropiri/novai-sub000/internal/engine"
	"github.com/duropiri/novai-sub000/internal/infra"
	"github.com/duropiri/novai-sub000/internal/pipeline"
	"github.com/duropiri/novai-sub000/internal/pricing"
	"github.com/duropiri/novai-sub000/internal/providers/falai"
	"github.com/duropiri/novai-sub000/internal/providers/genai"
	"github.com/duropiri/novai-sub000/internal/providers/image"
	"github.com/duropiri/novai-sub000/internal/providers/local"
	"github.com/duropiri/novai-sub000/internal/providers/qwen"
	"github.com/duropiri/novai-sub000/internal/providers/runpod"
	"github.com/duropiri/novai-sub000/internal/storage"
)

// Planner holds one engine instance per provider/workload pair and assembles
// stage plans from them. All engines are built once at startup.
type Planner struct {
	gemini        engine.Engine
	qwen          engine.Engine
	frames        engine.Engine
	identity      engine.Engine
	video         engine.Engine
	training      engine.Engine
	variantRender engine.Engine
	falVideo      engine.Engine
	falAudio      engine.Engine
	finalize      engine.Engine
	dataset       engine.Engine
}

// NewPlanner wires every provider engine from configuration.
func NewPlanner(cfg *infra.Config, store *storage.FileStore, logger infra.Logger) (*Planner, error) {
	genaiClient, err := genai.NewClient(genai.Options{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Logger:  &logger,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	qwenClient, err := qwen.NewClient(qwen.Options{
		APIKey:  cfg.QwenAPIKey,
		BaseURL: cfg.QwenBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		return nil, fmt.Errorf("qwen client: %w", err)
	}
	runpodClient := runpod.NewClient(runpod.Options{
		APIKey:  cfg.RunPodAPIKey,
		BaseURL: cfg.RunPodBaseURL,
		Logger:  &logger,
	})
	falClient := falai.NewClient(falai.Options{
		APIKey:  cfg.FalAPIKey,
		BaseURL: cfg.FalBaseURL,
		Logger:  &logger,
	})

	endpoint := func(name string) string { return cfg.RunPodEndpoints[name] }
	return &Planner{
		gemini:        image.NewGeminiEngine(genaiClient, store),
		qwen:          image.NewQwenEngine(qwenClient),
		frames:        runpod.NewEngine(runpodClient, "runpod-frames", endpoint("frame-extraction"), frameExtractionInput, engine.PollConfig{Interval: 3 * time.Second, MaxAttempts: 100}),
		identity:      runpod.NewEngine(runpodClient, "runpod-identity", endpoint("identity-regeneration"), identityInput, engine.DefaultPollConfig),
		video:         runpod.NewEngine(runpodClient, "runpod-video", endpoint("video-generation"), videoInput, engine.PollConfig{Interval: 10 * time.Second, MaxAttempts: 150}),
		training:      runpod.NewEngine(runpodClient, "runpod-training", endpoint("training"), trainingInput, engine.PollConfig{Interval: 15 * time.Second, MaxAttempts: 160}),
		variantRender: runpod.NewEngine(runpodClient, "runpod-variant", endpoint("variant-render"), variantInput, engine.DefaultPollConfig),
		falVideo:      falai.NewEngine(falClient, "falai-video", "fal-ai/minimax-video", falVideoInput),
		falAudio:      falai.NewEngine(falClient, "falai-audio", "fal-ai/ffmpeg-api/merge-audio-video", falAudioInput),
		finalize:      local.NewManifestEngine(store, "manifest"),
		dataset:       local.NewManifestEngine(store, "dataset"),
	}, nil
}

// Plan builds the ordered stage list for one job. It decodes the job's input
// payload once and threads it through every stage.
func (p *Planner) Plan(job *domain.Job) ([]pipeline.Stage, error) {
	in, err := job.DecodeInput()
	if err != nil {
		return nil, fmt.Errorf("decode input for job %s: %w", job.ID, err)
	}
	params := engine.Params{
		Prompt:      in.Prompt,
		Quantity:    in.Quantity,
		AspectRatio: in.AspectRatio,
		SourceURL:   in.SourceURL,
		TargetURL:   in.TargetURL,
		AudioURL:    in.AudioURL,
		Resolution:  in.Resolution,
		References:  in.References,
		RequestID:   job.ID,
	}

	switch job.Type {
	case domain.JobTypeFaceSwap:
		return p.faceSwapPlan(params), nil
	case domain.JobTypeImage, domain.JobTypeDiagram:
		return p.imagePlan(params), nil
	case domain.JobTypeTraining:
		return p.trainingPlan(params), nil
	case domain.JobTypeVariant:
		return p.variantPlan(params), nil
	default:
		return nil, fmt.Errorf("no plan for job type %q", job.Type)
	}
}

func (p *Planner) faceSwapPlan(params engine.Params) []pipeline.Stage {
	return []pipeline.Stage{
		{Name: "frame-extraction", Lo: 0, Hi: 10, Chain: []engine.Engine{p.frames}, Timeout: 5 * time.Minute, Params: params},
		{Name: "identity-regeneration", Lo: 10, Hi: 40, Chain: []engine.Engine{p.identity}, Timeout: 15 * time.Minute, Params: params, Cost: frameCost},
		{Name: "video-generation", Lo: 40, Hi: 85, Chain: []engine.Engine{p.video, p.falVideo}, Timeout: 25 * time.Minute, Params: params, Cost: videoCost},
		{Name: "audio-merge", Lo: 85, Hi: 95, Chain: []engine.Engine{p.falAudio}, Optional: true, Timeout: 10 * time.Minute, Params: params, Cost: flatProviderCost},
		{Name: "finalize", Lo: 95, Hi: 100, Chain: []engine.Engine{p.finalize}, Timeout: 2 * time.Minute, Params: params},
	}
}

func (p *Planner) imagePlan(params engine.Params) []pipeline.Stage {
	if params.Quantity <= 0 {
		params.Quantity = 1
	}
	return []pipeline.Stage{
		{Name: "generate", Lo: 0, Hi: 90, Chain: []engine.Engine{p.gemini, p.qwen}, Timeout: 10 * time.Minute, Params: params, Cost: imageCost},
		{Name: "finalize", Lo: 90, Hi: 100, Chain: []engine.Engine{p.finalize}, Timeout: 2 * time.Minute, Params: params},
	}
}

func (p *Planner) trainingPlan(params engine.Params) []pipeline.Stage {
	return []pipeline.Stage{
		{Name: "dataset-prep", Lo: 0, Hi: 15, Chain: []engine.Engine{p.dataset}, Timeout: 5 * time.Minute, Params: params},
		{Name: "training", Lo: 15, Hi: 90, Chain: []engine.Engine{p.training}, Timeout: 35 * time.Minute, Params: params, Cost: trainingCost},
		{Name: "finalize", Lo: 90, Hi: 100, Chain: []engine.Engine{p.finalize}, Timeout: 2 * time.Minute, Params: params},
	}
}

func (p *Planner) variantPlan(params engine.Params) []pipeline.Stage {
	return []pipeline.Stage{
		{Name: "render", Lo: 0, Hi: 90, Chain: []engine.Engine{p.variantRender, p.falVideo}, Timeout: 20 * time.Minute, Params: params, Cost: videoCost},
		{Name: "finalize", Lo: 90, Hi: 100, Chain: []engine.Engine{p.finalize}, Timeout: 2 * time.Minute, Params: params},
	}
}

// imageCost bills per image on the primary generator and a flat request fee
// when the fallback produced the result.
func imageCost(res *engine.Result, eng engine.Engine) int {
	if eng.Name() == "qwen" {
		return pricing.FlatCents("qwen")
	}
	return pricing.ImageCents(len(res.URLs))
}

// videoCost bills per second on the metered provider; the fal.ai fallback is
// a flat request fee. Providers that report frames but no duration are billed
// per frame.
func videoCost(res *engine.Result, eng engine.Engine) int {
	if strings.HasPrefix(eng.Name(), "falai") {
		return pricing.FlatCents("falai")
	}
	if res.Seconds > 0 {
		return pricing.VideoCents(res.Seconds, pricing.TierForResolution(res.Resolution))
	}
	return pricing.FrameCents(res.Frames)
}

func frameCost(res *engine.Result, _ engine.Engine) int {
	return pricing.FrameCents(res.Frames)
}

func trainingCost(_ *engine.Result, _ engine.Engine) int {
	return pricing.TrainingCents()
}

func flatProviderCost(_ *engine.Result, eng engine.Engine) int {
	switch {
	case strings.HasPrefix(eng.Name(), "falai"):
		return pricing.FlatCents("falai")
	case strings.HasPrefix(eng.Name(), "runpod"):
		return pricing.FlatCents("runpod")
	default:
		return 0
	}
}

func frameExtractionInput(p engine.Params) map[string]any {
	return map[string]any{"video_url": p.SourceURL}
}

func identityInput(p engine.Params) map[string]any {
	return map[string]any{
		"frames_url": p.SourceURL,
		"face_url":   p.TargetURL,
		"references": p.References,
	}
}

func videoInput(p engine.Params) map[string]any {
	return map[string]any{
		"frames_url": p.SourceURL,
		"resolution": p.Resolution,
	}
}

func trainingInput(p engine.Params) map[string]any {
	return map[string]any{
		"dataset_url": p.SourceURL,
		"references":  p.References,
	}
}

func variantInput(p engine.Params) map[string]any {
	return map[string]any{
		"video_url":  p.SourceURL,
		"face_url":   p.TargetURL,
		"audio_url":  p.AudioURL,
		"resolution": p.Resolution,
	}
}

func falVideoInput(p engine.Params) map[string]any {
	return map[string]any{
		"prompt":       p.Prompt,
		"image_url":    p.SourceURL,
		"aspect_ratio": p.AspectRatio,
	}
}

func falAudioInput(p engine.Params) map[string]any {
	return map[string]any{
		"video_url": p.SourceURL,
		"audio_url": p.AudioURL,
	}
}
