// Package image wraps image-producing providers behind the engine contract.
package image

import (
	"context"
	"errors"
	"fmt"

	"github.com/duropiri/novai-sub000/internal/engine"
	"github.com/duropiri/novai-sub000/internal/providers/genai"
	"github.com/duropiri/novai-sub000/internal/storage"
)

// GeminiEngine generates images through the Gemini client. The call is the
// subscribe shape: one blocking invocation with progress callbacks around its
// phases.
type GeminiEngine struct {
	client *genai.Client
	store  *storage.FileStore
}

// NewGeminiEngine wires the Gemini image engine.
func NewGeminiEngine(client *genai.Client, store *storage.FileStore) *GeminiEngine {
	return &GeminiEngine{client: client, store: store}
}

func (e *GeminiEngine) Name() string { return "gemini" }

// Run generates params.Quantity images, persists them and returns their URLs.
func (e *GeminiEngine) Run(ctx context.Context, params engine.Params, onProgress engine.ProgressFunc) (*engine.Result, error) {
	if params.Prompt == "" {
		return nil, engine.Rejected("image generation requires a prompt")
	}
	if onProgress != nil {
		onProgress(5, "submitting prompt")
	}

	assets, err := e.client.GenerateImages(ctx, genai.ImageRequest{
		Prompt:      params.Prompt,
		Quantity:    params.Quantity,
		AspectRatio: params.AspectRatio,
		RequestID:   params.RequestID,
	})
	if err != nil {
		return nil, classifyGeminiError(ctx, err)
	}
	if len(assets) == 0 {
		return nil, engine.RemoteFailed("gemini returned no images")
	}
	if onProgress != nil {
		onProgress(70, "persisting assets")
	}

	urls := make([]string, 0, len(assets))
	for i, asset := range assets {
		key := fmt.Sprintf("generated/images/%s/image-%02d.png", params.RequestID, i+1)
		url, err := e.store.Upload(ctx, key, asset.Data)
		if err != nil {
			return nil, fmt.Errorf("persist image: %w", err)
		}
		urls = append(urls, url)
	}
	if onProgress != nil {
		onProgress(100, "completed")
	}
	return &engine.Result{URLs: urls, Format: "image/png"}, nil
}

func classifyGeminiError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var statusErr *genai.StatusError
	if errors.As(err, &statusErr) && statusErr.ClientError() {
		return engine.Rejected("%s", statusErr.Message)
	}
	return engine.RemoteFailed("%s", err)
}

var _ engine.Engine = (*GeminiEngine)(nil)
