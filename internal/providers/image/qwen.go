package image

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/duropiri/novai-sub000/internal/engine"
	"github.com/duropiri/novai-sub000/internal/providers/qwen"
)

// qwenImageClient is the slice of the DashScope client this engine needs.
type qwenImageClient interface {
	GenerateImage(context.Context, qwen.ImageRequest) (*qwen.ImageAsset, error)
	HasCredentials() bool
	Model() string
}

// QwenEngine is the per-request priced fallback image engine. DashScope hosts
// the output itself, so no storage round-trip is needed.
type QwenEngine struct {
	client qwenImageClient
}

// NewQwenEngine wires the Qwen fallback engine.
func NewQwenEngine(client qwenImageClient) *QwenEngine {
	return &QwenEngine{client: client}
}

func (e *QwenEngine) Name() string { return "qwen" }

func (e *QwenEngine) Run(ctx context.Context, params engine.Params, onProgress engine.ProgressFunc) (*engine.Result, error) {
	if e.client == nil || !e.client.HasCredentials() {
		return nil, engine.RemoteFailed("qwen engine not configured")
	}
	if strings.TrimSpace(params.Prompt) == "" {
		return nil, engine.Rejected("image generation requires a prompt")
	}

	quantity := params.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	urls := make([]string, 0, quantity)
	for i := 0; i < quantity; i++ {
		if onProgress != nil {
			onProgress(i*100/quantity, "generating")
		}
		asset, err := e.client.GenerateImage(ctx, qwen.ImageRequest{
			Prompt:    params.Prompt,
			Size:      aspectToSize(params.AspectRatio),
			RequestID: fmt.Sprintf("%s-%d", params.RequestID, i+1),
		})
		if err != nil {
			return nil, classifyQwenError(ctx, err)
		}
		urls = append(urls, asset.URL)
	}
	if onProgress != nil {
		onProgress(100, "completed")
	}
	return &engine.Result{URLs: urls, Format: "image/png"}, nil
}

func classifyQwenError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *qwen.APIError
	if errors.As(err, &apiErr) && apiErr.ClientError() {
		return engine.Rejected("%s", apiErr.Message)
	}
	return engine.RemoteFailed("%s", err)
}

func aspectToSize(aspect string) string {
	switch strings.TrimSpace(aspect) {
	case "16:9":
		return "1664*928"
	case "9:16":
		return "928*1664"
	case "4:3":
		return "1472*1140"
	default:
		return "1328*1328"
	}
}

var _ engine.Engine = (*QwenEngine)(nil)
