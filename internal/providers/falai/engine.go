package falai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/duropiri/novai-sub000/internal/engine"
)

// InputBuilder maps normalized stage params onto one model's input schema.
type InputBuilder func(params engine.Params) map[string]any

// Engine binds the shared fal.ai client to one hosted model.
type Engine struct {
	client *Client
	name   string
	model  string
	build  InputBuilder
}

// NewEngine wires one fal.ai model as a pipeline engine.
func NewEngine(client *Client, name, model string, build InputBuilder) *Engine {
	return &Engine{client: client, name: name, model: model, build: build}
}

func (e *Engine) Name() string { return e.name }

// Run blocks on the subscribe call, translating streamed status events into
// progress callbacks.
func (e *Engine) Run(ctx context.Context, params engine.Params, onProgress engine.ProgressFunc) (*engine.Result, error) {
	input := map[string]any{}
	if e.build != nil {
		input = e.build(params)
	}

	raw, err := e.client.Subscribe(ctx, e.model, input, func(event queueStatusEvent) {
		if onProgress == nil {
			return
		}
		onProgress(event.Progress, strings.ToLower(event.Status))
	})
	if err != nil {
		return nil, err
	}
	return parseResponse(raw)
}

// modelResponse is the common shape fal.ai models return: either a single
// file or a list of them.
type modelResponse struct {
	Video *fileRef  `json:"video,omitempty"`
	Audio *fileRef  `json:"audio,omitempty"`
	Image *fileRef  `json:"image,omitempty"`
	Files []fileRef `json:"files,omitempty"`
	// Duration of the produced media in seconds, when the model reports it.
	Duration float64 `json:"duration,omitempty"`
}

type fileRef struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

func parseResponse(raw json.RawMessage) (*engine.Result, error) {
	var decoded modelResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, engine.RemoteFailed("falai: decode result: %s", err)
	}
	res := &engine.Result{Seconds: decoded.Duration}
	for _, ref := range []*fileRef{decoded.Video, decoded.Audio, decoded.Image} {
		if ref != nil && ref.URL != "" {
			res.URLs = append(res.URLs, ref.URL)
			if res.Format == "" {
				res.Format = ref.ContentType
			}
		}
	}
	for _, ref := range decoded.Files {
		if ref.URL != "" {
			res.URLs = append(res.URLs, ref.URL)
		}
	}
	return res, nil
}

var _ engine.Engine = (*Engine)(nil)
