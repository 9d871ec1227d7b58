package runpod

import (
	"context"

	"github.com/duropiri/novai-sub000/internal/engine"
)

// InputBuilder maps normalized stage params onto one endpoint's input schema.
type InputBuilder func(params engine.Params) map[string]any

// Engine binds the shared RunPod client to one serverless endpoint. Each
// pipeline stage that runs on RunPod gets its own Engine instance.
type Engine struct {
	client     *Client
	name       string
	endpointID string
	build      InputBuilder
	poll       engine.PollConfig
}

// NewEngine wires one endpoint as a pipeline engine. A zero poll config takes
// the package default.
func NewEngine(client *Client, name, endpointID string, build InputBuilder, poll engine.PollConfig) *Engine {
	return &Engine{client: client, name: name, endpointID: endpointID, build: build, poll: poll}
}

func (e *Engine) Name() string { return e.name }

// Run drives the fire-and-poll loop to a terminal result.
func (e *Engine) Run(ctx context.Context, params engine.Params, onProgress engine.ProgressFunc) (*engine.Result, error) {
	return engine.RunPolling(ctx, &endpointPoller{engine: e}, params, e.poll, onProgress)
}

// endpointPoller adapts the endpoint-scoped client calls to engine.Poller.
type endpointPoller struct {
	engine *Engine
}

func (p *endpointPoller) Submit(ctx context.Context, params engine.Params) (string, error) {
	input := map[string]any{}
	if p.engine.build != nil {
		input = p.engine.build(params)
	}
	return p.engine.client.Submit(ctx, p.engine.endpointID, input)
}

func (p *endpointPoller) Poll(ctx context.Context, requestID string) (engine.Operation, error) {
	return p.engine.client.Status(ctx, p.engine.endpointID, requestID)
}

var _ engine.Engine = (*Engine)(nil)
