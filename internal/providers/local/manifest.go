// Package local hosts in-process stages that need no remote provider:
// manifest finalization and training dataset preparation.
package local

import (
	"context"
	"fmt"
	"time"

	"github.com/duropiri/novai-sub000/internal/domain"
	"github.com/duropiri/novai-sub000/internal/engine"
	"github.com/duropiri/novai-sub000/internal/storage"
)

// ManifestEngine writes a JSON manifest tying a job's inputs together and
// returns its URL. Used by finalize and dataset-prep stages.
type ManifestEngine struct {
	store *storage.FileStore
	kind  string
}

// NewManifestEngine wires a manifest writer. kind distinguishes the artifact
// path ("manifest", "dataset").
func NewManifestEngine(store *storage.FileStore, kind string) *ManifestEngine {
	if kind == "" {
		kind = "manifest"
	}
	return &ManifestEngine{store: store, kind: kind}
}

func (e *ManifestEngine) Name() string { return "local-" + e.kind }

func (e *ManifestEngine) Run(ctx context.Context, params engine.Params, onProgress engine.ProgressFunc) (*engine.Result, error) {
	if onProgress != nil {
		onProgress(10, "assembling "+e.kind)
	}

	doc := map[string]any{
		"request_id":   params.RequestID,
		"prompt":       params.Prompt,
		"source_url":   params.SourceURL,
		"target_url":   params.TargetURL,
		"references":   params.References,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	}
	key := fmt.Sprintf("generated/%s/%s/%s.json", e.kind, params.RequestID, e.kind)
	url, err := e.store.Upload(ctx, key, domain.MustMarshal(doc))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, engine.RemoteFailed("write %s: %s", e.kind, err)
	}
	if onProgress != nil {
		onProgress(100, e.kind+" written")
	}
	return &engine.Result{URLs: []string{url}, Format: "application/json"}, nil
}

var _ engine.Engine = (*ManifestEngine)(nil)
