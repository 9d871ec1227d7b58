// Package runpod wraps serverless GPU endpoints behind the fire-and-poll
// transport shape: submit a request, then fetch status until terminal. The
// engine surface normalizes that loop so the pipeline never sees it.
package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/duropiri/novai-sub000/internal/engine"
	"github.com/duropiri/novai-sub000/internal/infra"
)

// Options configures the RunPod client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client performs HTTP calls against the RunPod serverless API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a RunPod client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.runpod.ai/v2"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{apiKey: strings.TrimSpace(opts.APIKey), baseURL: baseURL, httpClient: httpClient, logger: logger}
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type statusResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Submit starts a job on the named endpoint and returns its request id.
func (c *Client) Submit(ctx context.Context, endpointID string, input map[string]any) (string, error) {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return "", fmt.Errorf("runpod: marshal input: %w", err)
	}
	var decoded submitResponse
	status, err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/%s/run", c.baseURL, endpointID), body, &decoded)
	if err != nil {
		return "", err
	}
	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		return "", engine.Rejected("runpod refused input: %s", decoded.Error)
	}
	if status >= http.StatusBadRequest {
		return "", engine.RemoteFailed("runpod submit status %d: %s", status, decoded.Error)
	}
	if decoded.ID == "" {
		return "", engine.RemoteFailed("runpod submit returned no request id")
	}
	c.logger.Debug().Str("endpoint", endpointID).Str("request_id", decoded.ID).Msg("runpod: submitted")
	return decoded.ID, nil
}

// Status fetches the normalized state of an in-flight request.
func (c *Client) Status(ctx context.Context, endpointID, requestID string) (engine.Operation, error) {
	var decoded statusResponse
	status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/%s/status/%s", c.baseURL, endpointID, requestID), nil, &decoded)
	if err != nil {
		return engine.Operation{}, err
	}
	if status >= http.StatusBadRequest {
		return engine.Operation{}, engine.RemoteFailed("runpod status %d for request %s", status, requestID)
	}
	op := engine.Operation{ID: decoded.ID, Status: normalizeStatus(decoded.Status), Error: decoded.Error}
	if op.Status == engine.StatusCompleted {
		res, err := parseOutput(decoded.Output)
		if err != nil {
			return engine.Operation{}, engine.RemoteFailed("runpod output: %s", err)
		}
		op.Result = res
	}
	return op, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("runpod: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, engine.RemoteFailed("runpod: %s", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return resp.StatusCode, engine.RemoteFailed("runpod: decode response: %s", err)
	}
	return resp.StatusCode, nil
}

func normalizeStatus(s string) engine.Status {
	switch strings.ToUpper(s) {
	case "IN_QUEUE":
		return engine.StatusQueued
	case "IN_PROGRESS":
		return engine.StatusInProgress
	case "COMPLETED":
		return engine.StatusCompleted
	case "FAILED", "CANCELLED", "TIMED_OUT":
		return engine.StatusFailed
	default:
		return engine.StatusInProgress
	}
}

// endpointOutput is the shape our RunPod workers return.
type endpointOutput struct {
	URLs       []string `json:"urls,omitempty"`
	URL        string   `json:"url,omitempty"`
	Format     string   `json:"format,omitempty"`
	Seconds    float64  `json:"seconds,omitempty"`
	Frames     int      `json:"frames,omitempty"`
	Resolution string   `json:"resolution,omitempty"`
}

func parseOutput(raw json.RawMessage) (*engine.Result, error) {
	if len(raw) == 0 {
		return &engine.Result{}, nil
	}
	var out endpointOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	urls := out.URLs
	if out.URL != "" {
		urls = append(urls, out.URL)
	}
	return &engine.Result{
		URLs:       urls,
		Format:     out.Format,
		Seconds:    out.Seconds,
		Frames:     out.Frames,
		Resolution: out.Resolution,
	}, nil
}
