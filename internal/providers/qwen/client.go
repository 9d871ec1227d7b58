// Package qwen calls the DashScope text-to-image API. It is the per-request
// priced fallback behind the Gemini image engine.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/duropiri/novai-sub000/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("qwen: api key is required")

// Options configures the DashScope Qwen client.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client performs HTTP calls to the DashScope Qwen text-to-image API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// ImageRequest captures the required inputs for image generation.
type ImageRequest struct {
	Prompt    string
	Size      string
	RequestID string
}

// ImageAsset is the normalized result from the Qwen API.
type ImageAsset struct {
	URL    string
	Format string
}

type generationRequest struct {
	Model      string           `json:"model"`
	Input      generationInput  `json:"input"`
	Parameters generationParams `json:"parameters"`
}

type generationInput struct {
	Prompt string `json:"prompt"`
}

type generationParams struct {
	Size string `json:"size,omitempty"`
	N    int    `json:"n,omitempty"`
}

type generationResponse struct {
	Output struct {
		Results []struct {
			URL string `json:"url"`
		} `json:"results"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 45 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "qwen-image-plus"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client is usable.
func (c *Client) HasCredentials() bool { return c.apiKey != "" }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// GenerateImage runs one text-to-image request and returns the hosted URL.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageAsset, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	payload := generationRequest{
		Model:      c.model,
		Input:      generationInput{Prompt: req.Prompt},
		Parameters: generationParams{Size: req.Size, N: 1},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("qwen: marshal request: %w", err)
	}

	endpoint := c.baseURL + "/services/aigc/text2image/image-synthesis"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("qwen: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("qwen: invoke: %w", err)
	}
	defer resp.Body.Close()

	var decoded generationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("qwen: decode response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest || decoded.Code != "" {
		return nil, &APIError{Status: resp.StatusCode, Code: decoded.Code, Message: decoded.Message}
	}
	if len(decoded.Output.Results) == 0 || decoded.Output.Results[0].URL == "" {
		return nil, fmt.Errorf("qwen: no image in response")
	}

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("qwen_request_id", decoded.RequestID).
		Msg("qwen: image generated")

	return &ImageAsset{URL: decoded.Output.Results[0].URL, Format: "image/png"}, nil
}

// APIError carries DashScope's status and error code so callers can separate
// bad input from provider failures.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qwen status %d (%s): %s", e.Status, e.Code, e.Message)
}

// ClientError reports whether the request itself was at fault.
func (e *APIError) ClientError() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}
