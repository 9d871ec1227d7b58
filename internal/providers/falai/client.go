// Package falai wraps fal.ai queue endpoints behind the subscribe transport
// shape: submit once, then hold a streaming status connection open until the
// request is terminal. Status events become onProgress callbacks.
package falai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/duropiri/novai-sub000/internal/engine"
	"github.com/duropiri/novai-sub000/internal/infra"
)

// Options configures the fal.ai client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client performs HTTP calls against the fal.ai queue API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a fal.ai client. The HTTP client must not carry an
// overall timeout: status streams stay open for the lifetime of the request,
// bounded by the caller's context instead.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://queue.fal.run"
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

type queueSubmitResponse struct {
	RequestID string `json:"request_id"`
	Detail    string `json:"detail,omitempty"`
}

type queueStatusEvent struct {
	Status        string   `json:"status"`
	QueuePosition int      `json:"queue_position,omitempty"`
	Logs          []string `json:"logs,omitempty"`
	Progress      int      `json:"progress,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Subscribe submits input to the model endpoint and blocks until the request
// finishes, invoking onEvent for every streamed status update. The returned
// bytes are the request's response document.
func (c *Client) Subscribe(ctx context.Context, model string, input map[string]any, onEvent func(queueStatusEvent)) (json.RawMessage, error) {
	requestID, err := c.submit(ctx, model, input)
	if err != nil {
		return nil, err
	}
	if err := c.streamStatus(ctx, model, requestID, onEvent); err != nil {
		return nil, err
	}
	return c.fetchResponse(ctx, model, requestID)
}

func (c *Client) submit(ctx context.Context, model string, input map[string]any) (string, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("falai: marshal input: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s", c.baseURL, model), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("falai: create request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", engine.RemoteFailed("falai: %s", err)
	}
	defer resp.Body.Close()

	var decoded queueSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
		return "", engine.RemoteFailed("falai: decode submit response: %s", err)
	}
	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return "", engine.Rejected("falai refused input: %s", decoded.Detail)
	case resp.StatusCode >= http.StatusBadRequest:
		return "", engine.RemoteFailed("falai submit status %d: %s", resp.StatusCode, decoded.Detail)
	case decoded.RequestID == "":
		return "", engine.RemoteFailed("falai submit returned no request id")
	}
	c.logger.Debug().Str("model", model).Str("request_id", decoded.RequestID).Msg("falai: submitted")
	return decoded.RequestID, nil
}

// streamStatus holds the status stream open, decoding newline-delimited JSON
// events until a terminal status arrives.
func (c *Client) streamStatus(ctx context.Context, model, requestID string, onEvent func(queueStatusEvent)) error {
	endpoint := fmt.Sprintf("%s/%s/requests/%s/status/stream?logs=1", c.baseURL, model, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("falai: create stream request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return engine.RemoteFailed("falai: open status stream: %s", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return engine.RemoteFailed("falai status stream %d for request %s", resp.StatusCode, requestID)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "data:")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var event queueStatusEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if onEvent != nil {
			onEvent(event)
		}
		switch strings.ToUpper(event.Status) {
		case "COMPLETED":
			return nil
		case "FAILED":
			if event.Error != "" {
				return engine.RemoteFailed("%s", event.Error)
			}
			return engine.RemoteFailed("falai request %s failed", requestID)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return engine.RemoteFailed("falai: status stream: %s", err)
	}
	return engine.RemoteFailed("falai: status stream ended before terminal state")
}

func (c *Client) fetchResponse(ctx context.Context, model, requestID string) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/%s/requests/%s", c.baseURL, model, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("falai: create response request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, engine.RemoteFailed("falai: fetch response: %s", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, engine.RemoteFailed("falai response status %d for request %s", resp.StatusCode, requestID)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engine.RemoteFailed("falai: read response: %s", err)
	}
	return data, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Key "+c.apiKey)
}
