// Package genai is a lightweight facade over the Gemini generateContent API
// used for image and diagram generation. Without an API key the client
// produces deterministic synthetic assets so the rest of the pipeline (job
// rows, progress, cost, artifacts) stays exercised in local and CI
// environments.
package genai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/duropiri/novai-sub000/internal/infra"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client calls Gemini generateContent and normalizes the response into raw
// image bytes.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// ImageRequest represents the information required to generate images.
type ImageRequest struct {
	Prompt      string
	Quantity    int
	AspectRatio string
	RequestID   string
}

// ImageAsset is the normalized representation returned by the client.
type ImageAsset struct {
	Format string
	Data   []byte
}

// StatusError carries the HTTP status of a failed Gemini call so callers can
// tell a rejected request (4xx) from a provider-side failure.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini status %d: %s", e.Code, e.Message)
}

// ClientError reports whether the failure was caused by the request itself.
func (e *StatusError) ClientError() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type generateContentRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig *struct {
		CandidateCount int `json:"candidateCount,omitempty"`
	} `json:"generationConfig,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with sensible timeouts will be created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash"
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
		httpClient: client,
		logger:     logger,
	}, nil
}

// Model returns the configured Gemini model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can reach the real API.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// GenerateImages returns quantity image assets for the prompt. Without
// credentials it renders deterministic placeholders.
func (c *Client) GenerateImages(ctx context.Context, req ImageRequest) ([]ImageAsset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.apiKey == "" {
		return c.syntheticImages(req), nil
	}
	return c.remoteGenerateImages(ctx, req)
}

func (c *Client) remoteGenerateImages(ctx context.Context, req ImageRequest) ([]ImageAsset, error) {
	quantity := clampQuantity(req.Quantity)
	payload := generateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: buildImagePrompt(req)}},
		}},
	}

	var response generateContentResponse
	if err := c.invoke(ctx, fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.model)), payload, &response); err != nil {
		return nil, err
	}

	var assets []ImageAsset
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil || len(data) == 0 {
				continue
			}
			format := part.InlineData.MimeType
			if format == "" {
				format = "image/png"
			}
			assets = append(assets, ImageAsset{Format: format, Data: data})
			if len(assets) >= quantity {
				break
			}
		}
		if len(assets) >= quantity {
			break
		}
	}

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("model", c.model).
		Int("quantity", len(assets)).
		Msg("genai: generated remote image assets")

	return assets, nil
}

func (c *Client) invoke(ctx context.Context, path string, payload any, out any) error {
	endpoint := c.baseURL + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return &StatusError{Code: resp.StatusCode, Message: apiErr.Error.Message}
		}
		data, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

func (c *Client) syntheticImages(req ImageRequest) []ImageAsset {
	quantity := clampQuantity(req.Quantity)
	width, height := aspectDimensions(req.AspectRatio)

	assets := make([]ImageAsset, quantity)
	for i := 0; i < quantity; i++ {
		seed := deterministicSeed(req.RequestID, req.Prompt, i)
		assets[i] = ImageAsset{
			Format: "image/png",
			Data:   renderPlaceholder(width, height, seed),
		}
	}

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("model", c.model).
		Int("quantity", quantity).
		Msg("genai: generated synthetic image assets")

	return assets
}

func buildImagePrompt(req ImageRequest) string {
	var b strings.Builder
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		b.WriteString(prompt)
	}
	if aspect := strings.TrimSpace(req.AspectRatio); aspect != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Aspect ratio: ")
		b.WriteString(aspect)
	}
	if b.Len() == 0 {
		b.WriteString("Create an illustrative image")
	}
	return b.String()
}

func clampQuantity(quantity int) int {
	if quantity <= 0 {
		return 1
	}
	if quantity > 4 {
		return 4
	}
	return quantity
}

func aspectDimensions(aspect string) (int, int) {
	switch strings.TrimSpace(aspect) {
	case "16:9":
		return 1280, 720
	case "9:16":
		return 720, 1280
	case "4:3":
		return 1024, 768
	default:
		return 1024, 1024
	}
}

func renderPlaceholder(width, height int, seed string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	stripe := height / 8
	if stripe < 16 {
		stripe = 16
	}
	for y := 0; y < height; y += stripe * 2 {
		bottom := y + stripe
		if bottom > height {
			bottom = height
		}
		draw.Draw(img, image.Rect(0, y, width, bottom), &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if len(seed) < 6 {
		seed = seed + "5588aa"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	decoded, err := hex.DecodeString(segment)
	if err != nil || len(decoded) < 3 {
		return color.RGBA{R: 0x55, G: 0x88, B: 0xaa, A: 255}
	}
	return color.RGBA{R: decoded[0], G: decoded[1], B: decoded[2], A: 255}
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(hasher, "%v|", part)
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}
