package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OpenAI implements the Scanner interface using the OpenAI chat completions API.
type OpenAI struct {
	cfg        OpenAIConfig
	prompt     string
	rasterizer Rasterizer
	client     *http.Client
}

// NewOpenAI creates a new OpenAI Scanner instance. An API key is required.
func NewOpenAI(cfg OpenAIConfig, prompt string, r Rasterizer) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, newError(ProviderOpenAI, ErrAuthentication, fmt.Errorf("OPENAI_API_KEY is required for the openai provider"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &OpenAI{
		cfg:        cfg,
		prompt:     prompt,
		rasterizer: r,
		client:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Analyze sends the receipt image to OpenAI and returns the extracted document.
func (o *OpenAI) Analyze(ctx context.Context, image []byte, kind MediaKind) (Document, error) {
	imageData, mediaKind, err := prepareImage(ProviderOpenAI, image, kind, o.rasterizer)
	if err != nil {
		return nil, err
	}
	dataURL := "data:" + string(mediaKind) + ";base64," + base64.StdEncoding.EncodeToString(imageData)

	body := map[string]any{
		"model":           o.cfg.Model,
		"max_tokens":      o.cfg.MaxTokens,
		"temperature":     o.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": o.prompt},
					{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
				},
			},
		},
	}

	reqID := uuid.NewString()
	start := time.Now()
	slog.Debug("Calling OpenAI", "req_id", reqID, "model", o.cfg.Model, "image_bytes", len(imageData))

	raw, err := o.do(ctx, http.MethodPost, "/chat/completions", body)
	if err != nil {
		slog.Error("OpenAI request failed", "req_id", reqID, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	var cc openAIChatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, newError(ProviderOpenAI, ErrAPI, fmt.Errorf("decoding response: %w", err))
	}
	if len(cc.Choices) == 0 {
		return nil, newError(ProviderOpenAI, ErrEmptyResponse, fmt.Errorf("no choices in response"))
	}

	slog.Info("OpenAI analysis finished",
		"req_id", reqID,
		"model", o.cfg.Model,
		"response_len", len(cc.Choices[0].Message.Content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return decodeOutput(ProviderOpenAI, cc.Choices[0].Message.Content)
}

// HealthCheck lists the models available to the API key.
func (o *OpenAI) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := o.do(ctx, http.MethodGet, "/models", nil); err != nil {
		slog.Warn("OpenAI health check failed", "error", err)
		return false
	}
	return true
}

// Close closes the OpenAI client (no-op for HTTP client)
func (o *OpenAI) Close() error {
	return nil
}

func (o *OpenAI) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, o.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, newError(ProviderOpenAI, ErrAPI, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, newError(ProviderOpenAI, ErrAPI, fmt.Errorf("calling openai API: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(ProviderOpenAI, ErrAPI, fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyOpenAIError(resp.StatusCode, raw)
	}
	return raw, nil
}

// classifyOpenAIError prefers the status code and the structured error code
// OpenAI returns; quota exhaustion arrives as a 429 with code insufficient_quota.
func classifyOpenAIError(status int, body []byte) error {
	var apiErr openAIErrorResponse
	msg := string(body)
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}

	kind := classifyStatus(status)
	if code, ok := apiErr.Error.Code.(string); ok {
		switch code {
		case "invalid_api_key":
			kind = ErrAuthentication
		case "insufficient_quota", "rate_limit_exceeded":
			kind = ErrRateLimit
		}
	}
	return newError(ProviderOpenAI, kind, fmt.Errorf("status %d: %s", status, msg))
}
