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

// Ollama implements the Scanner interface using a local Ollama server.
type Ollama struct {
	baseURL       string
	model         string
	prompt        string
	rasterizer    Rasterizer
	timeout       time.Duration
	healthTimeout time.Duration
	client        *http.Client
}

// NewOllama creates a new Ollama Scanner instance.
// Recommended models for receipt scanning:
//   - llama3.2-vision (default)
//   - llava:1.6
//   - qwen2.5vl:7b (good OCR capabilities)
func NewOllama(cfg OllamaConfig, prompt string, r Rasterizer) (*Ollama, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2-vision"
	}
	// Local vision inference is slow; health probes should fail fast.
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}

	return &Ollama{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		model:         cfg.Model,
		prompt:        prompt,
		rasterizer:    r,
		timeout:       cfg.Timeout,
		healthTimeout: cfg.HealthTimeout,
		client:        &http.Client{},
	}, nil
}

// ollamaGenerateRequest represents the request body for Ollama's generate API
type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}

// Analyze sends the receipt image to Ollama and returns the extracted document.
func (o *Ollama) Analyze(ctx context.Context, image []byte, kind MediaKind) (Document, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	imageData, _, err := prepareImage(ProviderOllama, image, kind, o.rasterizer)
	if err != nil {
		return nil, err
	}

	reqBody := ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  o.prompt,
		Images:  []string{base64.StdEncoding.EncodeToString(imageData)},
		Stream:  false,
		Format:  "json",
		Options: map[string]any{"temperature": 0},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	reqID := uuid.NewString()
	start := time.Now()
	slog.Debug("Calling Ollama", "req_id", reqID, "model", o.model, "image_bytes", len(imageData))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return nil, newError(ProviderOllama, ErrAPI, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, newError(ProviderOllama, ErrAPI, fmt.Errorf("calling ollama API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var apiErr ollamaErrorResponse
		msg := string(body)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, newError(ProviderOllama, classifyStatus(resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, newError(ProviderOllama, ErrAPI, fmt.Errorf("decoding response: %w", err))
	}

	slog.Info("Ollama analysis finished",
		"req_id", reqID,
		"model", o.model,
		"response_len", len(genResp.Response),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return decodeOutput(ProviderOllama, genResp.Response)
}

// HealthCheck lists the installed models.
func (o *Ollama) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, o.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		slog.Warn("Ollama health check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
