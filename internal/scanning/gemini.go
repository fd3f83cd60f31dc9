package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client     *genai.Client
	model      *genai.GenerativeModel
	modelName  string
	prompt     string
	rasterizer Rasterizer
	timeout    time.Duration
}

// NewGemini creates a new Gemini Scanner instance. An API key is required.
func NewGemini(cfg GeminiConfig, prompt string, r Rasterizer) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, newError(ProviderGemini, ErrAuthentication, fmt.Errorf("GEMINI_API_KEY is required for the gemini provider"))
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-pro"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, newError(ProviderGemini, classifyGeminiError(err), fmt.Errorf("creating gemini client: %w", err))
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(cfg.Temperature)
	// This genai release has no JSON response mode; the prompt asks for JSON
	// and decodeOutput pulls the object out of whatever comes back.

	return &Gemini{
		client:     client,
		model:      model,
		modelName:  cfg.Model,
		prompt:     prompt,
		rasterizer: r,
		timeout:    cfg.Timeout,
	}, nil
}

// Analyze sends the receipt image to Gemini and returns the extracted document.
func (g *Gemini) Analyze(ctx context.Context, image []byte, kind MediaKind) (Document, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	imageData, mediaKind, err := prepareImage(ProviderGemini, image, kind, g.rasterizer)
	if err != nil {
		return nil, err
	}

	// genai.ImageData expects just the format suffix (e.g. "png"), not the full MIME type
	format := strings.TrimPrefix(string(mediaKind), "image/")
	parts := []genai.Part{
		genai.Text(g.prompt),
		genai.ImageData(format, imageData),
	}

	reqID := uuid.NewString()
	start := time.Now()
	slog.Debug("Calling Gemini", "req_id", reqID, "model", g.modelName, "image_bytes", len(imageData))

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return nil, newError(ProviderGemini, ErrEmptyResponse, err)
		}
		return nil, newError(ProviderGemini, classifyGeminiError(err), err)
	}

	var responseText strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				responseText.WriteString(string(text))
			}
		}
	}

	slog.Info("Gemini analysis finished",
		"req_id", reqID,
		"model", g.modelName,
		"response_len", responseText.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return decodeOutput(ProviderGemini, responseText.String())
}

// HealthCheck fetches the first page of available models.
func (g *Gemini) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	it := g.client.ListModels(ctx)
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		slog.Warn("Gemini health check failed", "error", err)
		return false
	}
	return true
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

// classifyGeminiError uses the REST or gRPC status when the client exposes
// one and falls back to message inspection otherwise.
func classifyGeminiError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrAPI
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if kind := classifyStatus(apiErr.Code); kind != ErrAPI {
			return kind
		}
		return classifyMessage(apiErr.Message)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return ErrAuthentication
		case codes.ResourceExhausted:
			return ErrRateLimit
		case codes.InvalidArgument:
			// An invalid API key is reported as INVALID_ARGUMENT.
			return classifyMessage(st.Message())
		default:
			return ErrAPI
		}
	}

	return classifyMessage(err.Error())
}
