package scanning

import (
	"fmt"
	"time"
)

// Provider identifies a vision-model backend.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// Providers lists every supported backend.
var Providers = []Provider{ProviderOllama, ProviderOpenAI, ProviderGemini}

// Config holds the settings for all adapters. Only the section belonging to
// the selected provider is read.
type Config struct {
	// Prompt is the extraction instruction shared by every adapter.
	Prompt string
	// Rasterizer renders PDFs; nil disables PDF input.
	Rasterizer Rasterizer

	Ollama OllamaConfig
	OpenAI OpenAIConfig
	Gemini GeminiConfig
}

type OllamaConfig struct {
	BaseURL       string
	Model         string
	Timeout       time.Duration
	HealthTimeout time.Duration
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

type constructor func(Config) (Scanner, error)

// constructors is fixed at compile time; selecting a provider only ever
// builds the adapter that was asked for.
var constructors = map[Provider]constructor{
	ProviderOllama: func(c Config) (Scanner, error) { return NewOllama(c.Ollama, c.Prompt, c.Rasterizer) },
	ProviderOpenAI: func(c Config) (Scanner, error) { return NewOpenAI(c.OpenAI, c.Prompt, c.Rasterizer) },
	ProviderGemini: func(c Config) (Scanner, error) { return NewGemini(c.Gemini, c.Prompt, c.Rasterizer) },
}

// New builds a fresh adapter for the given provider.
func New(p Provider, cfg Config) (Scanner, error) {
	build, ok := constructors[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, p)
	}
	if cfg.Prompt == "" {
		cfg.Prompt = defaultPrompt
	}
	return build(cfg)
}

// ParseProvider validates a provider identifier.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if _, ok := constructors[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, s)
	}
	return p, nil
}
