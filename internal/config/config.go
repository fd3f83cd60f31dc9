package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/vouch/internal/scanning"
)

// EnvVarPrefix prefixes every environment variable, e.g. VOUCH_LLM_PROVIDER.
const EnvVarPrefix = "VOUCH"

const (
	StoreBolt  = "bolt"
	StoreMongo = "mongo"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type OpenSearch struct {
	URLs     []string
	Username string
	Password string
	Insecure bool
	Index    string
	Refresh  string
}

// Config is the full process configuration.
type Config struct {
	Addr      string
	LogLevel  slog.Level
	LogFormat string

	Store       string
	DBPath      string
	MongoURL    string
	MongoDB     string
	StoragePath string

	OpenSearch OpenSearch

	Provider    scanning.Provider
	Scanning    scanning.Config
	PromptFile  string
	ScanRetries int
	ScanBackoff time.Duration

	MaxUploadSize     int64
	AllowedExtensions []string

	ShowVersion bool
}

// Parse reads configuration from args, the environment and an optional
// .env file, in increasing order of precedence: .env, environment, flags.
// The returned error carries the flag usage when parsing fails.
func Parse(name string, args []string) (*Config, error) {
	if err := loadEnvFile(envFile(args)); err != nil {
		return nil, err
	}

	fs := ff.NewFlagSet(name)
	var (
		_           = fs.StringLong("env-file", ".env", "Optional dotenv file loaded before flags and environment")
		addr        = fs.StringLong("addr", ":8000", "HTTP listen address")
		logLevel    = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat   = fs.StringLong("log-format", "text", "Log format: text or json")
		store       = fs.StringLong("store", StoreBolt, "Primary store: 'bolt' or 'mongo'")
		dbPath      = fs.StringLong("db", "vouch.db", "BoltDB file path")
		mongoURL    = fs.StringLong("mongo-url", "mongodb://localhost:27017", "MongoDB connection string")
		mongoDB     = fs.StringLong("mongo-db", "vouch", "MongoDB database name")
		storagePath = fs.StringLong("storage", "./uploads", "Directory for original uploads")

		osURL      = fs.StringLong("opensearch-url", "http://localhost:9200", "OpenSearch URL (comma separated for several nodes)")
		osUser     = fs.StringLong("opensearch-username", "", "OpenSearch username (optional)")
		osPass     = fs.StringLong("opensearch-password", "", "OpenSearch password (optional)")
		osInsecure = fs.BoolLong("opensearch-insecure", "Skip TLS verification for OpenSearch")
		osIndex    = fs.StringLong("opensearch-index", "receipts", "OpenSearch index name")
		osRefresh  = fs.StringLong("opensearch-refresh", "", "Refresh mode for index writes: true, false or wait_for")

		provider    = fs.StringLong("llm-provider", string(scanning.ProviderOllama), "Vision model provider: 'ollama', 'openai' or 'gemini'")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llama3.2-vision", "Ollama model name")
		openaiURL   = fs.StringLong("openai-url", "https://api.openai.com/v1", "OpenAI compatible API base URL")
		openaiKey   = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openaiModel = fs.StringLong("openai-model", "gpt-4o", "OpenAI model name")
		openaiMax   = fs.IntLong("openai-max-tokens", 4096, "Maximum tokens in an OpenAI completion")
		openaiTemp  = fs.Float64Long("openai-temperature", 0, "OpenAI sampling temperature")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		geminiTemp  = fs.Float64Long("gemini-temperature", 0, "Gemini sampling temperature")
		llmTimeout  = fs.DurationLong("llm-timeout", 2*time.Minute, "Timeout for one extraction call")
		promptFile  = fs.StringLong("prompt-file", "", "Replace the built-in extraction prompt with this file")
		retries     = fs.IntLong("scan-retries", 0, "Retries for transient model failures")
		backoff     = fs.DurationLong("scan-backoff", 2*time.Second, "Delay between retries, multiplied by the attempt number")

		maxUpload  = fs.IntLong("max-upload", 5<<20, "Maximum upload size in bytes")
		extensions = fs.StringLong("allowed-extensions", "jpg,jpeg,png,pdf", "Comma separated list of accepted file extensions")

		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix(EnvVarPrefix)); err != nil {
		return nil, fmt.Errorf("%s\n%w", ffhelp.Flags(fs), err)
	}

	cfg := &Config{
		Addr:        *addr,
		LogFormat:   strings.ToLower(*logFormat),
		Store:       strings.ToLower(*store),
		DBPath:      *dbPath,
		MongoURL:    *mongoURL,
		MongoDB:     *mongoDB,
		StoragePath: *storagePath,
		OpenSearch: OpenSearch{
			URLs:     splitList(*osURL),
			Username: *osUser,
			Password: *osPass,
			Insecure: *osInsecure,
			Index:    *osIndex,
			Refresh:  *osRefresh,
		},
		Provider: scanning.Provider(strings.ToLower(*provider)),
		Scanning: scanning.Config{
			Ollama: scanning.OllamaConfig{
				BaseURL: *ollamaURL,
				Model:   *ollamaModel,
				Timeout: *llmTimeout,
			},
			OpenAI: scanning.OpenAIConfig{
				APIKey:      firstNonEmpty(*openaiKey, os.Getenv("OPENAI_API_KEY")),
				BaseURL:     *openaiURL,
				Model:       *openaiModel,
				MaxTokens:   *openaiMax,
				Temperature: float32(*openaiTemp),
				Timeout:     *llmTimeout,
			},
			Gemini: scanning.GeminiConfig{
				APIKey:      firstNonEmpty(*geminiKey, os.Getenv("GEMINI_API_KEY")),
				Model:       *geminiModel,
				Temperature: float32(*geminiTemp),
				Timeout:     *llmTimeout,
			},
		},
		PromptFile:        *promptFile,
		ScanRetries:       *retries,
		ScanBackoff:       *backoff,
		MaxUploadSize:     int64(*maxUpload),
		AllowedExtensions: normalizeExtensions(splitList(*extensions)),
		ShowVersion:       *showVersion,
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(*logLevel)); err != nil {
		return nil, fmt.Errorf("%w: log-level %q", ErrInvalid, *logLevel)
	}
	if cfg.ShowVersion {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the process cannot start with.
func (c *Config) Validate() error {
	if _, err := scanning.ParseProvider(string(c.Provider)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	switch c.Provider {
	case scanning.ProviderOpenAI:
		if c.Scanning.OpenAI.APIKey == "" {
			return fmt.Errorf("%w: %w: OpenAI API key is required, set --openai-key or OPENAI_API_KEY", ErrInvalid, scanning.ErrAuthentication)
		}
	case scanning.ProviderGemini:
		if c.Scanning.Gemini.APIKey == "" {
			return fmt.Errorf("%w: %w: Gemini API key is required, set --gemini-key or GEMINI_API_KEY", ErrInvalid, scanning.ErrAuthentication)
		}
	}

	switch c.Store {
	case StoreBolt, StoreMongo:
	default:
		return fmt.Errorf("%w: store %q must be %q or %q", ErrInvalid, c.Store, StoreBolt, StoreMongo)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%w: log-format %q must be text or json", ErrInvalid, c.LogFormat)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("%w: max-upload must be positive", ErrInvalid)
	}
	if len(c.AllowedExtensions) == 0 {
		return fmt.Errorf("%w: allowed-extensions must not be empty", ErrInvalid)
	}
	if len(c.OpenSearch.URLs) == 0 {
		return fmt.Errorf("%w: opensearch-url must not be empty", ErrInvalid)
	}
	if c.ScanRetries < 0 {
		return fmt.Errorf("%w: scan-retries must not be negative", ErrInvalid)
	}
	return nil
}

// Logger builds the process logger for the configured level and format.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// envFile finds --env-file ahead of flag parsing, since the file has to be
// loaded before ff reads the environment.
func envFile(args []string) string {
	for i, arg := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name != "env-file" || !strings.HasPrefix(arg, "-") {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	if v := os.Getenv(EnvVarPrefix + "_ENV_FILE"); v != "" {
		return v
	}
	return ".env"
}

// loadEnvFile sets variables from a dotenv file without overriding the
// real environment. A missing file is fine.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	slog.Debug("Loaded env file", "path", path)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		out = append(out, strings.ToLower(strings.TrimPrefix(ext, ".")))
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
