package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Epistemic-Technology/vision-ocr/models"
)

const (
	DefaultOllamaURL   = "http://localhost:11434/api/generate"
	DefaultModel       = "llama3.2-vision:11b"
	DefaultOpenAIModel = "gpt-5-mini"

	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config stores all configuration for the application.
type Config struct {
	OllamaBaseURL     string `mapstructure:"OLLAMA_BASE_URL"`
	ModelName         string `mapstructure:"MODEL_NAME"`
	APIKey            string `mapstructure:"API_KEY"`
	RawValidTokens    string `mapstructure:"VALID_TOKENS"`
	InferenceProvider string `mapstructure:"INFERENCE_PROVIDER"`
	OpenAIAPIKey      string `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel       string `mapstructure:"OPENAI_MODEL"`

	AcquireWorkers   int           `mapstructure:"ACQUIRE_WORKERS"`
	FetchTimeout     time.Duration `mapstructure:"FETCH_TIMEOUT"`
	KeepScratch      bool          `mapstructure:"KEEP_SCRATCH"`
	MaxDownloadBytes int64         `mapstructure:"MAX_DOWNLOAD_BYTES"`

	BatchWorkers     int           `mapstructure:"BATCH_WORKERS"`
	PageWorkers      int           `mapstructure:"PAGE_WORKERS"`
	InferenceTimeout time.Duration `mapstructure:"INFERENCE_TIMEOUT"`
	InferenceRPS     float64       `mapstructure:"INFERENCE_RPS"`
	InferenceRetries int           `mapstructure:"INFERENCE_RETRIES"`
	PDFDPI           int           `mapstructure:"PDF_DPI"`

	ServerPort string `mapstructure:"SERVER_PORT"`

	ZoteroAPIKey    string `mapstructure:"ZOTERO_API_KEY"`
	ZoteroLibraryID string `mapstructure:"ZOTERO_LIBRARY_ID"`

	ValidTokens []string `mapstructure:"-"`
}

// Load reads configuration from an optional .env file and the environment.
// An empty path means ".env" in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path == "" {
		path = ".env"
	}
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// A missing file is fine; plain environment variables are enough.
	if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
		return nil, models.NewError(models.ConfigurationError, "read config", path, err)
	}

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, models.NewError(models.ConfigurationError, "load config", "", err)
	}
	tokens, err := parseTokens(cfg.RawValidTokens)
	if err != nil {
		return nil, models.NewError(models.ConfigurationError, "parse VALID_TOKENS", "", err)
	}
	cfg.ValidTokens = tokens

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, fs.ErrNotExist)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("OLLAMA_BASE_URL", DefaultOllamaURL)
	v.SetDefault("MODEL_NAME", DefaultModel)
	v.SetDefault("API_KEY", "")
	v.SetDefault("VALID_TOKENS", "")
	v.SetDefault("INFERENCE_PROVIDER", ProviderOllama)
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_MODEL", DefaultOpenAIModel)
	v.SetDefault("ACQUIRE_WORKERS", 5)
	v.SetDefault("FETCH_TIMEOUT", "15s")
	v.SetDefault("KEEP_SCRATCH", false)
	v.SetDefault("MAX_DOWNLOAD_BYTES", 64<<20)
	v.SetDefault("BATCH_WORKERS", 8)
	v.SetDefault("PAGE_WORKERS", 4)
	v.SetDefault("INFERENCE_TIMEOUT", "120s")
	v.SetDefault("INFERENCE_RPS", 5.0)
	v.SetDefault("INFERENCE_RETRIES", 3)
	v.SetDefault("PDF_DPI", 150)
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ZOTERO_API_KEY", "")
	v.SetDefault("ZOTERO_LIBRARY_ID", "")
}

// parseTokens accepts a JSON array (["a","b"]) or a comma-separated list.
func parseTokens(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var tokens []string
		if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
			return nil, err
		}
		return compact(tokens), nil
	}
	return compact(strings.Split(raw, ",")), nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return models.Errorf(models.ConfigurationError, "validate config", "", format, args...)
	}
	if c.AcquireWorkers <= 0 {
		return invalid("ACQUIRE_WORKERS must be positive, got %d", c.AcquireWorkers)
	}
	if c.BatchWorkers <= 0 {
		return invalid("BATCH_WORKERS must be positive, got %d", c.BatchWorkers)
	}
	if c.PageWorkers <= 0 {
		return invalid("PAGE_WORKERS must be positive, got %d", c.PageWorkers)
	}
	if c.FetchTimeout <= 0 {
		return invalid("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}
	if c.InferenceTimeout <= 0 {
		return invalid("INFERENCE_TIMEOUT must be positive, got %s", c.InferenceTimeout)
	}
	if c.InferenceRPS <= 0 {
		return invalid("INFERENCE_RPS must be positive, got %v", c.InferenceRPS)
	}
	if c.InferenceRetries < 0 {
		return invalid("INFERENCE_RETRIES must not be negative, got %d", c.InferenceRetries)
	}
	if c.PDFDPI <= 0 {
		return invalid("PDF_DPI must be positive, got %d", c.PDFDPI)
	}
	switch c.InferenceProvider {
	case ProviderOllama:
		if c.OllamaBaseURL == "" {
			return invalid("OLLAMA_BASE_URL is empty")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return invalid("OPENAI_API_KEY is required when INFERENCE_PROVIDER=openai")
		}
	default:
		return invalid("unknown INFERENCE_PROVIDER %q (expected ollama or openai)", c.InferenceProvider)
	}
	return nil
}

// ZoteroEnabled reports whether Zotero references can be acquired.
func (c *Config) ZoteroEnabled() bool {
	return c.ZoteroAPIKey != "" && c.ZoteroLibraryID != ""
}
