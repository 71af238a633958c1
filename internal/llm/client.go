package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/Epistemic-Technology/vision-ocr/internal/config"
	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/internal/metrics"
	"github.com/Epistemic-Technology/vision-ocr/internal/prompts"
	"github.com/Epistemic-Technology/vision-ocr/models"
)

// maxErrorBody caps how much of an upstream error body is kept.
const maxErrorBody = 512

// Client sends one encoded image and an instruction to a vision model and
// returns the raw text it produced.
type Client interface {
	Extract(ctx context.Context, req models.ExtractionRequest) (string, error)
	Provider() string
}

// NewClient builds the backend selected by cfg, wrapped with metrics.
func NewClient(cfg *config.Config, throttle *Throttle, m *metrics.Metrics, log logger.Logger) (Client, error) {
	var (
		client Client
		err    error
	)
	switch cfg.InferenceProvider {
	case config.ProviderOpenAI:
		client, err = NewOpenAIClient(OpenAIConfig{
			APIKey:   cfg.OpenAIAPIKey,
			Model:    cfg.OpenAIModel,
			Timeout:  cfg.InferenceTimeout,
			Throttle: throttle,
		}, log)
	default:
		client, err = NewOllamaClient(OllamaConfig{
			Endpoint: cfg.OllamaBaseURL,
			APIKey:   cfg.APIKey,
			Model:    cfg.ModelName,
			Timeout:  cfg.InferenceTimeout,
			Throttle: throttle,
		}, log)
	}
	if err != nil {
		return nil, err
	}
	return WithMetrics(client, m), nil
}

type observed struct {
	Client
	metrics *metrics.Metrics
}

// WithMetrics records the latency and outcome of every Extract call.
func WithMetrics(c Client, m *metrics.Metrics) Client {
	if m == nil {
		return c
	}
	return &observed{Client: c, metrics: m}
}

func (o *observed) Extract(ctx context.Context, req models.ExtractionRequest) (string, error) {
	start := time.Now()
	text, err := o.Client.Extract(ctx, req)
	o.metrics.ObserveInference(o.Provider(), err, time.Since(start))
	return text, err
}

// FormatOutput pretty-prints text with a two-space indent when format is
// JSON. The boolean is false only when JSON was requested and text did not
// parse, in which case text is returned unchanged.
func FormatOutput(text string, format prompts.Format) (string, bool) {
	if format != prompts.JSON {
		return text, true
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(strings.TrimSpace(text)), "", "  "); err != nil {
		return text, false
	}
	return buf.String(), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
