package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/models"
)

const defaultInferenceTimeout = 120 * time.Second

type OllamaConfig struct {
	// Endpoint is the full generate URL, e.g. http://localhost:11434/api/generate.
	Endpoint string
	// APIKey is sent as a bearer token when set.
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Throttle   *Throttle
}

// OllamaClient talks to an Ollama-compatible generate endpoint.
type OllamaClient struct {
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
	throttle *Throttle
	log      logger.Logger
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Stream bool     `json:"stream"`
	Images []string `json:"images"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func NewOllamaClient(cfg OllamaConfig, log logger.Logger) (*OllamaClient, error) {
	if cfg.Endpoint == "" {
		return nil, models.Errorf(models.ConfigurationError, "new ollama client", "", "endpoint is required")
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultInferenceTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Throttle == nil {
		cfg.Throttle = NewThrottle(0, 0, -1, log)
	}
	return &OllamaClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		http:     cfg.HTTPClient,
		throttle: cfg.Throttle,
		log:      log,
	}, nil
}

func (c *OllamaClient) Provider() string { return "ollama" }

// Extract posts one non-streaming generate request and returns its response
// field.
func (c *OllamaClient) Extract(ctx context.Context, req models.ExtractionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	payload, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: req.Prompt,
		Stream: false,
		Images: []string{req.EncodedImage},
	})
	if err != nil {
		return "", models.NewError(models.UpstreamModelFailure, "encode request", "", err)
	}

	text, err := RateLimitedCall(ctx, c.throttle, func(ctx context.Context) (string, error) {
		return c.generate(ctx, payload)
	})
	if err != nil {
		if models.KindOf(err) == "" {
			err = models.NewError(models.UpstreamModelFailure, "ollama generate", "", err)
		}
		return "", err
	}
	return text, nil
}

func (c *OllamaClient) generate(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", models.NewError(models.ConfigurationError, "build request", c.endpoint, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.log.Debug("Calling %s with model %s", c.endpoint, c.model)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", models.NewError(models.UpstreamModelFailure, "ollama request", "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", models.NewError(models.UpstreamModelFailure, "read response", "", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Returned bare so the throttle can recognize a 429.
		return "", &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", models.NewError(models.UpstreamModelFailure, "decode response", "", err)
	}
	if decoded.Error != "" {
		return "", models.Errorf(models.UpstreamModelFailure, "ollama generate", "", "%s", decoded.Error)
	}
	return decoded.Response, nil
}
