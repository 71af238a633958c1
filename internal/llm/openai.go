package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/models"
)

type OpenAIConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	// BaseURL overrides the API root, mostly for tests and proxies.
	BaseURL    string
	HTTPClient *http.Client
	Throttle   *Throttle
}

// OpenAIClient extracts text through the Responses API.
type OpenAIClient struct {
	client   openai.Client
	model    string
	timeout  time.Duration
	throttle *Throttle
	log      logger.Logger
}

func NewOpenAIClient(cfg OpenAIConfig, log logger.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, models.Errorf(models.ConfigurationError, "new openai client", "", "api key is required")
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if cfg.Model == "" {
		cfg.Model = shared.ChatModelGPT5Mini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultInferenceTimeout
	}
	if cfg.Throttle == nil {
		cfg.Throttle = NewThrottle(0, 0, -1, log)
	}

	// Retries are owned by the throttle so 429 handling is the same for
	// every backend.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAIClient{
		client:   openai.NewClient(opts...),
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		throttle: cfg.Throttle,
		log:      log,
	}, nil
}

func (c *OpenAIClient) Provider() string { return "openai" }

func (c *OpenAIClient) Extract(ctx context.Context, req models.ExtractionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	params := responses.ResponseNewParams{
		Model: model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam{
				responses.ResponseInputItemParamOfMessage(
					responses.ResponseInputMessageContentListParam{
						responses.ResponseInputContentUnionParam{
							OfInputImage: &responses.ResponseInputImageParam{
								ImageURL: openai.String(imageDataURL(req.EncodedImage)),
								Detail:   responses.ResponseInputImageDetailHigh,
							},
						},
						responses.ResponseInputContentParamOfInputText(req.Prompt),
					},
					"user",
				),
			},
		},
	}

	text, err := RateLimitedCall(ctx, c.throttle, func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		c.log.Debug("Calling OpenAI Responses API with model %s", model)
		response, err := c.client.Responses.New(ctx, params)
		if err != nil {
			return "", err
		}
		return response.OutputText(), nil
	})
	if err != nil {
		return "", models.NewError(models.UpstreamModelFailure, "openai responses", "", err)
	}
	return text, nil
}

// imageDataURL guesses the media type from the base64 prefix of common
// signatures; the API only needs it to be plausible.
func imageDataURL(encoded string) string {
	media := "image/jpeg"
	switch {
	case strings.HasPrefix(encoded, "iVBORw0KGgo"):
		media = "image/png"
	case strings.HasPrefix(encoded, "R0lGOD"):
		media = "image/gif"
	case strings.HasPrefix(encoded, "UklGR"):
		media = "image/webp"
	}
	return "data:" + media + ";base64," + encoded
}
