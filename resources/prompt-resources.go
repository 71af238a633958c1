package resources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/vision-ocr/internal/prompts"
)

const promptScheme = "prompt://"

// PromptResourceHandler serves the extraction instruction for each output
// format, so a client can see or adapt it before passing a custom prompt.
type PromptResourceHandler struct{}

func NewPromptResourceHandler() *PromptResourceHandler {
	return &PromptResourceHandler{}
}

// ListResources returns one resource per output format.
func (h *PromptResourceHandler) ListResources() []*mcp.Resource {
	resources := make([]*mcp.Resource, 0, len(prompts.Formats))
	for _, f := range prompts.Formats {
		resources = append(resources, &mcp.Resource{
			URI:         promptScheme + f.String(),
			Name:        "prompt-" + f.String(),
			Description: fmt.Sprintf("Extraction instruction used for %s output", f),
			MIMEType:    "text/plain",
		})
	}
	return resources
}

// ReadResource reads prompt://{format}, with an optional ?language= hint.
func (h *PromptResourceHandler) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	if !strings.HasPrefix(uri, promptScheme) {
		return nil, fmt.Errorf("invalid URI scheme, expected %s", promptScheme)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid URI: %w", err)
	}

	name := u.Host
	if name == "" {
		name = strings.Trim(u.Path, "/")
	}
	if !prompts.Known(name) {
		return nil, mcp.ResourceNotFoundError(uri)
	}

	text := prompts.Template(prompts.ParseFormat(name), u.Query().Get("language"))
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "text/plain",
				Text:     text,
			},
		},
	}, nil
}
