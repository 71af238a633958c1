package tools

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/internal/operations"
)

type OCRAcquireQuery struct {
	URLs []string `json:"urls"` // http(s) URLs or zotero:<attachment key> references
}

type OCRAcquireResponse struct {
	Paths    map[string]string `json:"paths"`              // reference -> local file
	Failures map[string]string `json:"failures,omitempty"` // reference -> reason
	Count    int               `json:"count"`
}

func OCRAcquireTool() *mcp.Tool {
	inputschema, err := jsonschema.For[OCRAcquireQuery](nil)
	if err != nil {
		panic(err)
	}
	return &mcp.Tool{
		Name:        "ocr-acquire",
		Description: "Download images and PDFs to local files after checking their content signatures. Returns the local path for every reference that downloaded cleanly; the files are kept so they can be passed to ocr-extract.",
		InputSchema: inputschema,
	}
}

func OCRAcquireToolHandler(ctx context.Context, req *mcp.CallToolRequest, query OCRAcquireQuery, pipeline *operations.Pipeline, log logger.Logger) (*mcp.CallToolResult, *OCRAcquireResponse, error) {
	log.Info("ocr-acquire tool called with %d references", len(query.URLs))

	paths, failures, err := pipeline.Acquire(ctx, query.URLs)
	if err != nil {
		return nil, nil, err
	}

	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Downloaded %d of %d references.", len(paths), len(paths)+len(failures)),
			},
		},
	}
	return result, &OCRAcquireResponse{Paths: paths, Failures: failures, Count: len(paths)}, nil
}
