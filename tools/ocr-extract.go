package tools

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/vision-ocr/internal/batch"
	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/internal/operations"
	"github.com/Epistemic-Technology/vision-ocr/models"
)

type OCRExtractQuery struct {
	Inputs     []string `json:"inputs"`                // URLs, zotero:<key> references, files or directories
	FormatType string   `json:"format_type,omitempty"` // markdown (default), text, json, structured, key_value, table
	Prompt     string   `json:"prompt,omitempty"`      // Replaces the format's instruction entirely
	Language   string   `json:"language,omitempty"`    // Language hint (default "en")
	Preprocess *bool    `json:"preprocess,omitempty"`  // Enhance images before inference (default true)
	Recursive  bool     `json:"recursive,omitempty"`   // Walk directories recursively
}

type OCRExtractResponse struct {
	Report *models.BatchReport `json:"report"`
}

func OCRExtractTool() *mcp.Tool {
	inputschema, err := jsonschema.For[OCRExtractQuery](nil)
	if err != nil {
		panic(err)
	}
	return &mcp.Tool{
		Name:        "ocr-extract",
		Description: "Extract text from images and scanned PDFs with a vision model. Accepts any mix of URLs, zotero:<attachment key> references, local files and directories. PDFs are split into pages and each page is read separately. Returns results and errors keyed by input.",
		InputSchema: inputschema,
	}
}

func OCRExtractToolHandler(ctx context.Context, req *mcp.CallToolRequest, query OCRExtractQuery, pipeline *operations.Pipeline, log logger.Logger) (*mcp.CallToolResult, *OCRExtractResponse, error) {
	log.Info("ocr-extract tool called with %d inputs", len(query.Inputs))

	preprocess := true
	if query.Preprocess != nil {
		preprocess = *query.Preprocess
	}

	report, err := pipeline.Batch(ctx, query.Inputs, operations.ExtractParams{
		Format:     query.FormatType,
		Prompt:     query.Prompt,
		Language:   query.Language,
		Preprocess: preprocess,
		Recursive:  query.Recursive,
		Progress:   progressNotifier(ctx, req, log),
	})
	if err != nil {
		return nil, nil, err
	}

	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Processed %d inputs: %d succeeded, %d failed.",
					report.Statistics.Total,
					report.Statistics.Successful,
					report.Statistics.Failed),
			},
		},
	}
	return result, &OCRExtractResponse{Report: report}, nil
}

// progressNotifier forwards batch progress to the client when the call
// carries a progress token.
func progressNotifier(ctx context.Context, req *mcp.CallToolRequest, log logger.Logger) func(batch.Progress) {
	if req == nil || req.Session == nil || req.Params == nil {
		return nil
	}
	token := req.Params.GetProgressToken()
	if token == nil {
		return nil
	}
	return func(p batch.Progress) {
		msg := fmt.Sprintf("processed %s", p.Unit)
		if p.Err != nil {
			msg = fmt.Sprintf("failed %s", p.Unit)
		}
		err := req.Session.NotifyProgress(ctx, &mcp.ProgressNotificationParams{
			ProgressToken: token,
			Progress:      float64(p.Done),
			Total:         float64(p.Total),
			Message:       msg,
		})
		if err != nil {
			log.Debug("Progress notification failed: %v", err)
		}
	}
}
