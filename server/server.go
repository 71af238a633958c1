package server

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/vision-ocr/internal/config"
	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/internal/operations"
	"github.com/Epistemic-Technology/vision-ocr/resources"
	"github.com/Epistemic-Technology/vision-ocr/tools"
)

func CreateServer(cfg *config.Config, pipeline *operations.Pipeline, log logger.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "vision-ocr", Version: "v0.1.0"}, nil)

	promptHandler := resources.NewPromptResourceHandler()

	mcp.AddTool(server, tools.OCRExtractTool(), func(ctx context.Context, req *mcp.CallToolRequest, query tools.OCRExtractQuery) (*mcp.CallToolResult, *tools.OCRExtractResponse, error) {
		return tools.OCRExtractToolHandler(ctx, req, query, pipeline, log)
	})

	mcp.AddTool(server, tools.OCRAcquireTool(), func(ctx context.Context, req *mcp.CallToolRequest, query tools.OCRAcquireQuery) (*mcp.CallToolResult, *tools.OCRAcquireResponse, error) {
		return tools.OCRAcquireToolHandler(ctx, req, query, pipeline, log)
	})

	// Only offered when the library credentials are present.
	if cfg.ZoteroEnabled() {
		mcp.AddTool(server, tools.ZoteroSearchTool(), func(ctx context.Context, req *mcp.CallToolRequest, query tools.ZoteroSearchQuery) (*mcp.CallToolResult, *tools.ZoteroSearchResponse, error) {
			return tools.ZoteroSearchToolHandler(ctx, req, query, cfg, log)
		})
	}

	readPrompt := func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return promptHandler.ReadResource(ctx, req.Params.URI)
	}

	for _, r := range promptHandler.ListResources() {
		server.AddResource(r, readPrompt)
	}

	// Template for a prompt in another language
	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "prompt://{format}{?language}",
		Name:        "prompt",
		Description: "Extraction instruction for an output format (markdown, text, json, structured, key_value, table), optionally in another language",
		MIMEType:    "text/plain",
	}, readPrompt)

	return server
}
