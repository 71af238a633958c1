package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/vision-ocr/internal/config"
	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/internal/metrics"
	"github.com/Epistemic-Technology/vision-ocr/internal/operations"
	"github.com/Epistemic-Technology/vision-ocr/server"
)

func main() {
	// stdout carries the MCP protocol, so logs go to stderr or a file.
	log, err := logger.NewLogger(logger.LogConfig{})
	if err != nil {
		panic(err)
	}

	cfg, err := config.Load(os.Getenv("VISION_OCR_ENV_FILE"))
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	pipeline, err := operations.NewPipeline(cfg, metrics.NewMetrics(), log)
	if err != nil {
		log.Fatal("Failed to build pipeline: %v", err)
	}

	log.Info("Starting vision-ocr MCP server (provider %s)", cfg.InferenceProvider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.CreateServer(cfg, pipeline, log)
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Fatal("Server failed: %v", err)
	}
}
