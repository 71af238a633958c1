package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Epistemic-Technology/vision-ocr/internal/api"
	"github.com/Epistemic-Technology/vision-ocr/internal/config"
	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/internal/metrics"
	"github.com/Epistemic-Technology/vision-ocr/internal/operations"
)

func main() {
	log, err := logger.NewLogger(logger.LogConfig{})
	if err != nil {
		panic(err)
	}

	cfg, err := config.Load(os.Getenv("VISION_OCR_ENV_FILE"))
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	m := metrics.NewMetrics()
	pipeline, err := operations.NewPipeline(cfg, m, log)
	if err != nil {
		log.Fatal("Failed to build pipeline: %v", err)
	}

	srv, err := api.NewServer(cfg, pipeline, m, log)
	if err != nil {
		log.Fatal("Failed to create API server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("API server failed: %v", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Shutdown failed: %v", err)
		}
	}
}
