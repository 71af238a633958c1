package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Epistemic-Technology/vision-ocr/internal/config"
	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/internal/metrics"
	"github.com/Epistemic-Technology/vision-ocr/internal/operations"
	"github.com/Epistemic-Technology/vision-ocr/models"
)

// requestTimeout bounds a whole extract request; a large batch against a
// slow model can take minutes.
const requestTimeout = 10 * time.Minute

// Extractor runs the front-door flow for a list of references.
type Extractor interface {
	Extract(ctx context.Context, refs []string, params operations.ExtractParams) (*models.BatchReport, error)
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	config     *config.Config
	router     http.Handler
	httpServer *http.Server
	extractor  Extractor
	tokens     []string
	metrics    *metrics.Metrics
	log        logger.Logger
}

func NewServer(cfg *config.Config, extractor Extractor, m *metrics.Metrics, log logger.Logger) (*Server, error) {
	if extractor == nil {
		return nil, models.NewError(models.ConfigurationError, "new server", "", errors.New("extractor is required"))
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if len(cfg.ValidTokens) == 0 {
		log.Warn("VALID_TOKENS is empty; every extract request will be rejected")
	}
	s := &Server{
		config:    cfg,
		extractor: extractor,
		tokens:    cfg.ValidTokens,
		metrics:   m,
		log:       log,
	}
	s.router = s.setupRouter()
	return s, nil
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%s", s.config.ServerPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      requestTimeout + 30*time.Second,
	}
	s.log.Info("API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
