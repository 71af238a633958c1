package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Epistemic-Technology/vision-ocr/internal/operations"
	"github.com/Epistemic-Technology/vision-ocr/models"
)

const maxRequestBody = 1 << 20

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(data) > maxRequestBody {
		s.respondWithError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}

	req, err := parseExtractRequest(data)
	if err != nil {
		var invalid *invalidRequestError
		if errors.As(err, &invalid) {
			s.log.Warn("Rejected extract request: %v", invalid.Detail)
			s.respondWithError(w, http.StatusBadRequest, invalid.Error())
			return
		}
		s.log.Error("Failed to parse extract request: %v", err)
		s.respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	report, err := s.extractor.Extract(r.Context(), req.URLs, operations.ExtractParams{
		Format:     req.FormatType,
		Prompt:     req.Prompt,
		Language:   req.Language,
		Preprocess: req.Preprocess,
	})
	switch {
	case errors.Is(err, models.ErrNoReferences):
		s.respondWithError(w, http.StatusBadRequest, "urls must contain at least one reference")
		return
	case err != nil:
		s.log.Error("Extract failed: %v", err)
		s.respondWithError(w, http.StatusInternalServerError, "Extraction could not be started")
		return
	}

	s.respondWithJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": s.config.InferenceProvider,
	})
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("Failed to encode response: %v", err)
		code = http.StatusInternalServerError
		response = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
