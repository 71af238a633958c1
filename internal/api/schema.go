package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Epistemic-Technology/vision-ocr/internal/operations"
	"github.com/Epistemic-Technology/vision-ocr/internal/prompts"
)

// extractSchema accepts either the options object or, as older clients
// send, a bare reference list or comma-separated string. format_type is
// free-form: unknown formats fall back to text.
const extractSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "refs": {
      "oneOf": [
        {"type": "string"},
        {"type": "array", "items": {"type": "string"}}
      ]
    }
  },
  "oneOf": [
    {"$ref": "#/definitions/refs"},
    {
      "type": "object",
      "required": ["urls"],
      "additionalProperties": false,
      "properties": {
        "urls": {"$ref": "#/definitions/refs"},
        "format_type": {"type": "string"},
        "prompt": {"type": "string"},
        "language": {"type": "string", "maxLength": 64},
        "preprocess": {"type": "boolean"}
      }
    }
  ]
}`

// schemaURL is absolute so the compiler never resolves it against the
// working directory.
const schemaURL = "https://vision-ocr.local/schemas/extract.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func requestSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(extractSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// invalidRequestError is returned for bodies that fail validation. Error()
// is safe to show to clients; Detail carries the full validator output.
type invalidRequestError struct {
	msg    string
	Detail error
}

func (e *invalidRequestError) Error() string { return e.msg }

func (e *invalidRequestError) Unwrap() error { return e.Detail }

// ExtractRequest is the decoded body of POST /api/extract.
type ExtractRequest struct {
	URLs       []string
	FormatType string
	Prompt     string
	Language   string
	Preprocess bool
}

type extractBody struct {
	URLs       json.RawMessage `json:"urls"`
	FormatType *string         `json:"format_type"`
	Prompt     *string         `json:"prompt"`
	Language   *string         `json:"language"`
	Preprocess *bool           `json:"preprocess"`
}

// parseExtractRequest validates data against the request schema and applies
// defaults: markdown output, preprocessing on, English.
func parseExtractRequest(data []byte) (*ExtractRequest, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &invalidRequestError{msg: "request body is not valid JSON", Detail: err}
	}
	schema, err := requestSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &invalidRequestError{
			msg:    "request body must be a URL list, a comma-separated string, or an object with urls",
			Detail: err,
		}
	}

	req := &ExtractRequest{
		FormatType: prompts.Markdown.String(),
		Language:   "en",
		Preprocess: true,
	}

	raw := json.RawMessage(data)
	if _, isObject := doc.(map[string]any); isObject {
		var body extractBody
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, err
		}
		raw = body.URLs
		if body.FormatType != nil {
			req.FormatType = *body.FormatType
		}
		if body.Prompt != nil {
			req.Prompt = *body.Prompt
		}
		if body.Language != nil && strings.TrimSpace(*body.Language) != "" {
			req.Language = *body.Language
		}
		if body.Preprocess != nil {
			req.Preprocess = *body.Preprocess
		}
	}

	refs, err := decodeRefs(raw)
	if err != nil {
		return nil, err
	}
	req.URLs = refs
	return req, nil
}

func decodeRefs(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return operations.SplitReferences(single), nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, &invalidRequestError{msg: "urls must be a string or a list of strings", Detail: err}
	}
	return list, nil
}
