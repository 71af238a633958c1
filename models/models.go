package models

import "strings"

// SourceReference is one caller-supplied input: a remote URL, a local path,
// or a Zotero attachment written as "zotero:<itemKey>".
type SourceReference string

const zoteroPrefix = "zotero:"

// IsURL reports whether the reference uses the http or https scheme.
func (r SourceReference) IsURL() bool {
	s := string(r)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// IsZotero reports whether the reference points at a Zotero attachment.
func (r SourceReference) IsZotero() bool {
	return strings.HasPrefix(string(r), zoteroPrefix) && len(r) > len(zoteroPrefix)
}

// IsRemote reports whether the reference has to be acquired before processing.
func (r SourceReference) IsRemote() bool {
	return r.IsURL() || r.IsZotero()
}

// ZoteroKey returns the item key of a Zotero reference.
func (r SourceReference) ZoteroKey() string {
	return strings.TrimPrefix(string(r), zoteroPrefix)
}

func (r SourceReference) String() string {
	return string(r)
}

// References converts plain strings into source references.
func References(values []string) []SourceReference {
	refs := make([]SourceReference, 0, len(values))
	for _, v := range values {
		refs = append(refs, SourceReference(v))
	}
	return refs
}

// FetchOutcome holds the validated bytes of one remote reference
type FetchOutcome struct {
	Content   []byte `json:"-"`
	MediaType string `json:"media_type"`
	Extension string `json:"extension"`
}

// StagedFile binds a remote reference to the local copy written for it
type StagedFile struct {
	Reference SourceReference `json:"reference"`
	Path      string          `json:"path"`
}

// PageImage is one rendered page of a PDF document
type PageImage struct {
	SourcePath string `json:"source_path"`
	PageIndex  int    `json:"page_index"`
	Path       string `json:"path"`
}

type ExtractionRequest struct {
	EncodedImage string `json:"-"`
	Prompt       string `json:"prompt"`
	Model        string `json:"model"`
}

// ExtractionResult is the text extracted for one unit. Formatted is false
// only when JSON output was requested and the model text could not be
// re-serialized as JSON.
type ExtractionResult struct {
	Text      string `json:"text"`
	Format    string `json:"format"`
	Formatted bool   `json:"formatted"`
}

// UnitOutcome is what processing a single unit produces: either a result or
// an error, never both.
type UnitOutcome struct {
	UnitID string
	Result *ExtractionResult
	Err    error
}

type Statistics struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BatchReport aggregates the outcomes of a batch. Every unit id appears in
// exactly one of Results or Errors.
type BatchReport struct {
	BatchID    string            `json:"batch_id,omitempty"`
	Results    map[string]string `json:"results"`
	Errors     map[string]string `json:"errors"`
	Statistics Statistics        `json:"statistics"`
	Formatted  map[string]bool   `json:"formatted,omitempty"`
}

// NewBatchReport returns an empty report with initialized maps.
func NewBatchReport(batchID string) *BatchReport {
	return &BatchReport{
		BatchID: batchID,
		Results: make(map[string]string),
		Errors:  make(map[string]string),
	}
}

// Record folds a unit outcome into the report and keeps the statistics in
// step with the maps.
func (r *BatchReport) Record(outcome UnitOutcome) {
	delete(r.Results, outcome.UnitID)
	delete(r.Errors, outcome.UnitID)
	if r.Formatted != nil {
		delete(r.Formatted, outcome.UnitID)
	}

	switch {
	case outcome.Err != nil:
		r.Errors[outcome.UnitID] = outcome.Err.Error()
	case outcome.Result == nil:
		r.Errors[outcome.UnitID] = "no result produced"
	default:
		r.Results[outcome.UnitID] = outcome.Result.Text
		if outcome.Result.Format == "json" {
			if r.Formatted == nil {
				r.Formatted = make(map[string]bool)
			}
			r.Formatted[outcome.UnitID] = outcome.Result.Formatted
		}
	}

	r.Statistics = Statistics{
		Total:      len(r.Results) + len(r.Errors),
		Successful: len(r.Results),
		Failed:     len(r.Errors),
	}
}
