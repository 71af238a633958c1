package operations

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/Epistemic-Technology/vision-ocr/internal/acquire"
	"github.com/Epistemic-Technology/vision-ocr/internal/batch"
	"github.com/Epistemic-Technology/vision-ocr/internal/config"
	"github.com/Epistemic-Technology/vision-ocr/internal/documents"
	"github.com/Epistemic-Technology/vision-ocr/internal/enhance"
	"github.com/Epistemic-Technology/vision-ocr/internal/llm"
	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/internal/metrics"
	"github.com/Epistemic-Technology/vision-ocr/internal/prompts"
	"github.com/Epistemic-Technology/vision-ocr/models"
)

// Pipeline holds the long-lived pieces every surface shares: one inference
// client behind one throttle, the expander and the enhancer. Acquisition
// sessions are created per call so each call owns its scratch directory.
type Pipeline struct {
	cfg      *config.Config
	deps     batch.Deps
	batchCfg batch.Config
	zotero   acquire.AttachmentSource
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewPipeline wires the components described by cfg.
func NewPipeline(cfg *config.Config, m *metrics.Metrics, log logger.Logger) (*Pipeline, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	throttle := llm.NewThrottle(cfg.InferenceRPS, cfg.BatchWorkers, cfg.InferenceRetries, log)
	client, err := llm.NewClient(cfg, throttle, m, log)
	if err != nil {
		return nil, err
	}
	return NewPipelineWithClient(cfg, client, m, log), nil
}

// NewPipelineWithClient is NewPipeline with a caller-supplied inference
// client.
func NewPipelineWithClient(cfg *config.Config, client llm.Client, m *metrics.Metrics, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	p := &Pipeline{
		cfg: cfg,
		deps: batch.Deps{
			Expander: documents.NewExpander(cfg.PDFDPI, log),
			Enhancer: enhance.New(enhance.DefaultOptions(), log),
			Client:   client,
			Metrics:  m,
		},
		batchCfg: batch.Config{
			Workers:     cfg.BatchWorkers,
			PageWorkers: cfg.PageWorkers,
		},
		metrics: m,
		log:     log,
	}
	if cfg.ZoteroEnabled() {
		p.zotero = acquire.NewZoteroSource(cfg.ZoteroLibraryID, cfg.ZoteroAPIKey)
	}
	return p
}

// SetExpander replaces the PDF expander, mainly so tests can avoid pdftoppm.
func (p *Pipeline) SetExpander(e batch.Expander) {
	p.deps.Expander = e
}

// NewAcquirer opens an acquisition session. allowPDF admits PDF documents
// next to images.
func (p *Pipeline) NewAcquirer(allowPDF bool) (*acquire.Acquirer, error) {
	return acquire.New(acquire.Config{
		Workers:     p.cfg.AcquireWorkers,
		Timeout:     p.cfg.FetchTimeout,
		KeepScratch: p.cfg.KeepScratch,
		MaxBytes:    p.cfg.MaxDownloadBytes,
		AllowPDF:    allowPDF,
		Zotero:      p.zotero,
		Metrics:     p.metrics,
	}, p.log)
}

// ExtractParams are the options a caller may set for one extraction.
type ExtractParams struct {
	Format     string
	Prompt     string
	Language   string
	Preprocess bool
	Recursive  bool
	Progress   func(batch.Progress)
}

func (params ExtractParams) options() batch.Options {
	lang := strings.TrimSpace(params.Language)
	if lang == "" {
		lang = "en"
	}
	return batch.Options{
		Format:       prompts.ParseFormat(params.Format),
		Preprocess:   params.Preprocess,
		CustomPrompt: params.Prompt,
		Language:     lang,
		Recursive:    params.Recursive,
		Progress:     params.Progress,
	}
}

// Batch processes any mix of URLs, Zotero references, files and
// directories. Remote references are downloaded one unit at a time inside the
// batch.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - inputs: References as given by the caller; unresolvable local paths are skipped
//   - params: Output format, prompt, language and preprocessing options
//
// Returns:
//   - report: Results and errors keyed by the caller's references
//   - error: ErrNoReferences for empty input, or a configuration error
func (p *Pipeline) Batch(ctx context.Context, inputs []string, params ExtractParams) (*models.BatchReport, error) {
	inputs = CleanReferences(inputs)
	if len(inputs) == 0 {
		return nil, models.ErrNoReferences
	}

	acquirer, err := p.NewAcquirer(true)
	if err != nil {
		return nil, err
	}
	defer acquirer.Close()

	deps := p.deps
	deps.Stager = acquirer
	orchestrator, err := batch.New(deps, p.batchCfg, p.log)
	if err != nil {
		return nil, err
	}
	return orchestrator.Run(ctx, models.References(inputs), params.options()), nil
}

// Extract is the front-door flow: every reference is downloaded up front
// with the image-only validator, the staged files are processed as one
// batch, and the report is keyed back to the original references. A
// reference that could not be downloaded is reported in Errors.
func (p *Pipeline) Extract(ctx context.Context, refs []string, params ExtractParams) (*models.BatchReport, error) {
	refs = CleanReferences(refs)
	if len(refs) == 0 {
		return nil, models.ErrNoReferences
	}

	acquirer, err := p.NewAcquirer(false)
	if err != nil {
		return nil, err
	}
	defer acquirer.Close()

	staged, failures := acquirer.Acquire(ctx, refs)

	orchestrator, err := batch.New(p.deps, p.batchCfg, p.log)
	if err != nil {
		return nil, err
	}
	origin := make(map[string]string, len(staged))
	paths := make([]models.SourceReference, 0, len(staged))
	for ref, path := range staged {
		origin[path] = ref
		paths = append(paths, models.SourceReference(path))
	}

	var staging *models.BatchReport
	if len(paths) > 0 {
		staging = orchestrator.Run(ctx, paths, params.options())
	} else {
		staging = models.NewBatchReport(uuid.NewString())
	}

	report := rekey(staging, origin, params.options().Format.String())
	for ref, err := range failures {
		report.Record(models.UnitOutcome{UnitID: ref, Err: err})
	}
	return report, nil
}

// Acquire downloads references into a kept scratch directory and returns
// where each one landed.
func (p *Pipeline) Acquire(ctx context.Context, refs []string) (paths map[string]string, failures map[string]string, err error) {
	refs = CleanReferences(refs)
	if len(refs) == 0 {
		return nil, nil, models.ErrNoReferences
	}
	acquirer, err := acquire.New(acquire.Config{
		Workers:     p.cfg.AcquireWorkers,
		Timeout:     p.cfg.FetchTimeout,
		KeepScratch: true,
		MaxBytes:    p.cfg.MaxDownloadBytes,
		AllowPDF:    true,
		Zotero:      p.zotero,
		Metrics:     p.metrics,
	}, p.log)
	if err != nil {
		return nil, nil, err
	}
	defer acquirer.Close()

	paths, errs := acquirer.Acquire(ctx, refs)
	failures = make(map[string]string, len(errs))
	for ref, e := range errs {
		failures[ref] = e.Error()
	}
	return paths, failures, nil
}

// rekey maps a report keyed by staged paths back to the references the
// files were downloaded from.
func rekey(staged *models.BatchReport, origin map[string]string, format string) *models.BatchReport {
	report := models.NewBatchReport(staged.BatchID)
	for path, text := range staged.Results {
		formatted := true
		if f, ok := staged.Formatted[path]; ok {
			formatted = f
		}
		report.Record(models.UnitOutcome{
			UnitID: originOf(origin, path),
			Result: &models.ExtractionResult{Text: text, Format: format, Formatted: formatted},
		})
	}
	for path, msg := range staged.Errors {
		report.Record(models.UnitOutcome{UnitID: originOf(origin, path), Err: errorString(msg)})
	}
	return report
}

func originOf(origin map[string]string, path string) string {
	if ref, ok := origin[path]; ok {
		return ref
	}
	return path
}

type errorString string

func (e errorString) Error() string { return string(e) }

// CleanReferences trims whitespace and drops empty entries.
func CleanReferences(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// SplitReferences accepts a single comma-separated list of references.
func SplitReferences(s string) []string {
	return CleanReferences(strings.Split(s, ","))
}
