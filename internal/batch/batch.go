package batch

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"github.com/Epistemic-Technology/vision-ocr/internal/documents"
	"github.com/Epistemic-Technology/vision-ocr/internal/llm"
	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/internal/metrics"
	"github.com/Epistemic-Technology/vision-ocr/internal/prompts"
	"github.com/Epistemic-Technology/vision-ocr/internal/workerpool"
	"github.com/Epistemic-Technology/vision-ocr/models"
)

const (
	defaultWorkers     = 8
	defaultPageWorkers = 4
)

// Stager downloads a remote reference to a local file.
type Stager interface {
	Stage(ctx context.Context, ref models.SourceReference) (string, error)
	Release(path string)
}

// Expander renders a PDF into page images.
type Expander interface {
	Expand(ctx context.Context, pdfPath string) (*documents.Expansion, error)
}

// Enhancer writes a cleaned-up copy of an image and returns its path.
type Enhancer interface {
	Enhance(ctx context.Context, path, language string) (string, error)
}

// Deps are the collaborators a batch needs. Stager may be nil when every
// input is local.
type Deps struct {
	Stager   Stager
	Expander Expander
	Enhancer Enhancer
	Client   llm.Client
	Metrics  *metrics.Metrics
}

type Config struct {
	Workers     int
	PageWorkers int
	Model       string
}

// Options are chosen per batch by the caller.
type Options struct {
	Format       prompts.Format
	Preprocess   bool
	CustomPrompt string
	Language     string
	Recursive    bool
	// Progress, when set, is called once per finished unit from a single
	// goroutine.
	Progress func(Progress)
}

type Progress struct {
	Done  int
	Total int
	Unit  string
	Err   error
}

// Orchestrator runs batches of OCR units over a bounded worker pool.
type Orchestrator struct {
	deps        Deps
	workers     int
	pageWorkers int
	model       string
	log         logger.Logger
}

func New(deps Deps, cfg Config, log logger.Logger) (*Orchestrator, error) {
	if deps.Client == nil {
		return nil, models.Errorf(models.ConfigurationError, "new batch", "", "inference client is required")
	}
	if cfg.Workers < 0 || cfg.PageWorkers < 0 {
		return nil, models.Errorf(models.ConfigurationError, "new batch", "", "worker counts must be positive")
	}
	if cfg.Workers == 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.PageWorkers == 0 {
		cfg.PageWorkers = defaultPageWorkers
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Orchestrator{
		deps:        deps,
		workers:     cfg.Workers,
		pageWorkers: cfg.PageWorkers,
		model:       cfg.Model,
		log:         log,
	}, nil
}

// Run resolves inputs into units, processes every unit, and reports each
// one under its reference in exactly one of Results or Errors. Inputs that
// do not resolve are left out of the report entirely.
func (o *Orchestrator) Run(ctx context.Context, inputs []models.SourceReference, opts Options) *models.BatchReport {
	report := models.NewBatchReport(uuid.NewString())
	log := o.log.With("batch_id", report.BatchID)
	defer o.deps.Metrics.TrackBatch()()

	units, dropped := Resolve(inputs, opts.Recursive)
	for _, ref := range dropped {
		log.Warn("Skipping %s: not a URL and no such file or directory", ref)
		o.deps.Metrics.IncDropped()
	}
	log.Info("Processing %d units (format %s, preprocess %v, language %q)", len(units), opts.Format, opts.Preprocess, opts.Language)

	done := 0
	workerpool.Run(ctx, o.workers, units, func(ctx context.Context, _ int, ref models.SourceReference) models.UnitOutcome {
		return o.runUnit(ctx, ref, opts, log)
	}, func(_ int, outcome models.UnitOutcome) {
		report.Record(outcome)
		o.deps.Metrics.IncUnit(outcome.Err == nil)
		done++
		if opts.Progress != nil {
			opts.Progress(Progress{Done: done, Total: len(units), Unit: outcome.UnitID, Err: outcome.Err})
		}
	})

	log.Info("Batch finished: %d successful, %d failed", report.Statistics.Successful, report.Statistics.Failed)
	return report
}

// runUnit never panics and never returns both a result and an error.
func (o *Orchestrator) runUnit(ctx context.Context, ref models.SourceReference, opts Options, log logger.Logger) (outcome models.UnitOutcome) {
	outcome.UnitID = ref.String()
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while processing %s: %v\n%s", ref, r, debug.Stack())
			outcome.Result = nil
			outcome.Err = fmt.Errorf("internal error: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		outcome.Err = err
		return outcome
	}

	result, err := o.ProcessUnit(ctx, ref, opts)
	if err != nil {
		log.Warn("Failed to process %s: %v", ref, err)
		outcome.Err = err
		return outcome
	}
	outcome.Result = result
	return outcome
}

// ProcessUnit runs the full pipeline for one reference.
func (o *Orchestrator) ProcessUnit(ctx context.Context, ref models.SourceReference, opts Options) (*models.ExtractionResult, error) {
	path := ref.String()
	if ref.IsRemote() {
		if o.deps.Stager == nil {
			return nil, models.Errorf(models.ConfigurationError, "process unit", path, "remote references need an acquirer")
		}
		staged, err := o.deps.Stager.Stage(ctx, ref)
		if err != nil {
			return nil, err
		}
		defer o.deps.Stager.Release(staged)
		path = staged
	}

	var (
		text string
		err  error
	)
	kind := unitKind(path)
	o.log.Debug("Processing %s as %s", ref, kind)
	if kind == "pdf" {
		text, err = o.processPDF(ctx, path, opts)
	} else {
		text, err = o.processImage(ctx, path, opts)
	}
	if err != nil {
		return nil, err
	}

	formatted, ok := llm.FormatOutput(text, opts.Format)
	return &models.ExtractionResult{Text: formatted, Format: opts.Format.String(), Formatted: ok}, nil
}

type pageText struct {
	text string
	err  error
}

func (o *Orchestrator) processPDF(ctx context.Context, path string, opts Options) (string, error) {
	if o.deps.Expander == nil {
		return "", models.Errorf(models.ConfigurationError, "process pdf", path, "no document expander configured")
	}
	expansion, err := o.deps.Expander.Expand(ctx, path)
	if err != nil {
		return "", err
	}
	defer expansion.Cleanup()

	pages := workerpool.Map(ctx, o.pageWorkers, expansion.Pages, func(ctx context.Context, _ int, page models.PageImage) pageText {
		text, err := o.processImage(ctx, page.Path, opts)
		return pageText{text: text, err: err}
	})

	parts := make([]string, 0, len(pages))
	for i, p := range pages {
		if p.err != nil {
			return "", fmt.Errorf("page %d: %w", i+1, p.err)
		}
		parts = append(parts, fmt.Sprintf("Page %d:\n%s", i+1, p.text))
	}
	return strings.Join(parts, "\n"), nil
}

func (o *Orchestrator) processImage(ctx context.Context, path string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target := path
	if opts.Preprocess && o.deps.Enhancer != nil {
		enhanced, err := o.deps.Enhancer.Enhance(ctx, path, opts.Language)
		if err != nil {
			return "", err
		}
		defer os.Remove(enhanced)
		target = enhanced
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return "", models.NewError(models.DecodeFailure, "read image", path, err)
	}

	return o.deps.Client.Extract(ctx, models.ExtractionRequest{
		EncodedImage: base64.StdEncoding.EncodeToString(data),
		Prompt:       prompts.Select(opts.Format, opts.Language, opts.CustomPrompt),
		Model:        o.model,
	})
}

// unitKind decides by extension first and falls back to the file header:
// "pdf", an image extension, or "unknown".
func unitKind(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return "pdf"
	}
	f, err := os.Open(path)
	if err != nil {
		return "unknown"
	}
	defer f.Close()
	head := make([]byte, max(documents.MaxSignatureLength, 4))
	n, _ := io.ReadFull(f, head)
	return documents.DetectDocumentType(head[:n])
}
