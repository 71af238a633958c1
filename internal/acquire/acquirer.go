package acquire

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Epistemic-Technology/vision-ocr/internal/documents"
	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/internal/metrics"
	"github.com/Epistemic-Technology/vision-ocr/internal/workerpool"
	"github.com/Epistemic-Technology/vision-ocr/models"
)

const scratchPrefix = "imgproc_"

// Config configures an Acquirer.
type Config struct {
	Workers     int
	Timeout     time.Duration
	KeepScratch bool
	// ScratchRoot is where the session directory is created; empty means
	// the OS temp dir.
	ScratchRoot string
	MaxBytes    int64
	// AllowPDF accepts PDF documents in addition to images.
	AllowPDF  bool
	Transport http.RoundTripper
	Zotero    AttachmentSource
	Metrics   *metrics.Metrics
}

// Acquirer stages remote references into a scratch directory using a
// bounded pool of fetch workers.
type Acquirer struct {
	fetcher     *Fetcher
	zotero      AttachmentSource
	detect      DetectFunc
	workers     int
	keepScratch bool
	root        string
	metrics     *metrics.Metrics
	log         logger.Logger

	mu  sync.Mutex
	dir string
}

// New validates cfg and returns an Acquirer. Worker count and timeout must
// be positive.
func New(cfg Config, log logger.Logger) (*Acquirer, error) {
	if cfg.Workers <= 0 {
		return nil, models.Errorf(models.ConfigurationError, "new acquirer", "", "workers must be a positive integer, got %d", cfg.Workers)
	}
	if cfg.Timeout <= 0 {
		return nil, models.Errorf(models.ConfigurationError, "new acquirer", "", "timeout must be positive, got %s", cfg.Timeout)
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	detect := DetectFunc(documents.DetectImageType)
	if cfg.AllowPDF {
		detect = documents.DetectImageOrPDF
	}

	fetcher := NewFetcher(FetcherConfig{
		Timeout:   cfg.Timeout,
		MaxBytes:  cfg.MaxBytes,
		Detect:    detect,
		Transport: cfg.Transport,
	}, log)

	return &Acquirer{
		fetcher:     fetcher,
		zotero:      cfg.Zotero,
		detect:      detect,
		workers:     cfg.Workers,
		keepScratch: cfg.KeepScratch,
		root:        cfg.ScratchRoot,
		metrics:     cfg.Metrics,
		log:         log,
	}, nil
}

// ScratchDir returns the session directory, creating it on first use.
func (a *Acquirer) ScratchDir() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dir != "" {
		return a.dir, nil
	}
	dir, err := os.MkdirTemp(a.root, scratchPrefix)
	if err != nil {
		return "", err
	}
	a.log.Info("Created scratch directory: %s", dir)
	a.dir = dir
	return dir, nil
}

type acquired struct {
	ref  string
	path string
	err  error
}

// Acquire fetches every reference on the worker pool and writes each
// validated payload to a unique scratch path. The first map holds only the
// references that succeeded; the second holds the reason for every one that
// did not. A failing reference never stops the others.
func (a *Acquirer) Acquire(ctx context.Context, refs []string) (map[string]string, map[string]error) {
	paths := make(map[string]string)
	failures := make(map[string]error)

	unique := dedupe(refs)
	workerpool.Run(ctx, a.workers, unique, func(ctx context.Context, _ int, ref string) acquired {
		path, err := a.Stage(ctx, models.SourceReference(ref))
		return acquired{ref: ref, path: path, err: err}
	}, func(_ int, res acquired) {
		if res.err != nil {
			a.log.Warn("Failed to acquire %s: %v", res.ref, res.err)
			failures[res.ref] = res.err
			return
		}
		a.log.Info("Saved %s -> %s", res.ref, res.path)
		paths[res.ref] = res.path
	})

	return paths, failures
}

// Stage acquires a single remote reference and persists it, returning the
// local path.
func (a *Acquirer) Stage(ctx context.Context, ref models.SourceReference) (string, error) {
	start := time.Now()
	outcome, err := a.fetch(ctx, ref)
	a.metrics.ObserveFetch(models.KindOf(err), time.Since(start))
	if err != nil {
		return "", err
	}

	dir, err := a.ScratchDir()
	if err != nil {
		return "", models.NewError(models.TransientNetworkFailure, "create scratch dir", ref.String(), err)
	}

	name := documents.FilenameFromURL(ref.String())
	if ref.IsZotero() {
		name = documents.SanitizeFilename(ref.ZoteroKey())
	}
	path := documents.UniquePath(dir, name, outcome.Extension)
	if err := os.WriteFile(path, outcome.Content, 0600); err != nil {
		os.Remove(path)
		return "", models.NewError(models.TransientNetworkFailure, "write file", ref.String(), err)
	}
	a.log.Debug("Staged %s (%s) at %s", ref, describe(outcome), path)
	return path, nil
}

func (a *Acquirer) fetch(ctx context.Context, ref models.SourceReference) (*models.FetchOutcome, error) {
	switch {
	case ref.IsURL():
		return a.fetcher.Fetch(ctx, ref.String())
	case ref.IsZotero():
		return a.fetchZotero(ctx, ref)
	default:
		return nil, models.Errorf(models.InvalidContent, "acquire", ref.String(), "not a remote reference")
	}
}

func (a *Acquirer) fetchZotero(ctx context.Context, ref models.SourceReference) (*models.FetchOutcome, error) {
	if a.zotero == nil {
		return nil, models.Errorf(models.ConfigurationError, "acquire", ref.String(), "zotero is not configured")
	}
	data, err := a.zotero.File(ctx, ref.ZoteroKey())
	if err != nil {
		return nil, models.NewError(models.TransientNetworkFailure, "zotero download", ref.String(), err)
	}
	media, ext := a.detect(data)
	if media == "" {
		return nil, models.Errorf(models.InvalidContent, "validate content", ref.String(), "unrecognized file type")
	}
	return &models.FetchOutcome{Content: data, MediaType: media, Extension: ext}, nil
}

// Release removes a staged file unless scratch data is being kept.
func (a *Acquirer) Release(path string) {
	if a.keepScratch || path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.log.Warn("Failed to remove staged file %s: %v", path, err)
	}
}

// Close removes the scratch directory unless KeepScratch was requested.
func (a *Acquirer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dir == "" {
		return nil
	}
	if a.keepScratch {
		a.log.Info("Keeping scratch directory: %s", a.dir)
		return nil
	}
	err := os.RemoveAll(a.dir)
	if err == nil {
		a.log.Info("Removed scratch directory: %s", a.dir)
	}
	a.dir = ""
	return err
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
