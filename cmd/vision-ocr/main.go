package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Epistemic-Technology/vision-ocr/internal/batch"
	"github.com/Epistemic-Technology/vision-ocr/internal/config"
	"github.com/Epistemic-Technology/vision-ocr/internal/export"
	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/internal/operations"
	"github.com/Epistemic-Technology/vision-ocr/internal/prompts"
	"github.com/Epistemic-Technology/vision-ocr/models"
)

type options struct {
	format     string
	language   string
	prompt     string
	preprocess bool
	recursive  bool
	workers    int
	out        string
	envFile    string
	keepTemp   bool
	quiet      bool
}

func parseFlags(args []string) (*options, []string, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("vision-ocr", pflag.ContinueOnError)
	fs.StringVarP(&opts.format, "format", "f", prompts.Markdown.String(), "output format: markdown, text, json, structured, key_value, table")
	fs.StringVarP(&opts.language, "language", "l", "en", "language hint for the prompt and preprocessing")
	fs.StringVarP(&opts.prompt, "prompt", "p", "", "custom instruction, replaces the format's prompt")
	fs.BoolVar(&opts.preprocess, "preprocess", true, "enhance images before inference")
	fs.BoolVarP(&opts.recursive, "recursive", "r", false, "walk directories recursively")
	fs.IntVarP(&opts.workers, "workers", "w", 0, "concurrent units (default BATCH_WORKERS)")
	fs.StringVarP(&opts.out, "out", "o", "", "write the report to a .json or .xlsx file instead of stdout")
	fs.StringVar(&opts.envFile, "env", "", "path to a .env file (default ./.env)")
	fs.BoolVar(&opts.keepTemp, "keep-temp", false, "keep downloaded files after the run")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "no progress output")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vision-ocr [flags] <url|file|dir|zotero:key>...\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if !prompts.Known(opts.format) {
		return nil, nil, fmt.Errorf("unknown format %q", opts.format)
	}
	if opts.workers < 0 {
		return nil, nil, fmt.Errorf("--workers must not be negative")
	}
	return opts, fs.Args(), nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, inputs, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "no inputs given")
		return 2
	}

	log, err := logger.NewLogger(logger.LogConfig{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		log.Error("Failed to load configuration: %v", err)
		return 1
	}
	if opts.workers > 0 {
		cfg.BatchWorkers = opts.workers
	}
	if opts.keepTemp {
		cfg.KeepScratch = true
	}

	pipeline, err := operations.NewPipeline(cfg, nil, log)
	if err != nil {
		log.Error("Failed to build pipeline: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progress func(batch.Progress)
	if !opts.quiet {
		progress = progressLine
	}

	report, err := pipeline.Batch(ctx, inputs, operations.ExtractParams{
		Format:     opts.format,
		Prompt:     opts.prompt,
		Language:   opts.language,
		Preprocess: opts.preprocess,
		Recursive:  opts.recursive,
		Progress:   progress,
	})
	if !opts.quiet {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		log.Error("Batch failed: %v", err)
		return 1
	}

	if opts.out != "" {
		err = export.WriteFile(opts.out, report)
	} else {
		err = export.WriteJSON(os.Stdout, report)
	}
	if err != nil {
		log.Error("Failed to write report: %v", err)
		return 1
	}

	return exitCode(report)
}

func progressLine(p batch.Progress) {
	status := "ok"
	if p.Err != nil {
		status = "failed"
	}
	fmt.Fprintf(os.Stderr, "\r\033[K[%d/%d] %s %s", p.Done, p.Total, status, p.Unit)
}

// exitCode is 1 when nothing succeeded, so scripts can tell a dead endpoint
// from a partial run.
func exitCode(report *models.BatchReport) int {
	if report.Statistics.Total > 0 && report.Statistics.Successful == 0 {
		return 1
	}
	return 0
}
