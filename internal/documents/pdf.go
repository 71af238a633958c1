package documents

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/models"
)

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Renderer rasterizes every page of a PDF into outDir and returns the page
// image paths in page order.
type Renderer interface {
	Render(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

// PopplerRenderer renders pages with pdftoppm.
type PopplerRenderer struct {
	Runner Runner
	Binary string
	DPI    int
}

func (r *PopplerRenderer) Render(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	runner := r.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	bin := r.Binary
	if bin == "" {
		bin = "pdftoppm"
	}
	dpi := r.DPI
	if dpi <= 0 {
		dpi = 150
	}

	prefix := filepath.Join(outDir, "page")
	out, err := runner.Run(ctx, bin, "-png", "-r", strconv.Itoa(dpi), pdfPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", bin, err, strings.TrimSpace(string(out)))
	}

	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	// pdftoppm zero-pads page numbers to a common width, but sort numerically
	// anyway so the order never depends on that.
	sort.Slice(matches, func(i, j int) bool {
		return pageNumber(matches[i]) < pageNumber(matches[j])
	})
	return matches, nil
}

func pageNumber(path string) int {
	name := strings.TrimSuffix(filepath.Base(path), ".png")
	idx := strings.LastIndexByte(name, '-')
	n, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return -1
	}
	return n
}

// Expansion is the set of page images rendered from one PDF. Cleanup removes
// every file it owns.
type Expansion struct {
	Dir   string
	Pages []models.PageImage
}

// Cleanup removes the rendered pages. It is safe to call more than once.
func (e *Expansion) Cleanup() error {
	if e == nil || e.Dir == "" {
		return nil
	}
	return os.RemoveAll(e.Dir)
}

// Expander turns PDF documents into ordered page images.
type Expander struct {
	Renderer   Renderer
	ScratchDir string
	Log        logger.Logger
}

// NewExpander returns an Expander that renders with pdftoppm at the given
// resolution.
func NewExpander(dpi int, log logger.Logger) *Expander {
	return &Expander{
		Renderer: &PopplerRenderer{DPI: dpi},
		Log:      log,
	}
}

// PageCount validates a PDF document and returns its page count
func PageCount(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	pdfContext, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return 0, err
	}
	return pdfContext.PageCount, nil
}

// Expand renders every page of the PDF at pdfPath. Pages are written as
// <name>_page<N>.png (N zero-based) into a directory owned by the returned
// Expansion. A document that cannot be opened or fully rendered yields no
// pages at all.
func (e *Expander) Expand(ctx context.Context, pdfPath string) (*Expansion, error) {
	fail := func(err error) (*Expansion, error) {
		return nil, models.NewError(models.DecodeFailure, "expand pdf", pdfPath, err)
	}

	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return fail(err)
	}
	pageCount, err := PageCount(data)
	if err != nil {
		return fail(fmt.Errorf("invalid pdf: %w", err))
	}
	if pageCount == 0 {
		return fail(fmt.Errorf("document has no pages"))
	}

	dir, err := os.MkdirTemp(e.ScratchDir, "pdfpages_")
	if err != nil {
		return fail(err)
	}
	expansion := &Expansion{Dir: dir}

	rendered, err := e.Renderer.Render(ctx, pdfPath, dir)
	if err != nil {
		expansion.Cleanup()
		return fail(err)
	}
	if len(rendered) != pageCount {
		expansion.Cleanup()
		return fail(fmt.Errorf("rendered %d pages, document has %d", len(rendered), pageCount))
	}

	base := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	for i, src := range rendered {
		dst := filepath.Join(dir, fmt.Sprintf("%s_page%d.png", base, i))
		if err := os.Rename(src, dst); err != nil {
			expansion.Cleanup()
			return fail(err)
		}
		expansion.Pages = append(expansion.Pages, models.PageImage{
			SourcePath: pdfPath,
			PageIndex:  i,
			Path:       dst,
		})
	}

	if e.Log != nil {
		e.Log.Debug("Expanded %s into %d pages", pdfPath, len(expansion.Pages))
	}
	return expansion, nil
}
