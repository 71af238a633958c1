package enhance

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/models"
)

// OutputSuffix is appended to the source path to name the enhanced copy.
const OutputSuffix = "_preprocessed.jpg"

// Options tunes the enhancement pipeline. DefaultOptions matches the values
// the models were tuned against.
type Options struct {
	ClipLimit      float64
	TileGrid       int
	DenoiseH       float64
	TemplateWindow int
	SearchWindow   int
	BlockSize      int
	C              int
	Quality        int
}

func DefaultOptions() Options {
	return Options{
		ClipLimit:      2.0,
		TileGrid:       8,
		DenoiseH:       3,
		TemplateWindow: 7,
		SearchWindow:   21,
		BlockSize:      11,
		C:              2,
		Quality:        95,
	}
}

// Enhancer turns a photographed or scanned page into a high-contrast binary
// image that vision models read more reliably.
type Enhancer struct {
	opts Options
	log  logger.Logger
}

func New(opts Options, log logger.Logger) *Enhancer {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Enhancer{opts: opts, log: log}
}

// Enhance reads the image at path, runs grayscale, CLAHE, non-local means
// denoising and a language-dependent threshold over it, and writes the
// inverted result next to the source as <path>_preprocessed.jpg. The source
// file is never modified. The output is a pure function of the input bytes
// and language.
func (e *Enhancer) Enhance(ctx context.Context, path, language string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", models.NewError(models.DecodeFailure, "read image", path, err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", models.NewError(models.DecodeFailure, "decode image", path, err)
	}
	gray := toGray(img)
	e.log.Debug("Enhancing %s (%s %dx%d, language %q)", path, format, gray.Rect.Dx(), gray.Rect.Dy(), language)

	out, err := e.Process(ctx, gray, language)
	if err != nil {
		return "", models.NewError(models.DecodeFailure, "enhance image", path, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: e.opts.Quality}); err != nil {
		return "", models.NewError(models.DecodeFailure, "encode image", path, err)
	}
	target := path + OutputSuffix
	if err := os.WriteFile(target, buf.Bytes(), 0600); err != nil {
		return "", models.NewError(models.DecodeFailure, "write image", path, err)
	}
	return target, nil
}

// Process applies the in-memory part of the pipeline to a grayscale image.
func (e *Enhancer) Process(ctx context.Context, gray *image.Gray, language string) (*image.Gray, error) {
	equalized := clahe(gray, e.opts.ClipLimit, e.opts.TileGrid)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	denoised, err := denoise(ctx, equalized, e.opts.DenoiseH, e.opts.TemplateWindow, e.opts.SearchWindow)
	if err != nil {
		return nil, err
	}

	var binary *image.Gray
	if UsesAdaptiveThreshold(language) {
		binary = adaptiveThreshold(denoised, e.opts.BlockSize, e.opts.C)
	} else {
		binary = otsuThreshold(denoised)
	}
	invert(binary)
	return binary, nil
}

// UsesAdaptiveThreshold reports whether the language's scripts are dense
// enough that a global threshold loses strokes.
func UsesAdaptiveThreshold(language string) bool {
	lang := strings.ToLower(strings.TrimSpace(language))
	switch lang {
	case "japanese", "chinese", "korean", "zh", "ja", "ko":
		return true
	}
	return strings.HasPrefix(lang, "zh-") || strings.HasPrefix(lang, "ja-") || strings.HasPrefix(lang, "ko-")
}

// toGray converts to 8-bit luma with ITU-R 601 weights, rebased to (0,0).
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Rect, img, b.Min, draw.Src)
	return gray
}

func invert(img *image.Gray) {
	for i, v := range img.Pix {
		img.Pix[i] = 255 - v
	}
}
