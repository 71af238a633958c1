package batch

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Epistemic-Technology/vision-ocr/internal/acquire"
	"github.com/Epistemic-Technology/vision-ocr/internal/documents"
	"github.com/Epistemic-Technology/vision-ocr/internal/enhance"
	"github.com/Epistemic-Technology/vision-ocr/internal/prompts"
	"github.com/Epistemic-Technology/vision-ocr/models"
)

// fakeClient answers with the decoded image content, optionally delayed or
// failing based on that content.
type fakeClient struct {
	mu      sync.Mutex
	prompts []string
	reply   func(content string) (string, error)
	delay   func(content string) time.Duration
}

func (f *fakeClient) Provider() string { return "fake" }

func (f *fakeClient) Extract(ctx context.Context, req models.ExtractionRequest) (string, error) {
	data, err := base64.StdEncoding.DecodeString(req.EncodedImage)
	if err != nil {
		return "", err
	}
	content := string(data)
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	if f.delay != nil {
		time.Sleep(f.delay(content))
	}
	if f.reply != nil {
		return f.reply(content)
	}
	return "text:" + content, nil
}

// fakeExpander writes one file per page whose content names the page.
type fakeExpander struct {
	pages   int
	err     error
	content func(i int) []byte
}

func (f *fakeExpander) Expand(ctx context.Context, pdfPath string) (*documents.Expansion, error) {
	if f.err != nil {
		return nil, f.err
	}
	dir, err := os.MkdirTemp("", "pdfpages_")
	if err != nil {
		return nil, err
	}
	exp := &documents.Expansion{Dir: dir}
	for i := range f.pages {
		path := filepath.Join(dir, fmt.Sprintf("doc_page%d.png", i))
		data := []byte(fmt.Sprintf("page-%d", i))
		if f.content != nil {
			data = f.content(i)
		}
		os.WriteFile(path, data, 0600)
		exp.Pages = append(exp.Pages, models.PageImage{SourcePath: pdfPath, PageIndex: i, Path: path})
	}
	return exp, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newOrchestrator(t *testing.T, deps Deps) *Orchestrator {
	t.Helper()
	o, err := New(deps, Config{Workers: 4, PageWorkers: 3}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func checkInvariants(t *testing.T, report *models.BatchReport) {
	t.Helper()
	for id := range report.Results {
		if _, ok := report.Errors[id]; ok {
			t.Errorf("%s is in both results and errors", id)
		}
	}
	s := report.Statistics
	if s.Total != len(report.Results)+len(report.Errors) || s.Successful != len(report.Results) || s.Failed != len(report.Errors) {
		t.Errorf("statistics %+v disagree with %d results and %d errors", s, len(report.Results), len(report.Errors))
	}
}

func TestRunPartialFailure(t *testing.T) {
	dir := t.TempDir()
	var inputs []models.SourceReference
	for i := range 6 {
		inputs = append(inputs, models.SourceReference(writeFile(t, dir, fmt.Sprintf("img%d.png", i), fmt.Sprintf("img%d", i))))
	}
	client := &fakeClient{reply: func(content string) (string, error) {
		if content == "img2" || content == "img5" {
			return "", models.Errorf(models.UpstreamModelFailure, "generate", "", "model overloaded")
		}
		return "ok " + content, nil
	}}

	o := newOrchestrator(t, Deps{Client: client})
	report := o.Run(context.Background(), inputs, Options{Format: prompts.Text})

	checkInvariants(t, report)
	if report.Statistics.Total != 6 || report.Statistics.Failed != 2 {
		t.Errorf("statistics = %+v, want 6 total 2 failed", report.Statistics)
	}
	if got := report.Results[string(inputs[0])]; got != "ok img0" {
		t.Errorf("result for img0 = %q", got)
	}
	if !strings.Contains(report.Errors[string(inputs[2])], "model overloaded") {
		t.Errorf("error for img2 = %q", report.Errors[string(inputs[2])])
	}
	if report.BatchID == "" {
		t.Error("Expected a batch id")
	}
}

func TestRunPDFPagesInOrder(t *testing.T) {
	dir := t.TempDir()
	pdf := writeFile(t, dir, "scan.pdf", "%PDF-1.4")

	// Later pages answer first.
	client := &fakeClient{delay: func(content string) time.Duration {
		var n int
		fmt.Sscanf(content, "page-%d", &n)
		return time.Duration(3-n) * 20 * time.Millisecond
	}}
	o := newOrchestrator(t, Deps{Client: client, Expander: &fakeExpander{pages: 3}})

	report := o.Run(context.Background(), []models.SourceReference{models.SourceReference(pdf)}, Options{Format: prompts.Markdown})
	want := "Page 1:\ntext:page-0\nPage 2:\ntext:page-1\nPage 3:\ntext:page-2"
	if got := report.Results[pdf]; got != want {
		t.Errorf("combined text = %q, want %q", got, want)
	}
}

func TestRunPDFPageFailureFailsUnit(t *testing.T) {
	dir := t.TempDir()
	pdf := writeFile(t, dir, "scan.pdf", "%PDF-1.4")
	client := &fakeClient{reply: func(content string) (string, error) {
		if content == "page-1" {
			return "", errors.New("boom")
		}
		return content, nil
	}}
	o := newOrchestrator(t, Deps{Client: client, Expander: &fakeExpander{pages: 3}})

	report := o.Run(context.Background(), []models.SourceReference{models.SourceReference(pdf)}, Options{})
	if _, ok := report.Results[pdf]; ok {
		t.Error("PDF with a failed page should not have a result")
	}
	if !strings.Contains(report.Errors[pdf], "page 2") {
		t.Errorf("error = %q, want mention of page 2", report.Errors[pdf])
	}
}

func TestRunExpanderFailure(t *testing.T) {
	dir := t.TempDir()
	pdf := writeFile(t, dir, "broken.pdf", "garbage")
	expErr := models.Errorf(models.DecodeFailure, "expand pdf", pdf, "invalid pdf")
	o := newOrchestrator(t, Deps{Client: &fakeClient{}, Expander: &fakeExpander{err: expErr}})

	report := o.Run(context.Background(), []models.SourceReference{models.SourceReference(pdf)}, Options{})
	checkInvariants(t, report)
	if report.Statistics.Failed != 1 {
		t.Errorf("statistics = %+v", report.Statistics)
	}
}

func TestRunJSONFormatting(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.png", "good")
	bad := writeFile(t, dir, "bad.png", "bad")
	client := &fakeClient{reply: func(content string) (string, error) {
		if content == "good" {
			return `{"title":"Receipt"}`, nil
		}
		return "Title: Receipt", nil
	}}
	o := newOrchestrator(t, Deps{Client: client})

	report := o.Run(context.Background(), models.References([]string{good, bad}), Options{Format: prompts.JSON})
	if got := report.Results[good]; got != "{\n  \"title\": \"Receipt\"\n}" {
		t.Errorf("good = %q", got)
	}
	if got := report.Results[bad]; got != "Title: Receipt" {
		t.Errorf("bad = %q, want raw text", got)
	}
	if !report.Formatted[good] || report.Formatted[bad] {
		t.Errorf("Formatted = %v", report.Formatted)
	}
}

func TestRunCustomPromptAndLanguage(t *testing.T) {
	dir := t.TempDir()
	img := writeFile(t, dir, "a.png", "a")
	client := &fakeClient{}
	o := newOrchestrator(t, Deps{Client: client})

	o.Run(context.Background(), models.References([]string{img}), Options{Format: prompts.Table, Language: "French"})
	o.Run(context.Background(), models.References([]string{img}), Options{Format: prompts.Table, CustomPrompt: "Only the total"})

	if len(client.prompts) != 2 {
		t.Fatalf("got %d prompts", len(client.prompts))
	}
	if client.prompts[0] != prompts.Template(prompts.Table, "French") {
		t.Errorf("prompt = %q", client.prompts[0])
	}
	if client.prompts[1] != "Only the total" {
		t.Errorf("custom prompt = %q", client.prompts[1])
	}
}

func TestRunRecoversPanics(t *testing.T) {
	dir := t.TempDir()
	calm := writeFile(t, dir, "calm.png", "calm")
	wild := writeFile(t, dir, "wild.png", "wild")
	client := &fakeClient{reply: func(content string) (string, error) {
		if content == "wild" {
			panic("unexpected nil")
		}
		return content, nil
	}}
	o := newOrchestrator(t, Deps{Client: client})

	report := o.Run(context.Background(), models.References([]string{calm, wild}), Options{})
	checkInvariants(t, report)
	if report.Results[calm] != "calm" {
		t.Errorf("calm = %q", report.Results[calm])
	}
	if !strings.Contains(report.Errors[wild], "unexpected nil") {
		t.Errorf("wild error = %q", report.Errors[wild])
	}
}

func TestRunProgress(t *testing.T) {
	dir := t.TempDir()
	var inputs []string
	for i := range 5 {
		inputs = append(inputs, writeFile(t, dir, fmt.Sprintf("%d.jpg", i), "x"))
	}
	var seen []int
	o := newOrchestrator(t, Deps{Client: &fakeClient{}})
	o.Run(context.Background(), models.References(inputs), Options{Progress: func(p Progress) {
		if p.Total != 5 {
			t.Errorf("Total = %d", p.Total)
		}
		seen = append(seen, p.Done)
	}})

	if len(seen) != 5 || seen[4] != 5 {
		t.Errorf("progress calls = %v", seen)
	}
}

func TestRunRemoteWithoutStager(t *testing.T) {
	o := newOrchestrator(t, Deps{Client: &fakeClient{}})
	report := o.Run(context.Background(), models.References([]string{"https://example.com/a.png"}), Options{})
	if report.Statistics.Failed != 1 {
		t.Errorf("statistics = %+v", report.Statistics)
	}
}

func TestRunPreprocessCleansUp(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	png.Encode(&buf, testImage())
	img := writeFile(t, dir, "photo.png", buf.String())

	o := newOrchestrator(t, Deps{Client: &fakeClient{reply: func(string) (string, error) { return "ok", nil }}, Enhancer: enhance.New(enhance.DefaultOptions(), nil)})
	report := o.Run(context.Background(), models.References([]string{img}), Options{Preprocess: true})
	if report.Results[img] != "ok" {
		t.Fatalf("report = %+v", report)
	}
	if _, err := os.Stat(img + enhance.OutputSuffix); !os.IsNotExist(err) {
		t.Error("Enhanced copy was left behind")
	}
	if _, err := os.Stat(img); err != nil {
		t.Error("Source image was removed")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Deps{}, Config{}, nil); !models.IsKind(err, models.ConfigurationError) {
		t.Errorf("New() without client error = %v", err)
	}
	if _, err := New(Deps{Client: &fakeClient{}}, Config{Workers: -1}, nil); !models.IsKind(err, models.ConfigurationError) {
		t.Errorf("New() with negative workers error = %v", err)
	}
	o, err := New(Deps{Client: &fakeClient{}}, Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if o.workers != defaultWorkers || o.pageWorkers != defaultPageWorkers {
		t.Errorf("defaults = %d/%d", o.workers, o.pageWorkers)
	}
}

func testImage() image.Image {
	img := image.NewGray(image.Rect(0, 0, 24, 24))
	for y := range 24 {
		for x := range 24 {
			v := uint8(220)
			if x > 8 && x < 16 && y > 8 && y < 16 {
				v = 30
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestEndToEndMixedInputs(t *testing.T) {
	var pngBuf bytes.Buffer
	png.Encode(&pngBuf, testImage())

	mux := http.NewServeMux()
	mux.HandleFunc("/a.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBuf.Bytes())
	})
	mux.HandleFunc("/b.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF\n"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	transport := acquire.NewRetryTransport(nil, nil)
	transport.BackoffFactor = time.Millisecond
	acquirer, err := acquire.New(acquire.Config{
		Workers:     2,
		Timeout:     5 * time.Second,
		AllowPDF:    true,
		ScratchRoot: t.TempDir(),
		Transport:   transport,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer acquirer.Close()

	o := newOrchestrator(t, Deps{
		Stager:   acquirer,
		Expander: &fakeExpander{pages: 2, content: func(int) []byte { return pngBuf.Bytes() }},
		Enhancer: enhance.New(enhance.DefaultOptions(), nil),
		Client:   &fakeClient{reply: func(string) (string, error) { return "words", nil }},
	})

	inputs := []string{server.URL + "/a.png", server.URL + "/b.pdf", "/missing/path.jpg"}
	report := o.Run(context.Background(), models.References(inputs), Options{Preprocess: true, Language: "en"})

	checkInvariants(t, report)
	if report.Statistics.Total != 2 {
		t.Fatalf("statistics = %+v, want 2 units", report.Statistics)
	}
	if _, ok := report.Results["/missing/path.jpg"]; ok {
		t.Error("missing path appears in results")
	}
	if _, ok := report.Errors["/missing/path.jpg"]; ok {
		t.Error("missing path appears in errors")
	}
	if got := report.Results[inputs[0]]; got != "words" {
		t.Errorf("a.png = %q (errors %v)", got, report.Errors)
	}
	if got := report.Results[inputs[1]]; got != "Page 1:\nwords\nPage 2:\nwords" {
		t.Errorf("b.pdf = %q (errors %v)", got, report.Errors)
	}
}
